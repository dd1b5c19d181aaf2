// Package delivery defines the interchangeable send backends used by the
// dispatcher.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
)

var (
	ErrTransportNotReady  = errors.New("WhatsApp client is not ready")
	ErrCredentialsMissing = errors.New("WhatsApp Business API credentials not configured")
	ErrSendFailure        = errors.New("send failed")
	ErrUnknownBackend     = errors.New("unknown delivery backend")
)

// Backend sends one personalized message to one contact. Implementations
// never panic or return errors past Send; every failure is reported in the
// result.
type Backend interface {
	Kind() model.BackendKind
	Send(ctx context.Context, c model.Contact, message string, attachments []model.Attachment) model.MessageResult
}

func failure(contactID string, err error) model.MessageResult {
	return model.MessageResult{ContactID: contactID, Success: false, Error: err.Error()}
}

func success(contactID, messageID string) model.MessageResult {
	return model.MessageResult{ContactID: contactID, Success: true, MessageID: messageID}
}

// recoverInto turns a panic in a backend into a failure result.
func recoverInto(res *model.MessageResult, contactID string) {
	if r := recover(); r != nil {
		*res = failure(contactID, fmt.Errorf("%w: panic: %v", ErrSendFailure, r))
	}
}

type Registry struct {
	backends map[model.BackendKind]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[model.BackendKind]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Kind()] = b
	}
	return r
}

// Select returns the single backend used for a dispatch.
func (r *Registry) Select(kind model.BackendKind) (Backend, error) {
	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
	return b, nil
}
