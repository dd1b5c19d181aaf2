package connection

import "context"

// Transport opens a session-based messaging connection. ctx bounds the open
// call only; the returned session lives until Close. Events for the session
// are delivered on the returned channel, which the transport closes when the
// session is gone.
type Transport interface {
	Open(ctx context.Context) (Session, <-chan Event, error)
}

// Session is an open transport connection for one account.
type Session interface {
	// Resolve looks up an existing conversation for a channel id.
	Resolve(ctx context.Context, id string) (chat string, ok bool, err error)
	SendText(ctx context.Context, chat, text string) (messageID string, err error)
	SendFile(ctx context.Context, chat, path string) (messageID string, err error)
	Close() error
}

type EventKind int

const (
	EventCredential EventKind = iota
	EventReady
	EventAuthenticated
	EventAuthFailure
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventCredential:
		return "credential"
	case EventReady:
		return "ready"
	case EventAuthenticated:
		return "authenticated"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	// Code is the pairing credential for EventCredential.
	Code   string
	Reason string
	// LoggedOut marks a disconnect that must not be retried.
	LoggedOut bool
}
