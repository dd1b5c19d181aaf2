package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/connection"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/normalize"
)

// SessionSource hands out the live session when the connection is ready.
type SessionSource interface {
	Session() (connection.Session, bool)
}

// Automation delivers through the logged-in session transport.
type Automation struct {
	sessions SessionSource
	log      *slog.Logger
	now      func() time.Time
}

var _ Backend = (*Automation)(nil)

func NewAutomation(sessions SessionSource, logger *slog.Logger) *Automation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Automation{
		sessions: sessions,
		log:      logger.With("component", "automation_backend"),
		now:      time.Now,
	}
}

func (b *Automation) Kind() model.BackendKind { return model.BackendAutomation }

func (b *Automation) Send(ctx context.Context, c model.Contact, message string, attachments []model.Attachment) (res model.MessageResult) {
	defer recoverInto(&res, c.ID)

	sess, ok := b.sessions.Session()
	if !ok {
		return failure(c.ID, ErrTransportNotReady)
	}

	chat := normalize.ChatID(c.Phone)
	resolved, found, err := sess.Resolve(ctx, chat)
	switch {
	case err != nil:
		b.log.WarnContext(ctx, "chat lookup failed, sending directly", "contact_id", c.ID, "chat", chat, "error", err)
	case found:
		chat = resolved
	}

	id, err := sess.SendText(ctx, chat, normalize.Personalize(message, c.Name))
	if err != nil {
		return failure(c.ID, fmt.Errorf("%w: %v", ErrSendFailure, err))
	}

	for _, a := range attachments {
		if _, err := sess.SendFile(ctx, chat, a.Location()); err != nil {
			return failure(c.ID, fmt.Errorf("%w: attachment %s: %v", ErrSendFailure, a.Name, err))
		}
	}

	if id == "" {
		id = fmt.Sprintf("msg_%d", b.now().UnixMilli())
	}
	return success(c.ID, id)
}
