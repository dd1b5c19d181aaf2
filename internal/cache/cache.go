package cache

import (
	"context"
	"time"
)

// MessageCache remembers provider message ids of successful sends.
type MessageCache interface {
	StoreSent(ctx context.Context, runID, contactID, messageID string, sentAt time.Time) error
}
