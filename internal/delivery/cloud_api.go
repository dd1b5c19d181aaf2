package delivery

import (
	"context"
	"log/slog"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/normalize"
)

type TextSender interface {
	SendText(ctx context.Context, token, phoneNumberID, to, body string) (messageID string, err error)
}

// CloudAPI delivers through the hosted WhatsApp Business HTTP API.
type CloudAPI struct {
	client        TextSender
	token         string
	phoneNumberID string
	log           *slog.Logger
}

var _ Backend = (*CloudAPI)(nil)

func NewCloudAPI(client TextSender, token, phoneNumberID string, logger *slog.Logger) *CloudAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudAPI{
		client:        client,
		token:         token,
		phoneNumberID: phoneNumberID,
		log:           logger.With("component", "cloud_api_backend"),
	}
}

func (b *CloudAPI) Kind() model.BackendKind { return model.BackendAPI }

func (b *CloudAPI) Send(ctx context.Context, c model.Contact, message string, attachments []model.Attachment) (res model.MessageResult) {
	defer recoverInto(&res, c.ID)

	if b.token == "" || b.phoneNumberID == "" {
		return failure(c.ID, ErrCredentialsMissing)
	}
	if len(attachments) > 0 {
		b.log.DebugContext(ctx, "attachments are not sent by the cloud api backend", "contact_id", c.ID, "count", len(attachments))
	}

	id, err := b.client.SendText(ctx, b.token, b.phoneNumberID, normalize.Phone(c.Phone), normalize.Personalize(message, c.Name))
	if err != nil {
		return failure(c.ID, err)
	}
	return success(c.ID, id)
}
