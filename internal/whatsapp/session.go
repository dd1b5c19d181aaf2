package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/connection"
)

var errEmptyChat = errors.New("empty chat id")

type session struct {
	client *whatsmeow.Client
	db     *sql.DB
	log    *slog.Logger

	events chan connection.Event
	stopQR context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

var _ connection.Session = (*session)(nil)

func newSession(client *whatsmeow.Client, db *sql.DB, logger *slog.Logger) *session {
	return &session{
		client: client,
		db:     db,
		log:    logger,
		events: make(chan connection.Event, 16),
	}
}

func (s *session) emit(ev connection.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *session) onEvent(evt interface{}) {
	if ev, ok := translate(evt); ok {
		s.emit(ev)
	}
}

func (s *session) forwardQR(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		if ev, ok := translateQR(item); ok {
			s.emit(ev)
		}
	}
}

func (s *session) Resolve(ctx context.Context, id string) (string, bool, error) {
	jid, err := types.ParseJID(id)
	if err != nil {
		return "", false, fmt.Errorf("parse jid %q: %w", id, err)
	}

	infos, err := s.client.IsOnWhatsApp(ctx, []string{"+" + jid.User})
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", jid.User, err)
	}
	if len(infos) == 0 || !infos[0].IsIn {
		return "", false, nil
	}
	return infos[0].JID.String(), true, nil
}

func (s *session) SendText(ctx context.Context, chat, text string) (string, error) {
	jid, err := parseChat(chat)
	if err != nil {
		return "", err
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return resp.ID, nil
}

func (s *session) SendFile(ctx context.Context, chat, path string) (string, error) {
	jid, err := parseChat(chat)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}

	mimetype := mime.TypeByExtension(filepath.Ext(path))
	if mimetype == "" {
		mimetype = http.DetectContentType(data)
	}

	msg, err := s.mediaMessage(ctx, data, mimetype, filepath.Base(path))
	if err != nil {
		return "", err
	}

	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("send attachment: %w", err)
	}
	return resp.ID, nil
}

func (s *session) mediaMessage(ctx context.Context, data []byte, mimetype, name string) (*waE2E.Message, error) {
	if strings.HasPrefix(mimetype, "image/") {
		up, err := s.client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	}

	up, err := s.client.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(mimetype),
		Title:         proto.String(name),
		FileName:      proto.String(name),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	if s.stopQR != nil {
		s.stopQR()
	}
	s.client.Disconnect()
	s.log.Info("whatsapp session closed")
	return s.db.Close()
}

func parseChat(chat string) (types.JID, error) {
	if chat == "" {
		return types.EmptyJID, errEmptyChat
	}
	jid, err := types.ParseJID(chat)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse chat %q: %w", chat, err)
	}
	return jid, nil
}
