// Package whatsapp implements the automation transport on top of the
// WhatsApp Web multi-device protocol.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	_ "modernc.org/sqlite"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/connection"
)

const (
	sqliteDriver  = "sqlite"
	sqliteDialect = "sqlite3"
	storeFile     = "session.db"
)

// Transport opens whatsmeow clients backed by a device store in a session
// directory.
type Transport struct {
	dir string
	log *slog.Logger
}

var _ connection.Transport = (*Transport)(nil)

func NewTransport(sessionDir string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{dir: sessionDir, log: logger.With("component", "whatsapp_transport")}
}

func (t *Transport) dsn() string {
	return "file:" + filepath.Join(t.dir, storeFile) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (t *Transport) Open(ctx context.Context) (connection.Session, <-chan connection.Event, error) {
	db, err := sql.Open(sqliteDriver, t.dsn())
	if err != nil {
		return nil, nil, fmt.Errorf("open device store: %w", err)
	}

	container := sqlstore.NewWithDB(db, sqliteDialect, newLogger(t.log, "Database"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("upgrade device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, newLogger(t.log, "Client"))
	// Reconnection is owned by the connection manager.
	client.EnableAutoReconnect = false

	s := newSession(client, db, t.log)
	client.AddEventHandler(s.onEvent)

	if client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			_ = db.Close()
			return nil, nil, fmt.Errorf("get qr channel: %w", err)
		}
		s.stopQR = cancel
		go s.forwardQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	t.log.Info("whatsapp client connecting", "paired", client.Store.ID != nil)
	return s, s.events, nil
}

// translate maps whatsmeow events onto connection events. ok is false for
// events the manager does not care about.
func translate(evt interface{}) (ev connection.Event, ok bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return connection.Event{Kind: connection.EventReady}, true
	case *events.PairSuccess:
		return connection.Event{Kind: connection.EventAuthenticated}, true
	case *events.LoggedOut:
		return connection.Event{
			Kind:      connection.EventDisconnected,
			Reason:    fmt.Sprintf("logged out: %v", e.Reason),
			LoggedOut: true,
		}, true
	case *events.StreamReplaced:
		// Another client took over the same credentials; retrying would fight it.
		return connection.Event{
			Kind:      connection.EventDisconnected,
			Reason:    "stream replaced",
			LoggedOut: true,
		}, true
	case *events.TemporaryBan:
		return connection.Event{
			Kind:      connection.EventDisconnected,
			Reason:    fmt.Sprintf("temporary ban: %v (expires in %s)", e.Code, e.Expire),
			LoggedOut: true,
		}, true
	case *events.Disconnected:
		return connection.Event{Kind: connection.EventDisconnected, Reason: "connection closed"}, true
	case *events.ConnectFailure:
		return connection.Event{
			Kind:   connection.EventAuthFailure,
			Reason: fmt.Sprintf("connect failure %v: %s", e.Reason, e.Message),
		}, true
	case *events.ClientOutdated:
		return connection.Event{Kind: connection.EventAuthFailure, Reason: "client outdated"}, true
	}
	return connection.Event{}, false
}

// translateQR maps a pairing channel item onto a connection event.
func translateQR(item whatsmeow.QRChannelItem) (ev connection.Event, ok bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return connection.Event{Kind: connection.EventCredential, Code: item.Code}, true
	case whatsmeow.QRChannelSuccess.Event:
		return connection.Event{}, false
	case whatsmeow.QRChannelTimeout.Event:
		return connection.Event{Kind: connection.EventAuthFailure, Reason: "pairing timed out"}, true
	}
	reason := item.Event
	if item.Error != nil {
		reason = fmt.Sprintf("%s: %v", item.Event, item.Error)
	}
	return connection.Event{Kind: connection.EventAuthFailure, Reason: reason}, true
}
