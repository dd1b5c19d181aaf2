package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/repo"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/service"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/whatsapp"
)

// ConnectionController is the operator view of the connection manager.
type ConnectionController interface {
	Initialize(ctx context.Context) error
	Disconnect() error
	ResetAttempts()
	Status() model.ConnectionStatus
	CurrentCredential() (string, bool)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req service.Request) model.Report
}

type Handler struct {
	conn       ConnectionController
	dispatch   Dispatcher
	deliveries repo.DeliveryLog
	defaults   model.DeliveryConfig
	// shutdown ends running dispatches; client disconnects do not.
	shutdown context.Context
}

// NewHandler wires the operator surface. deliveries may be nil when no
// delivery log is configured.
func NewHandler(conn ConnectionController, d Dispatcher, deliveries repo.DeliveryLog, defaults model.DeliveryConfig) *Handler {
	return &Handler{
		conn:       conn,
		dispatch:   d,
		deliveries: deliveries,
		defaults:   defaults.WithDefaults(),
		shutdown:   context.Background(),
	}
}

// WithShutdown ties running dispatches to the process lifetime context.
func (h *Handler) WithShutdown(ctx context.Context) *Handler {
	h.shutdown = ctx
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.conn.Status())
}

func (h *Handler) Credential(w http.ResponseWriter, r *http.Request) {
	code, ok := h.conn.CurrentCredential()
	writeJSON(w, http.StatusOK, map[string]any{"available": ok, "credential": code})
}

func (h *Handler) CredentialPNG(w http.ResponseWriter, r *http.Request) {
	code, ok := h.conn.CurrentCredential()
	if !ok {
		http.Error(w, "no pairing code available", http.StatusNotFound)
		return
	}
	png, err := whatsapp.QRPNG(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	// The connection outlives the request.
	if err := h.conn.Initialize(context.WithoutCancel(r.Context())); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "status": h.conn.Status()})
		return
	}
	writeJSON(w, http.StatusAccepted, h.conn.Status())
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.conn.Disconnect(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "status": h.conn.Status()})
		return
	}
	writeJSON(w, http.StatusOK, h.conn.Status())
}

func (h *Handler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	h.conn.ResetAttempts()
	writeJSON(w, http.StatusOK, h.conn.Status())
}

type bulkConfig struct {
	BatchSize      *int    `json:"batchSize"`
	MessageDelayMS *int    `json:"messageDelayMs"`
	BatchDelayMS   *int    `json:"batchDelayMs"`
	MaxRetries     *int    `json:"maxRetries"`
	Backend        *string `json:"backend"`
}

type bulkRequest struct {
	Contacts    []model.Contact    `json:"contacts"`
	Message     string             `json:"message"`
	Attachments []model.Attachment `json:"attachments"`
	Config      *bulkConfig        `json:"config"`
}

func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateContacts(body.Contacts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := h.merge(body.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A dispatch runs to completion once accepted; only process shutdown
	// cancels it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(h.shutdown, cancel)
	defer stop()

	report := h.dispatch.Dispatch(ctx, service.Request{
		Contacts:    body.Contacts,
		Template:    body.Message,
		Attachments: body.Attachments,
		Config:      cfg,
	})
	writeJSON(w, http.StatusOK, report)
}

// merge applies request overrides to the process defaults. Omitted fields
// keep the default; an explicit override must be positive.
func (h *Handler) merge(c *bulkConfig) (model.DeliveryConfig, error) {
	cfg := h.defaults
	if c == nil {
		return cfg, nil
	}
	if c.BatchSize != nil {
		if *c.BatchSize <= 0 {
			return cfg, errors.New("config.batchSize must be > 0")
		}
		cfg.BatchSize = *c.BatchSize
	}
	if c.MessageDelayMS != nil {
		if *c.MessageDelayMS <= 0 {
			return cfg, errors.New("config.messageDelayMs must be > 0")
		}
		cfg.MessageDelay = time.Duration(*c.MessageDelayMS) * time.Millisecond
	}
	if c.BatchDelayMS != nil {
		if *c.BatchDelayMS <= 0 {
			return cfg, errors.New("config.batchDelayMs must be > 0")
		}
		cfg.BatchDelay = time.Duration(*c.BatchDelayMS) * time.Millisecond
	}
	if c.MaxRetries != nil {
		if *c.MaxRetries <= 0 {
			return cfg, errors.New("config.maxRetries must be > 0")
		}
		cfg.MaxRetries = *c.MaxRetries
	}
	if c.Backend != nil {
		cfg.Backend = model.BackendKind(*c.Backend)
	}
	return cfg.WithDefaults(), nil
}

func validateContacts(contacts []model.Contact) error {
	for i, c := range contacts {
		if c.ID == "" {
			return fmt.Errorf("contacts[%d]: id is required", i)
		}
	}
	return nil
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	if h.deliveries == nil {
		http.Error(w, "delivery log not configured", http.StatusServiceUnavailable)
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.deliveries.ListSent(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.DeliveryRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
