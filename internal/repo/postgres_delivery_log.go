package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_log (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL,
	contact_id  TEXT NOT NULL,
	phone       TEXT NOT NULL,
	status      TEXT NOT NULL,
	message_id  TEXT,
	last_error  TEXT,
	backend     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS delivery_log_status_created_idx ON delivery_log (status, created_at DESC)`

type PostgresDeliveryLog struct {
	db     DB
	logger *slog.Logger
}

var _ DeliveryLog = (*PostgresDeliveryLog)(nil)

func NewPostgresDeliveryLog(db DB, logger *slog.Logger) *PostgresDeliveryLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDeliveryLog{db: db, logger: logger.With("component", "delivery_log_pg")}
}

func (r *PostgresDeliveryLog) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure delivery_log schema: %w", err)
	}
	return nil
}

func (r *PostgresDeliveryLog) Record(ctx context.Context, rec model.DeliveryRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO delivery_log (run_id, contact_id, phone, status, message_id, last_error, backend)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.RunID, rec.ContactID, rec.Phone, string(rec.Status), rec.MessageID, rec.LastError, rec.Backend)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to record delivery", "run_id", rec.RunID, "contact_id", rec.ContactID, "error", err)
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (r *PostgresDeliveryLog) ListSent(ctx context.Context, limit, offset int) ([]model.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, run_id, contact_id, phone, status, message_id, last_error, backend, created_at
		FROM delivery_log
		WHERE status = 'sent'
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	defer rows.Close()

	var out []model.DeliveryRecord
	for rows.Next() {
		var rec model.DeliveryRecord
		var status string
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.ContactID,
			&rec.Phone,
			&status,
			&rec.MessageID,
			&rec.LastError,
			&rec.Backend,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		rec.Status = model.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordFromResult builds the persisted form of a final dispatch result.
func RecordFromResult(runID string, backend model.BackendKind, c model.Contact, res model.MessageResult) model.DeliveryRecord {
	rec := model.DeliveryRecord{
		RunID:     runID,
		ContactID: c.ID,
		Phone:     c.Phone,
		Status:    res.Status(),
		Backend:   string(backend),
	}
	if res.MessageID != "" {
		id := res.MessageID
		rec.MessageID = &id
	}
	if res.Error != "" {
		e := res.Error
		rec.LastError = &e
	}
	return rec
}
