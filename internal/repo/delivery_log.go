package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
)

// DeliveryLog persists the final outcome of every contact in every run.
type DeliveryLog interface {
	Record(ctx context.Context, rec model.DeliveryRecord) error
	ListSent(ctx context.Context, limit, offset int) ([]model.DeliveryRecord, error)
}

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
