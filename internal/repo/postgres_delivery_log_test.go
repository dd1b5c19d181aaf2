package repo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
)

func TestPostgresDeliveryLog_Record(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	msgID := "wamid.1"
	rec := model.DeliveryRecord{
		RunID:     "run-1",
		ContactID: "c1",
		Phone:     "15551234567",
		Status:    model.Sent,
		MessageID: &msgID,
		Backend:   "automation",
	}

	t.Run("Success", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		r := NewPostgresDeliveryLog(mockPool, logger)

		mockPool.ExpectExec(`INSERT INTO delivery_log`).
			WithArgs("run-1", "c1", "15551234567", "sent", &msgID, (*string)(nil), "automation").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, r.Record(context.Background(), rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ExecError", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		r := NewPostgresDeliveryLog(mockPool, logger)

		expectedError := errors.New("DB error")
		mockPool.ExpectExec(`INSERT INTO delivery_log`).
			WithArgs("run-1", "c1", "15551234567", "sent", &msgID, (*string)(nil), "automation").
			WillReturnError(expectedError)

		err = r.Record(context.Background(), rec)
		assert.ErrorIs(t, err, expectedError)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresDeliveryLog_ListSent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	columns := []string{"id", "run_id", "contact_id", "phone", "status", "message_id", "last_error", "backend", "created_at"}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgID := "wamid.7"

	t.Run("ReturnsRows", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		r := NewPostgresDeliveryLog(mockPool, logger)

		rows := mockPool.NewRows(columns).
			AddRow(int64(7), "run-1", "c1", "15551234567", "sent", &msgID, (*string)(nil), "api", created)
		mockPool.ExpectQuery(`SELECT id, run_id, contact_id, phone, status, message_id, last_error, backend, created_at\s+FROM delivery_log`).
			WithArgs(10, 5).
			WillReturnRows(rows)

		got, err := r.ListSent(context.Background(), 10, 5)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(7), got[0].ID)
		assert.Equal(t, model.Sent, got[0].Status)
		require.NotNil(t, got[0].MessageID)
		assert.Equal(t, "wamid.7", *got[0].MessageID)
		assert.Nil(t, got[0].LastError)
		assert.Equal(t, created, got[0].CreatedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ClampsLimitAndOffset", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		r := NewPostgresDeliveryLog(mockPool, logger)

		mockPool.ExpectQuery(`FROM delivery_log`).
			WithArgs(50, 0).
			WillReturnRows(mockPool.NewRows(columns))

		got, err := r.ListSent(context.Background(), 0, -3)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("QueryError", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		r := NewPostgresDeliveryLog(mockPool, logger)

		expectedError := errors.New("DB down")
		mockPool.ExpectQuery(`FROM delivery_log`).
			WithArgs(50, 0).
			WillReturnError(expectedError)

		_, err = r.ListSent(context.Background(), 50, 0)
		assert.ErrorIs(t, err, expectedError)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresDeliveryLog_EnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	r := NewPostgresDeliveryLog(mockPool, nil)

	mockPool.ExpectExec(`CREATE TABLE IF NOT EXISTS delivery_log`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	assert.NoError(t, r.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordFromResult(t *testing.T) {
	c := model.Contact{ID: "c9", Phone: "1555"}

	ok := RecordFromResult("run", model.BackendAPI, c, model.MessageResult{ContactID: "c9", Success: true, MessageID: "m"})
	assert.Equal(t, model.Sent, ok.Status)
	require.NotNil(t, ok.MessageID)
	assert.Equal(t, "m", *ok.MessageID)
	assert.Nil(t, ok.LastError)
	assert.Equal(t, "api", ok.Backend)

	bad := RecordFromResult("run", model.BackendAutomation, c, model.MessageResult{ContactID: "c9", Error: "nope"})
	assert.Equal(t, model.Failed, bad.Status)
	assert.Nil(t, bad.MessageID)
	require.NotNil(t, bad.LastError)
	assert.Equal(t, "nope", *bad.LastError)
}
