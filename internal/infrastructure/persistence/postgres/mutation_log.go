package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
)

// MutationLog persists the outcome of every mutating LMS call. A failed
// submission whose response was lost can be reconciled later by its
// idempotency key.
type MutationLog struct {
	db           Querier
	retrier      *retry.Retrier
	queryTimeout time.Duration
	logger       *slog.Logger
}

var _ operation.MutationRecorder = (*MutationLog)(nil)

// MutationLogOption configures a MutationLog.
type MutationLogOption func(*MutationLog)

// WithRetrier replaces the database retrier.
func WithRetrier(r *retry.Retrier) MutationLogOption {
	return func(m *MutationLog) { m.retrier = r }
}

// WithQueryTimeout bounds each statement.
func WithQueryTimeout(d time.Duration) MutationLogOption {
	return func(m *MutationLog) { m.queryTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MutationLogOption {
	return func(m *MutationLog) { m.logger = l }
}

// NewMutationLog creates a MutationLog over db, usually a *Connection.
func NewMutationLog(db Querier, opts ...MutationLogOption) *MutationLog {
	m := &MutationLog{
		db:           db,
		queryTimeout: 5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retrier == nil {
		m.retrier = retry.DatabaseRetrier(retry.WithLogger(m.logger))
	}
	m.logger = m.logger.With(logger.Component("mutation-log"))
	return m
}

const upsertMutation = `
INSERT INTO mutation_log (idempotency_key, operation, method, path, success, error, attempts, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (idempotency_key) DO UPDATE SET
    success = EXCLUDED.success,
    error = EXCLUDED.error,
    attempts = EXCLUDED.attempts,
    recorded_at = EXCLUDED.recorded_at`

// RecordMutation stores rec. Recording the same key twice keeps the latest outcome.
func (m *MutationLog) RecordMutation(ctx context.Context, rec operation.MutationRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	err := m.retrier.Do(ctx, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
		defer cancel()

		_, err := m.db.Exec(qctx, upsertMutation,
			rec.IdempotencyKey, rec.Operation, rec.Method, rec.Path,
			rec.Success, rec.Error, rec.Attempts, rec.RecordedAt.UTC(),
		)
		if err != nil && IsTransient(err) {
			return retry.Retryable(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("record mutation %s: %w", rec.IdempotencyKey, err)
	}

	m.logger.Debug("mutation recorded",
		logger.Operation(rec.Operation),
		logger.IdempotencyKey(rec.IdempotencyKey),
		"success", rec.Success,
	)
	return nil
}

const selectMutation = `
SELECT idempotency_key::text, operation, method, path, success, error, attempts, recorded_at
FROM mutation_log
WHERE idempotency_key = $1`

// Find returns the record for key, or ErrNoRows.
func (m *MutationLog) Find(ctx context.Context, key string) (operation.MutationRecord, error) {
	qctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	var rec operation.MutationRecord
	err := m.db.QueryRow(qctx, selectMutation, key).Scan(
		&rec.IdempotencyKey, &rec.Operation, &rec.Method, &rec.Path,
		&rec.Success, &rec.Error, &rec.Attempts, &rec.RecordedAt,
	)
	if err != nil {
		return operation.MutationRecord{}, err
	}
	return rec, nil
}
