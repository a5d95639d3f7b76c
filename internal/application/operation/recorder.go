package operation

import (
	"context"
	"time"
)

// MutationRecord is the audit entry of one mutating invocation.
type MutationRecord struct {
	IdempotencyKey string
	Operation      string
	Method         string
	Path           string
	Success        bool
	Error          string
	Attempts       int
	RecordedAt     time.Time
}

// MutationRecorder persists mutation outcomes so an ambiguous failure can be
// reconciled by idempotency key.
type MutationRecorder interface {
	RecordMutation(ctx context.Context, rec MutationRecord) error
}

// NopRecorder discards records.
type NopRecorder struct{}

func (NopRecorder) RecordMutation(context.Context, MutationRecord) error { return nil }
