package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
)

type fakeDB struct {
	errs  []error
	calls int
	args  [][]any
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.calls++
	f.args = append(f.args, args)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{pgx.ErrNoRows}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func noSleep() *retry.Retrier {
	return retry.DatabaseRetrier(
		retry.WithLogger(logger.Nop()),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
}

func sampleRecord() operation.MutationRecord {
	return operation.MutationRecord{
		IdempotencyKey: "6f1c2d3e-0000-4000-8000-000000000001",
		Operation:      "book_room",
		Method:         "POST",
		Path:           "bookings/",
		Success:        true,
		Attempts:       2,
		RecordedAt:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.FixedZone("IRST", 12600)),
	}
}

func TestMutationLog_Record(t *testing.T) {
	db := &fakeDB{}
	log := NewMutationLog(db, WithRetrier(noSleep()), WithLogger(logger.Nop()))

	require.NoError(t, log.RecordMutation(context.Background(), sampleRecord()))

	require.Equal(t, 1, db.calls)
	args := db.args[0]
	assert.Equal(t, "6f1c2d3e-0000-4000-8000-000000000001", args[0])
	assert.Equal(t, "book_room", args[1])
	assert.Equal(t, true, args[4])
	assert.Equal(t, 2, args[6])
	assert.Equal(t, time.UTC, args[7].(time.Time).Location())
}

func TestMutationLog_RetriesTransientErrors(t *testing.T) {
	db := &fakeDB{errs: []error{&pgconn.PgError{Code: "40001"}}}
	log := NewMutationLog(db, WithRetrier(noSleep()), WithLogger(logger.Nop()))

	require.NoError(t, log.RecordMutation(context.Background(), sampleRecord()))
	assert.Equal(t, 2, db.calls)
}

func TestMutationLog_PermanentErrorNotRetried(t *testing.T) {
	db := &fakeDB{errs: []error{&pgconn.PgError{Code: "42P01", Message: "relation does not exist"}}}
	log := NewMutationLog(db, WithRetrier(noSleep()), WithLogger(logger.Nop()))

	err := log.RecordMutation(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record mutation 6f1c2d3e-0000-4000-8000-000000000001")
	assert.Equal(t, 1, db.calls)
}

func TestMutationLog_FindMissing(t *testing.T) {
	log := NewMutationLog(&fakeDB{}, WithLogger(logger.Nop()))

	_, err := log.Find(context.Background(), "missing")
	assert.True(t, IsNoRows(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
}

func TestGetMigrations(t *testing.T) {
	migs := GetMigrations()
	require.Len(t, migs, 1)
	assert.Equal(t, 1, migs[0].Version)
	assert.Contains(t, migs[0].UpSQL, "CREATE TABLE IF NOT EXISTS mutation_log")
}

// TestMutationLog_Postgres runs against POSTGRES_TEST_URL when set.
func TestMutationLog_Postgres(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()

	conn, err := NewConnection(ctx, DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, NewMigrator(conn).Migrate(ctx))

	log := NewMutationLog(conn, WithLogger(logger.Nop()))
	rec := sampleRecord()
	rec.IdempotencyKey = uuid.NewString()
	rec.Success = false
	rec.Error = "API call failed after 3 attempts"
	require.NoError(t, log.RecordMutation(ctx, rec))

	rec.Success, rec.Error, rec.Attempts = true, "", 1
	require.NoError(t, log.RecordMutation(ctx, rec))

	got, err := log.Find(ctx, rec.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "book_room", got.Operation)
	assert.True(t, rec.RecordedAt.Equal(got.RecordedAt))
}
