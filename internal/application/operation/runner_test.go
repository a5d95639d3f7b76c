package operation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahan-lms/lms-assistant/internal/infrastructure/external/lms"
	"github.com/mahan-lms/lms-assistant/internal/infrastructure/external/lms/lmstest"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/result"
	"github.com/mahan-lms/lms-assistant/pkg/timeutil"
)

var gradesByStudent = Spec{
	Name:     "get_student_grades",
	Endpoint: "grades",
	Method:   http.MethodGet,
	Path:     "grades/",
	Required: []Param{{Name: "student_id", Query: "user", Label: "Student ID"}},
	Optional: []Filter{{Name: "date_from", Query: "date_from"}},
	Shape:    ShapeList,
	CountKey: "student_grades_length",
}

var studentDetail = Spec{
	Name:     "get_student_by_id",
	Endpoint: "students",
	Path:     "students/{student_id}/",
	Required: []Param{{Name: "student_id", Label: "Student ID"}},
	Shape:    ShapeEntity,
}

var submit = Spec{
	Name:     "submit_homework_response",
	Endpoint: "homework-responses",
	Method:   http.MethodPost,
	Path:     "homework-responses/",
	Required: []Param{
		{Name: "homework_id", Label: "Homework ID"},
		{Name: "content", Label: "Submission content", Hidden: true},
	},
	Shape:    ShapeEntity,
	Mutating: true,
	Body: func(a Args) any {
		return map[string]any{"homework": a.Get("homework_id"), "content": a.Get("content")}
	},
}

type memRecorder struct {
	mu      sync.Mutex
	records []MutationRecord
	err     error
}

func (m *memRecorder) RecordMutation(_ context.Context, rec MutationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

type fixture struct {
	srv      *lmstest.Server
	runner   *Runner
	delays   []time.Duration
	recorder *memRecorder
	clock    *timeutil.FixedClock
}

func newFixture(t *testing.T, cache lms.TokenCache) *fixture {
	t.Helper()
	f := &fixture{
		srv:      lmstest.NewServer(t),
		recorder: &memRecorder{},
		clock:    &timeutil.FixedClock{T: time.Unix(1700000000, 0)},
	}
	f.runner = NewRunner(Config{
		Client:   f.srv.Client(),
		Auth:     f.srv.Authenticator(lmstest.Retrier(3, nil), cache),
		Retrier:  lmstest.Retrier(3, &f.delays),
		Recorder: f.recorder,
		Clock:    f.clock,
		Logger:   logger.Nop(),
		NewKey:   func() string { return "idem-1" },
	})
	return f
}

func TestRun_StudentGradesEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodGet, "grades/", `{"results":[{"score":18},{"score":16}]}`)

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "2720"})

	require.True(t, env.Success, env.Error)
	assert.Equal(t, []any{
		map[string]any{"score": float64(18)},
		map[string]any{"score": float64(16)},
	}, env.Data)
	assert.Equal(t, map[string]any{
		"student_grades_length": 2,
		"timestamp":             float64(1700000000),
	}, env.Metadata)

	assert.Equal(t, 1, f.srv.Calls(http.MethodPost, lms.TokenPath))
	assert.Equal(t, 1, f.srv.Calls(http.MethodGet, "grades/"))

	reqs := f.srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer test-token", reqs[1].Authorization)
	assert.Equal(t, map[string]string{"user": "2720"}, reqs[1].Query)
	assert.Empty(t, reqs[1].IdempotencyKey)
}

func TestRun_BlankRequiredParamMakesNoCalls(t *testing.T) {
	f := newFixture(t, nil)

	for _, v := range []string{"", "   ", "\t\n"} {
		env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": v})
		assert.Equal(t, "Student ID cannot be empty", env.Error)
		assert.Equal(t, result.KindValidation, env.Kind)
		assert.Nil(t, env.Data)
	}
	env := f.runner.Run(context.Background(), gradesByStudent, nil)
	assert.True(t, env.Is(result.KindValidation))

	assert.Zero(t, f.srv.TotalCalls())
}

func TestRun_CheckFailureIsValidation(t *testing.T) {
	f := newFixture(t, nil)
	spec := gradesByStudent
	spec.Check = func(Args) error { return errors.New("date range ends before it starts") }

	env := f.runner.Run(context.Background(), spec, Args{"student_id": "1"})

	assert.True(t, env.Is(result.KindValidation))
	assert.Zero(t, f.srv.TotalCalls())
}

func TestRun_OptionalFiltersForwarded(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodGet, "grades/", `{"results":[]}`)

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "9", "date_from": "2024-01-01", "ignored": "x"})

	require.True(t, env.Success)
	assert.Equal(t, []any{}, env.Data)
	assert.Equal(t, 0, env.Metadata["student_grades_length"])
	reqs := f.srv.Requests()
	assert.Equal(t, map[string]string{"user": "9", "date_from": "2024-01-01"}, reqs[len(reqs)-1].Query)
}

func TestRun_AuthenticationFailurePrefixed(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodPost, lms.TokenPath, `{}`)

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "2720"})

	assert.Equal(t, "Authentication failed: Authentication succeeded but token missing", env.Error)
	assert.Equal(t, result.KindAuthentication, env.Kind)
	assert.Equal(t, 0, f.srv.Calls(http.MethodGet, "grades/"))
}

func TestRun_AuthenticationTransportFailureKeepsKind(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.On(http.MethodPost, lms.TokenPath, lmstest.Reply{Status: http.StatusBadGateway})

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "2720"})

	assert.Equal(t, "Authentication failed: API call failed after 3 attempts: POST token/: 502 Bad Gateway", env.Error)
	assert.Equal(t, result.KindTransport, env.Kind)
}

func TestRun_TransportRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.On(http.MethodGet, "grades/",
		lmstest.Reply{Status: http.StatusServiceUnavailable},
		lmstest.Reply{Status: http.StatusInternalServerError},
		lmstest.Reply{Body: `{"results":[{"score":20}]}`},
	)

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	require.True(t, env.Success)
	assert.Equal(t, 1, env.Count())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.delays)
	// One authentication, three primary attempts.
	assert.Equal(t, 1, f.srv.Calls(http.MethodPost, lms.TokenPath))
	assert.Equal(t, 3, f.srv.Calls(http.MethodGet, "grades/"))
}

func TestRun_TransportExhausted(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.On(http.MethodGet, "grades/", lmstest.Reply{Status: http.StatusServiceUnavailable, Body: `{"detail":"down"}`})

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	assert.Equal(t, "API call failed after 3 attempts: GET grades/: 503 Service Unavailable: down", env.Error)
	assert.Equal(t, result.KindTransport, env.Kind)
	assert.Nil(t, env.Data)
}

func TestRun_MalformedListIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodGet, "grades/", `{"results":{"oops":true}}`)

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	assert.True(t, env.Is(result.KindMalformedResponse))
	assert.Equal(t, 1, f.srv.Calls(http.MethodGet, "grades/"))
}

func TestRun_MissingResultsIsEmptyList(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodGet, "grades/", `{"count":0}`)

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	require.True(t, env.Success)
	assert.Equal(t, []any{}, env.Data)
}

func TestRun_TotalCountReportedWhenPaginated(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodGet, "grades/", `{"count":40,"next":"p2","results":[{"score":1}]}`)

	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	require.True(t, env.Success)
	assert.Equal(t, 40, env.Metadata["total_count"])
}

func TestRun_EntityDetail(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodGet, "students/12/", `{"id":12,"name":"Sara"}`)

	env := f.runner.Run(context.Background(), studentDetail, Args{"student_id": "12"})

	require.True(t, env.Success, env.Error)
	assert.Equal(t, map[string]any{"id": float64(12), "name": "Sara"}, env.Data)
	assert.Equal(t, "12", env.Metadata["student_id"])
	assert.Equal(t, float64(1700000000), env.Metadata["timestamp"])
}

func TestRun_MutationIdempotencyKeyStableAcrossRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.On(http.MethodPost, "homework-responses/",
		lmstest.Reply{Status: http.StatusGatewayTimeout},
		lmstest.Reply{Status: http.StatusCreated, Body: `{"id":99,"status":"submitted"}`},
	)

	env := f.runner.Run(context.Background(), submit, Args{"homework_id": "5", "content": "my answer"})

	require.True(t, env.Success, env.Error)
	assert.Equal(t, "idem-1", env.Metadata["idempotency_key"])
	assert.Equal(t, "5", env.Metadata["homework_id"])
	assert.NotContains(t, env.Metadata, "content")

	var keys []string
	for _, r := range f.srv.Requests() {
		if r.Path == "homework-responses/" {
			keys = append(keys, r.IdempotencyKey)
			assert.Equal(t, "my answer", r.Body["content"])
		}
	}
	assert.Equal(t, []string{"idem-1", "idem-1"}, keys)

	require.Len(t, f.recorder.records, 1)
	rec := f.recorder.records[0]
	assert.Equal(t, "idem-1", rec.IdempotencyKey)
	assert.Equal(t, "submit_homework_response", rec.Operation)
	assert.True(t, rec.Success)
	assert.Equal(t, 2, rec.Attempts)
}

func TestRun_MutationFailureRecordedAndRecorderErrorsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.recorder.err = errors.New("db down")
	f.srv.On(http.MethodPost, "homework-responses/", lmstest.Reply{Status: http.StatusInternalServerError})

	env := f.runner.Run(context.Background(), submit, Args{"homework_id": "5", "content": "x"})

	assert.True(t, env.Is(result.KindTransport))
	require.Len(t, f.recorder.records, 1)
	assert.False(t, f.recorder.records[0].Success)
	assert.Equal(t, 3, f.recorder.records[0].Attempts)
}

func TestRun_ValidationFailureNotRecorded(t *testing.T) {
	f := newFixture(t, nil)

	env := f.runner.Run(context.Background(), submit, Args{"homework_id": "5"})

	assert.Equal(t, "Submission content cannot be empty", env.Error)
	assert.Empty(t, f.recorder.records)
}

func TestRun_StaleCachedTokenRefreshedOnce(t *testing.T) {
	clock := &timeutil.FixedClock{T: time.Now()}
	cache := lms.NewMemoryTokenCache(clock)
	f := newFixture(t, cache)

	f.srv.OnJSON(http.MethodGet, "grades/", `{"results":[]}`)
	require.True(t, f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"}).Success)
	require.Equal(t, 1, f.srv.Calls(http.MethodPost, lms.TokenPath))

	// The LMS revokes the cached token; the next call re-authenticates once.
	f.srv.On(http.MethodGet, "grades/",
		lmstest.Reply{Status: http.StatusUnauthorized, Body: `{"detail":"Token is invalid or expired"}`},
		lmstest.Reply{Body: `{"results":[{"score":1}]}`},
	)
	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	require.True(t, env.Success, env.Error)
	assert.Equal(t, 2, f.srv.Calls(http.MethodPost, lms.TokenPath))
	assert.Empty(t, f.delays, "refresh happens inside the attempt, without backoff")
}

func TestRun_RepeatedUnauthorizedDoesNotLoop(t *testing.T) {
	clock := &timeutil.FixedClock{T: time.Now()}
	cache := lms.NewMemoryTokenCache(clock)
	f := newFixture(t, cache)

	f.srv.OnJSON(http.MethodGet, "grades/", `{"results":[]}`)
	require.True(t, f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"}).Success)

	f.srv.On(http.MethodGet, "grades/", lmstest.Reply{Status: http.StatusUnauthorized})
	env := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "401 Unauthorized")
	// One refresh only, then the ordinary retry budget.
	assert.Equal(t, 2, f.srv.Calls(http.MethodPost, lms.TokenPath))
	assert.Equal(t, 1+1+3, f.srv.Calls(http.MethodGet, "grades/"))
}

func TestRun_IdenticalCallsYieldIdenticalData(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.OnJSON(http.MethodGet, "grades/", `{"results":[{"id":1},{"id":2}]}`)

	first := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})
	second := f.runner.Run(context.Background(), gradesByStudent, Args{"student_id": "1"})

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 2, f.srv.Calls(http.MethodPost, lms.TokenPath))
}
