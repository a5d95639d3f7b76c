package lms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
)

// countingServer wraps a handler and counts requests per path.
type countingServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newCountingServer(t *testing.T, h http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newTestClient(baseURL string) *Client {
	cfg := DefaultClientConfig(baseURL)
	cfg.Logger = logger.Nop()
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg)
}

func noSleepRetrier(maxAttempts int) *retry.Retrier {
	return retry.LMSRetrier(maxAttempts, time.Millisecond, time.Second,
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
		retry.WithLogger(logger.Nop()),
	)
}
