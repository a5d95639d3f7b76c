// Package lmstest provides an in-process fake of the LMS REST API for tests.
package lmstest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mahan-lms/lms-assistant/internal/infrastructure/external/lms"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
)

// Reply is one canned response.
type Reply struct {
	Status int
	Body   string
}

// Recorded is a request the fake received.
type Recorded struct {
	Method         string
	Path           string // relative to lms.APIPrefix
	Query          map[string]string
	Authorization  string
	IdempotencyKey string
	Body           map[string]any
}

// Server is a scripted LMS. Routes are keyed by "METHOD path" with the path
// relative to lms.APIPrefix, e.g. "GET grades/". Each route plays its replies
// in order and repeats the last one. Re-scripting a route restarts its replies
// but keeps its call count.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string][]Reply
	cursor   map[string]int
	served   map[string]int
	requests []Recorded
}

// NewServer starts a fake LMS whose token endpoint answers {"access":"test-token"}.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		routes: map[string][]Reply{
			"POST " + lms.TokenPath: {{Status: http.StatusOK, Body: `{"access":"test-token","expires_in":3600}`}},
		},
		cursor: map[string]int{},
		served: map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// On scripts the replies for a route.
func (s *Server) On(method, path string, replies ...Reply) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+path] = replies
	s.cursor[method+" "+path] = 0
	return s
}

// OnJSON scripts a single 200 reply.
func (s *Server) OnJSON(method, path, body string) *Server {
	return s.On(method, path, Reply{Status: http.StatusOK, Body: body})
}

// Calls counts requests to a route.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[method+" "+path]
}

// TotalCalls counts every request.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, lms.APIPrefix)
	key := r.Method + " " + path

	rec := Recorded{
		Method:         r.Method,
		Path:           path,
		Query:          map[string]string{},
		Authorization:  r.Header.Get("Authorization"),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for k := range r.URL.Query() {
		rec.Query[k] = r.URL.Query().Get(k)
	}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	replies, ok := s.routes[key]
	n := s.cursor[key]
	s.cursor[key] = n + 1
	s.served[key]++
	s.mu.Unlock()

	if !ok || len(replies) == 0 {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Not found."}`)
		return
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	reply := replies[n]
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_, _ = io.WriteString(w, reply.Body)
}

// Client returns an lms.Client pointed at the fake.
func (s *Server) Client() *lms.Client {
	cfg := lms.DefaultClientConfig(s.URL)
	cfg.Logger = logger.Nop()
	cfg.Timeout = 2 * time.Second
	return lms.NewClient(cfg)
}

// Retrier returns an LMS retrier that never sleeps and records each delay.
func Retrier(maxAttempts int, delays *[]time.Duration) *retry.Retrier {
	var mu sync.Mutex
	return retry.LMSRetrier(maxAttempts, time.Second, 30*time.Second,
		retry.WithLogger(logger.Nop()),
		retry.WithSleep(func(_ context.Context, d time.Duration) error {
			if delays != nil {
				mu.Lock()
				*delays = append(*delays, d)
				mu.Unlock()
			}
			return nil
		}),
	)
}

// DefaultCredentials are the credentials Authenticator falls back to.
var DefaultCredentials = lms.Credentials{Identifier: "0012345678", Secret: "test-pass"}

// Authenticator returns an lms.Authenticator against the fake. cache may be nil.
func (s *Server) Authenticator(r *retry.Retrier, cache lms.TokenCache) *lms.Authenticator {
	return lms.NewAuthenticator(s.Client(), lms.AuthenticatorConfig{
		Defaults: DefaultCredentials,
		Retrier:  r,
		Cache:    cache,
		Logger:   logger.Nop(),
	})
}
