package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mahan-lms/lms-assistant/internal/infrastructure/metrics"
	"github.com/mahan-lms/lms-assistant/pkg/circuitbreaker"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// APIPrefix is prepended to every resource path.
const APIPrefix = "/external-services/api/v1/"

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 << 20

// ClientConfig contains configuration for the LMS API client.
type ClientConfig struct {
	// BaseURL is the LMS host, e.g. https://api.mahanls.com
	BaseURL string

	// StaticAccessKey is sent as bearer when a request carries no token.
	//
	// Deprecated: operations authenticate per call. Kept for deployments that
	// still provision API_ACCESS_KEY.
	StaticAccessKey string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// Breaker guards the transport. Nil disables circuit breaking.
	Breaker *circuitbreaker.CircuitBreaker

	// HTTPClient overrides the default client (tests, custom transports).
	HTTPClient *http.Client

	// Logger for structured logging
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.LMS
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           10 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Request describes one HTTP exchange with the LMS.
type Request struct {
	// Endpoint is a low-cardinality name used for metrics, e.g. "grades".
	Endpoint string

	Method string
	// Path is relative to APIPrefix, e.g. "grades/" or "students/12/".
	Path  string
	Query url.Values
	Body  any

	// Token is the bearer token. Empty falls back to the deprecated static key.
	Token string

	// Anonymous suppresses the Authorization header entirely.
	Anonymous bool

	// IdempotencyKey is sent as Idempotency-Key on mutating requests.
	IdempotencyKey string
}

// Response is a 2xx answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Client is the LMS REST API client. It is safe for concurrent use.
type Client struct {
	config      ClientConfig
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	metrics     *metrics.LMS

	staticKeyWarning sync.Once
}

// NewClient creates a new LMS API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:      config,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		httpClient:  httpClient,
		logger:      config.Logger.With(logger.Component("lms-client")),
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     config.Breaker,
		metrics:     config.Metrics,
	}
}

// URL returns the absolute URL for a resource path.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + APIPrefix + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Do performs exactly one HTTP exchange. Transport failures and non-2xx
// statuses are returned wrapped in retry.Retryable; an open circuit is
// returned wrapped in retry.Permanent.
//
// The rate limiter is consulted before the breaker: waiting on our own
// bucket says nothing about the health of the LMS.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := c.rateLimiter.Allow(ctx); err != nil {
		return nil, retry.Retryable(&TransportError{Method: req.Method, Path: req.Path, Err: err})
	}

	if c.breaker == nil {
		return c.doSingleRequest(ctx, req)
	}

	var resp *Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.doSingleRequest(ctx, req)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		c.logger.Warn("lms circuit open, failing fast", logger.Path(req.Path))
		return nil, retry.Permanent(fmt.Errorf("%s %s: %w", req.Method, req.Path, err))
	}
	return resp, err
}

// IsBreakerFailure reports whether err should count against the circuit
// breaker. Client errors (bad id, rejected credentials) and local throttling
// do not.
func IsBreakerFailure(err error) bool {
	if retry.IsPermanent(err) {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return false
	}
	if se, ok := AsStatus(err); ok {
		return se.ServerSide()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, req Request) (*Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		jsonBody, err := json.Marshal(req.Body)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.URL(req.Path, req.Query), bodyReader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(req); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(req.Endpoint, 0)
		return nil, retry.Retryable(&TransportError{Method: req.Method, Path: req.Path, Err: err})
	}
	defer resp.Body.Close()

	c.metrics.ObserveRequest(req.Endpoint, resp.StatusCode)
	c.logger.Debug("lms api request",
		"method", req.Method,
		logger.Path(req.Path),
		logger.StatusCode(resp.StatusCode),
		logger.Latency(time.Since(start)),
	)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, retry.Retryable(&TransportError{Method: req.Method, Path: req.Path, Err: fmt.Errorf("read response: %w", err)})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(respBody),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			statusErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			c.rateLimiter.RecordRateLimitHit(statusErr.RetryAfter)
		}
		return nil, retry.Retryable(statusErr)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (c *Client) bearer(req Request) string {
	if req.Anonymous {
		return ""
	}
	if req.Token != "" {
		return req.Token
	}
	if c.config.StaticAccessKey != "" {
		c.staticKeyWarning.Do(func() {
			c.logger.Warn("using deprecated static LMS access key; configure LMS_USERNAME and LMS_PASSWORD instead")
		})
		return c.config.StaticAccessKey
	}
	return ""
}

func errorDetail(body []byte) string {
	var apiErr APIErrorDTO
	if err := json.Unmarshal(body, &apiErr); err == nil {
		return apiErr.Text()
	}
	return ""
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a snapshot of the client's guards.
type ClientStatus struct {
	RateLimiter RateLimiterStatus `json:"rate_limiter"`
	Breaker     *BreakerStatus    `json:"breaker,omitempty"`
}

// BreakerStatus describes the circuit breaker of a client.
type BreakerStatus struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Open                bool   `json:"open"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalFailures       int    `json:"total_failures"`
	Requests            int    `json:"requests"`
}

// Healthy reports whether requests currently reach the LMS.
func (s ClientStatus) Healthy() bool {
	return s.Breaker == nil || !s.Breaker.Open
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	s := ClientStatus{RateLimiter: c.rateLimiter.Status()}
	if c.breaker != nil {
		counts := c.breaker.Counts()
		s.Breaker = &BreakerStatus{
			Name:                c.breaker.Name(),
			State:               c.breaker.State().String(),
			Open:                c.breaker.IsOpen(),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			TotalFailures:       counts.TotalFailures,
			Requests:            counts.Requests,
		}
	}
	return s
}
