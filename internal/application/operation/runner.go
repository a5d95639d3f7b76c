package operation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mahan-lms/lms-assistant/internal/infrastructure/external/lms"
	"github.com/mahan-lms/lms-assistant/internal/infrastructure/metrics"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/result"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
	"github.com/mahan-lms/lms-assistant/pkg/timeutil"
)

// AuthFailedPrefix prefixes the error of an operation whose authentication failed.
const AuthFailedPrefix = "Authentication failed: "

// Doer performs one HTTP exchange with the LMS.
type Doer interface {
	Do(ctx context.Context, req lms.Request) (*lms.Response, error)
}

// TokenSource hands out bearer tokens as envelopes.
type TokenSource interface {
	Authenticate(ctx context.Context, identifier, secret string) result.Envelope
	Refresh(ctx context.Context, identifier, secret string) result.Envelope
}

// Config wires a Runner.
type Config struct {
	Client   Doer
	Auth     TokenSource
	Retrier  *retry.Retrier
	Recorder MutationRecorder
	Clock    timeutil.Clock
	Logger   *slog.Logger
	Metrics  *metrics.LMS
	// NewKey generates idempotency keys. Default: uuid.NewString.
	NewKey func() string
}

// Runner executes operation specs.
type Runner struct {
	client   Doer
	auth     TokenSource
	retrier  *retry.Retrier
	recorder MutationRecorder
	clock    timeutil.Clock
	logger   *slog.Logger
	metrics  *metrics.LMS
	newKey   func() string
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.LMSRetrier(3, time.Second, 30*time.Second, retry.WithLogger(cfg.Logger))
	}
	if cfg.NewKey == nil {
		cfg.NewKey = uuid.NewString
	}
	return &Runner{
		client:   cfg.Client,
		auth:     cfg.Auth,
		retrier:  cfg.Retrier,
		recorder: cfg.Recorder,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With(logger.Component("operation")),
		metrics:  cfg.Metrics,
		newKey:   cfg.NewKey,
	}
}

// call is the state of one invocation.
type call struct {
	spec      Spec
	args      Args
	req       lms.Request
	token     lms.AccessToken
	attempts  int
	refreshed bool
	log       *slog.Logger
}

// Run executes spec with args. It never panics on LMS input and never returns
// an error: every outcome is an envelope.
func (r *Runner) Run(ctx context.Context, spec Spec, args Args) result.Envelope {
	start := r.clock.Now()
	log := r.logger.With(logger.Operation(spec.Name), logger.RequestID(uuid.NewString()))

	env, c := r.run(ctx, spec, args, log)

	if spec.Mutating && c != nil {
		r.record(ctx, c, env)
	}

	elapsed := r.clock.Now().Sub(start)
	r.metrics.ObserveOperation(spec.Name, env.Success, string(env.Kind), elapsed)
	if env.Success {
		log.Info("operation succeeded", logger.Latency(elapsed))
	} else {
		log.Warn("operation failed", "kind", string(env.Kind), "error", env.Error, logger.Latency(elapsed))
	}
	return env
}

func (r *Runner) run(ctx context.Context, spec Spec, args Args, log *slog.Logger) (result.Envelope, *call) {
	if args == nil {
		args = Args{}
	}

	if err := spec.validate(args); err != nil {
		return result.Fail(err.Error(), nil).WithKind(result.KindValidation), nil
	}

	authEnv := r.auth.Authenticate(ctx, "", "")
	if !authEnv.Success {
		return authFailure(authEnv), nil
	}
	token, err := lms.TokenFrom(authEnv)
	if err != nil {
		return result.Failf(result.KindAuthentication, "%s%v", AuthFailedPrefix, err), nil
	}

	c := &call{
		spec:  spec,
		args:  args,
		token: token,
		log:   log,
		req: lms.Request{
			Endpoint: spec.Endpoint,
			Method:   spec.Method,
			Path:     spec.path(args),
			Query:    spec.query(args),
			Token:    token.Token,
		},
	}
	if c.req.Method == "" {
		c.req.Method = http.MethodGet
	}
	if spec.Mutating {
		c.req.IdempotencyKey = r.newKey()
		if spec.Body != nil {
			c.req.Body = spec.Body(args)
		}
		c.log = c.log.With(logger.IdempotencyKey(c.req.IdempotencyKey))
	}

	env := r.retrier.DoEnvelope(ctx, func(ctx context.Context) (result.Envelope, error) {
		return r.attempt(ctx, c)
	})
	return env, c
}

// attempt issues one primary request. A 401 on a cached token triggers a
// single re-authentication within the same attempt.
func (r *Runner) attempt(ctx context.Context, c *call) (result.Envelope, error) {
	c.attempts++
	if c.attempts > 1 {
		r.metrics.IncRetry(c.spec.Name)
	}

	resp, err := r.client.Do(ctx, c.req)
	if se, ok := lms.AsStatus(err); ok && se.Unauthorized() && c.token.Cached && !c.refreshed {
		c.refreshed = true
		c.log.Info("cached token rejected, re-authenticating")

		fresh := r.auth.Refresh(ctx, "", "")
		if !fresh.Success {
			return authFailure(fresh), nil
		}
		token, tokenErr := lms.TokenFrom(fresh)
		if tokenErr != nil {
			return result.Failf(result.KindAuthentication, "%s%v", AuthFailedPrefix, tokenErr), nil
		}
		c.token = token
		c.req.Token = token.Token
		resp, err = r.client.Do(ctx, c.req)
	}
	if err != nil {
		return result.Envelope{}, err
	}

	return r.parse(c, resp), nil
}

func (r *Runner) parse(c *call, resp *lms.Response) result.Envelope {
	now := timeutil.UnixSeconds(r.clock.Now())

	switch c.spec.Shape {
	case ShapeList:
		var dto lms.ListResponseDTO
		if err := resp.Decode(&dto); err != nil {
			return result.Failf(result.KindMalformedResponse, "invalid %s response: %v", c.spec.Endpoint, err)
		}
		items := []any{}
		if len(dto.Results) > 0 && string(dto.Results) != "null" {
			if err := json.Unmarshal(dto.Results, &items); err != nil {
				return result.Failf(result.KindMalformedResponse, "invalid %s results: %v", c.spec.Endpoint, err)
			}
		}
		md := map[string]any{
			c.spec.CountKey: len(items),
			"timestamp":     now,
		}
		if dto.Count != nil && *dto.Count != len(items) {
			md["total_count"] = *dto.Count
		}
		return result.OK(items, md)

	default:
		md := c.spec.identity(c.args)
		md["timestamp"] = now
		if c.req.IdempotencyKey != "" {
			md["idempotency_key"] = c.req.IdempotencyKey
		}
		if len(resp.Body) == 0 {
			md["status_code"] = resp.StatusCode
			return result.OK(nil, md)
		}
		var data any
		if err := resp.Decode(&data); err != nil {
			return result.Failf(result.KindMalformedResponse, "invalid %s response: %v", c.spec.Endpoint, err)
		}
		return result.OK(data, md)
	}
}

func (r *Runner) record(ctx context.Context, c *call, env result.Envelope) {
	rec := MutationRecord{
		IdempotencyKey: c.req.IdempotencyKey,
		Operation:      c.spec.Name,
		Method:         c.req.Method,
		Path:           c.req.Path,
		Success:        env.Success,
		Error:          env.Error,
		Attempts:       c.attempts,
		RecordedAt:     r.clock.Now(),
	}
	if err := r.recorder.RecordMutation(ctx, rec); err != nil {
		c.log.Error("failed to record mutation outcome", logger.Err(err))
	}
}

// authFailure prefixes an authentication envelope. Transport failures keep
// their kind so callers can tell an unreachable LMS from rejected credentials.
func authFailure(env result.Envelope) result.Envelope {
	kind := result.KindAuthentication
	if env.Kind == result.KindTransport {
		kind = result.KindTransport
	}
	return env.Prefixed(AuthFailedPrefix).WithKind(kind)
}
