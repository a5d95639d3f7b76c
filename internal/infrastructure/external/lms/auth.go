package lms

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mahan-lms/lms-assistant/internal/infrastructure/metrics"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/result"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
	"github.com/mahan-lms/lms-assistant/pkg/timeutil"
)

// TokenPath is the token endpoint, relative to APIPrefix.
const TokenPath = "token/"

// MsgTokenMissing is the failure for a 2xx token response without an access token.
const MsgTokenMissing = "Authentication succeeded but token missing"

// AuthenticatorConfig wires an Authenticator.
type AuthenticatorConfig struct {
	// Defaults fill in whichever credential field a caller leaves blank.
	Defaults Credentials

	// Retrier wraps each token request. Required.
	Retrier *retry.Retrier

	// Cache is optional. Nil means every call fetches a fresh token.
	Cache TokenCache

	// RefreshSkew drops cached tokens this long before they expire.
	RefreshSkew time.Duration

	Clock   timeutil.Clock
	Logger  *slog.Logger
	Metrics *metrics.LMS
}

// Authenticator exchanges credentials for bearer tokens.
type Authenticator struct {
	client   *Client
	defaults Credentials
	retrier  *retry.Retrier
	cache    TokenCache
	skew     time.Duration
	clock    timeutil.Clock
	logger   *slog.Logger
	metrics  *metrics.LMS
}

// NewAuthenticator creates an Authenticator on top of client.
func NewAuthenticator(client *Client, cfg AuthenticatorConfig) *Authenticator {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.LMSRetrier(3, time.Second, 30*time.Second, retry.WithLogger(cfg.Logger))
	}
	return &Authenticator{
		client:   client,
		defaults: cfg.Defaults,
		retrier:  cfg.Retrier,
		cache:    cfg.Cache,
		skew:     cfg.RefreshSkew,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With(logger.Component("authenticator")),
		metrics:  cfg.Metrics,
	}
}

// Resolve applies the configured defaults to whichever field is blank.
func (a *Authenticator) Resolve(identifier, secret string) Credentials {
	creds := Credentials{Identifier: strings.TrimSpace(identifier), Secret: secret}
	if creds.Identifier == "" {
		creds.Identifier = a.defaults.Identifier
	}
	if creds.Secret == "" {
		creds.Secret = a.defaults.Secret
	}
	return creds
}

// Authenticate obtains a token for the given credentials, falling back to the
// configured defaults. On success Data is an AccessToken and metadata carries
// "timestamp"; a token served from the cache also carries "cached": true.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, secret string) result.Envelope {
	creds := a.Resolve(identifier, secret)
	if creds.Identifier == "" || creds.Secret == "" {
		a.metrics.ObserveAuth(metrics.SourceRemote, false)
		return result.Fail(ErrNoCredentials.Error(), nil).WithKind(result.KindAuthentication)
	}

	if token, ok := a.cached(ctx, creds); ok {
		a.metrics.ObserveAuth(metrics.SourceCache, true)
		return result.OK(token, map[string]any{
			"timestamp": timeutil.UnixSeconds(a.clock.Now()),
			"cached":    true,
		})
	}

	return a.fetch(ctx, creds)
}

// Refresh drops any cached token for the credentials and fetches a new one.
func (a *Authenticator) Refresh(ctx context.Context, identifier, secret string) result.Envelope {
	creds := a.Resolve(identifier, secret)
	a.Invalidate(ctx, creds)
	if creds.Identifier == "" || creds.Secret == "" {
		return result.Fail(ErrNoCredentials.Error(), nil).WithKind(result.KindAuthentication)
	}
	return a.fetch(ctx, creds)
}

// Invalidate removes the cached token for creds, if any.
func (a *Authenticator) Invalidate(ctx context.Context, creds Credentials) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, creds.CacheKey()); err != nil {
		a.logger.Warn("token cache delete failed", "credentials", creds, logger.Err(err))
	}
}

func (a *Authenticator) cached(ctx context.Context, creds Credentials) (AccessToken, bool) {
	if a.cache == nil {
		return AccessToken{}, false
	}
	token, ok, err := a.cache.Get(ctx, creds.CacheKey())
	if err != nil {
		a.logger.Warn("token cache read failed", "credentials", creds, logger.Err(err))
		return AccessToken{}, false
	}
	if !ok || token.IsExpired(a.clock.Now(), a.skew) {
		return AccessToken{}, false
	}
	token.Cached = true
	return token, true
}

func (a *Authenticator) fetch(ctx context.Context, creds Credentials) result.Envelope {
	env := a.retrier.DoEnvelope(ctx, func(ctx context.Context) (result.Envelope, error) {
		return a.requestToken(ctx, creds)
	})

	a.metrics.ObserveAuth(metrics.SourceRemote, env.Success)
	a.logger.Info("authentication finished", "credentials", creds, "success", env.Success)

	if !env.Success {
		return env
	}

	if a.cache != nil {
		token := env.Data.(AccessToken)
		ttl := token.ExpiresAt().Sub(a.clock.Now()) - a.skew
		if err := a.cache.Set(ctx, creds.CacheKey(), token, ttl); err != nil {
			a.logger.Warn("token cache write failed", "credentials", creds, logger.Err(err))
		}
	}
	return env
}

// requestToken performs one token attempt. Rejections and malformed bodies
// come back as final envelopes; only transport failures are returned as errors.
func (a *Authenticator) requestToken(ctx context.Context, creds Credentials) (result.Envelope, error) {
	resp, err := a.client.Do(ctx, Request{
		Endpoint:  "token",
		Method:    http.MethodPost,
		Path:      TokenPath,
		Body:      TokenRequestDTO{NationalCode: creds.Identifier, Password: creds.Secret},
		Anonymous: true,
	})
	if err != nil {
		if se, ok := AsStatus(err); ok && se.Rejected() {
			return result.Failf(result.KindAuthentication, "token endpoint rejected credentials: %s", se.Error()), nil
		}
		return result.Envelope{}, err
	}

	var dto TokenResponseDTO
	if err := resp.Decode(&dto); err != nil {
		return result.Failf(result.KindMalformedResponse, "invalid token response: %v", err), nil
	}
	if strings.TrimSpace(dto.Access) == "" {
		return result.Fail(MsgTokenMissing, nil).WithKind(result.KindAuthentication), nil
	}

	expiresIn := DefaultTokenLifetime
	if dto.ExpiresIn != nil && *dto.ExpiresIn > 0 {
		expiresIn = *dto.ExpiresIn
	}

	now := a.clock.Now()
	return result.OK(AccessToken{
		Token:     dto.Access,
		ExpiresIn: expiresIn,
		IssuedAt:  now,
	}, map[string]any{"timestamp": timeutil.UnixSeconds(now)}), nil
}

// TokenFrom extracts the AccessToken from a successful Authenticate envelope.
func TokenFrom(env result.Envelope) (AccessToken, error) {
	token, ok := env.Data.(AccessToken)
	if !env.Success || !ok {
		return AccessToken{}, errors.New("envelope does not carry an access token")
	}
	return token, nil
}
