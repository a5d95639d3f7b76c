package retry

import (
	"context"
	"errors"

	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// EnvelopeFunc is one attempt of an operation that yields an envelope.
// A non-nil error signals a transport-level failure; a returned envelope,
// failed or not, is final.
type EnvelopeFunc func(ctx context.Context) (result.Envelope, error)

// DoEnvelope runs op under the retry policy and folds every outcome into an
// envelope. Only errors accepted by the policy are retried.
func (r *Retrier) DoEnvelope(ctx context.Context, op EnvelopeFunc) result.Envelope {
	log := r.config.Logger

	if err := r.config.validate(); err != nil {
		log.Error("retry policy rejected", "error", err)
		return result.Failf(result.KindConfiguration, "invalid retry configuration: %v", err)
	}

	var (
		env       result.Envelope
		attempts  int
		retryable bool
	)

	err := r.Do(ctx, func(ctx context.Context) error {
		attempts++
		out, err := op(ctx)
		if err != nil {
			retryable = r.shouldRetry(err)
			log.Warn("api call attempt failed",
				logger.Attempt(attempts),
				"max_attempts", r.config.MaxAttempts,
				"retryable", retryable,
				logger.Err(err),
			)
			return err
		}
		env = out
		return nil
	})
	if err == nil {
		return env
	}

	switch {
	case retryable && attempts >= r.config.MaxAttempts:
		log.Error("api call retries exhausted", "attempts", attempts, "error", err)
		return result.Failf(result.KindTransport, "API call failed after %d attempts: %v", attempts, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		log.Error("api call aborted", "attempts", attempts, "error", err)
		return result.Failf(result.KindTransport, "API call aborted after %d attempts: %v", attempts, err)
	default:
		log.Error("api call failed", "attempts", attempts, "error", err)
		return result.Failf(result.KindTransport, "API call failed: %v", err)
	}
}
