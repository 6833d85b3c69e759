// Package executor wraps a single provider request with retry, exponential
// backoff and error classification, rotating across a credential pool so
// per-key quota exhaustion is survived transparently.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"storyboard-server/internal/apikeys"
	"storyboard-server/internal/provider"
)

var (
	// ErrNoCredentials - пул ключей пуст; запрос не отправляется вообще.
	ErrNoCredentials = errors.New("no API keys found, please add them in the settings")
	// ErrAllKeysExhausted - квота исчерпана на всех ключах пула (len > 1).
	ErrAllKeysExhausted = errors.New("all API keys have exhausted their quota")
	// ErrSingleKeyExhausted - квота исчерпана на единственном ключе пула.
	ErrSingleKeyExhausted = errors.New("the API key has exhausted its quota")
	// ErrModelOverloaded - провайдер перегружен даже после всех повторов.
	ErrModelOverloaded = errors.New("the model is overloaded, please try again later")
)

// Executor drives classified retries over a credential pool. A successful
// call leaves the rotator pointed at the key that succeeded, so subsequent
// calls prefer it; only failures advance the cursor.
type Executor struct {
	rotator     *apikeys.Rotator
	maxAttempts int
	baseBackoff time.Duration
	maxJitter   time.Duration
	logger      *zap.Logger
}

// New creates an Executor. maxAttempts bounds same-key retries for
// transient overloads; backoff doubles from baseBackoff with up to
// maxJitter of random jitter added per wait.
func New(rotator *apikeys.Rotator, maxAttempts int, baseBackoff, maxJitter time.Duration, logger *zap.Logger) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		rotator:     rotator,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxJitter:   maxJitter,
		logger:      logger.Named("Executor"),
	}
}

// Do attempts call with the rotator's current key, classifying failures:
//
//   - quota-exhausted: abandon the key immediately and rotate;
//   - unavailable: retry the same key with exponential backoff, then rotate;
//   - anything else: rotate without same-key retry.
//
// Every key is tried at most once per Do. The final error is the
// pool-level quota message when the last failure was quota class, the
// overloaded message when it was transient, and the last raw error
// otherwise.
func Do[T any](ctx context.Context, ex *Executor, operation string, call func(ctx context.Context, apiKey string) (T, error)) (T, error) {
	var zero T

	totalKeys := ex.rotator.Len()
	if totalKeys == 0 {
		return zero, ErrNoCredentials
	}

	var lastErr error
	for i := 0; i < totalKeys; i++ {
		apiKey, err := ex.rotator.Current()
		if err != nil {
			return zero, ErrNoCredentials
		}

		// An empty slot is rotated past without an attempt.
		if apiKey != "" {
			result, attemptErr := tryKey(ctx, ex, operation, apiKey, call)
			if attemptErr == nil {
				return result, nil
			}
			if ctx.Err() != nil {
				return zero, attemptErr
			}
			// Malformed responses are terminal for the whole call: another
			// credential would not change what the model returned.
			if provider.Classify(attemptErr) == provider.ClassInvalidResponse {
				return zero, attemptErr
			}
			lastErr = attemptErr
		}

		ex.rotator.Advance()
		keyRotationsTotal.WithLabelValues(operation).Inc()
	}

	poolExhaustedTotal.WithLabelValues(operation).Inc()
	return zero, ex.finalError(lastErr, totalKeys)
}

// tryKey runs the same-key retry loop for one credential.
func tryKey[T any](ctx context.Context, ex *Executor, operation, apiKey string, call func(ctx context.Context, apiKey string) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < ex.maxAttempts; attempt++ {
		start := time.Now()
		result, err := call(ctx, apiKey)
		providerAttemptDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

		if err == nil {
			providerAttemptsTotal.WithLabelValues(operation, "success").Inc()
			return result, nil
		}
		lastErr = err

		class := provider.Classify(err)
		providerAttemptsTotal.WithLabelValues(operation, statusLabel(class)).Inc()

		switch {
		case class == provider.ClassQuotaExhausted:
			ex.logger.Warn("Quota exhausted for current key, rotating",
				zap.String("operation", operation))
			return zero, lastErr
		case class == provider.ClassUnavailable && attempt < ex.maxAttempts-1:
			backoff := ex.backoffDelay(attempt)
			ex.logger.Info("Model is overloaded, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		default:
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// backoffDelay doubles the base delay per attempt and adds random jitter.
func (ex *Executor) backoffDelay(attempt int) time.Duration {
	delay := ex.baseBackoff * (1 << attempt)
	if ex.maxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(ex.maxJitter)))
	}
	return delay
}

// finalError maps the last observed failure onto the pool-level error.
func (ex *Executor) finalError(lastErr error, totalKeys int) error {
	if lastErr == nil {
		// Every slot in the pool was an empty string.
		return ErrNoCredentials
	}
	switch provider.Classify(lastErr) {
	case provider.ClassQuotaExhausted:
		if totalKeys > 1 {
			return ErrAllKeysExhausted
		}
		return ErrSingleKeyExhausted
	case provider.ClassUnavailable:
		// Двойной %w: причина остается в цепочке вместе со своим классом.
		return fmt.Errorf("%w: %w", ErrModelOverloaded, lastErr)
	default:
		return lastErr
	}
}

func statusLabel(class provider.ErrorClass) string {
	switch class {
	case provider.ClassQuotaExhausted:
		return "quota"
	case provider.ClassUnavailable:
		return "unavailable"
	case provider.ClassInvalidResponse:
		return "invalid_response"
	default:
		return "error"
	}
}
