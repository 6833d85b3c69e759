package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyboard-server/internal/apikeys"
	"storyboard-server/internal/executor"
	"storyboard-server/internal/provider"
)

func newExecutor(keys []string, maxAttempts int) (*executor.Executor, *apikeys.Rotator) {
	rotator := apikeys.NewRotator(keys)
	// Микроскопический backoff, чтобы тесты не спали по-настоящему.
	ex := executor.New(rotator, maxAttempts, time.Millisecond, 0, zap.NewNop())
	return ex, rotator
}

func TestDo_EmptyPoolMakesNoCalls(t *testing.T) {
	ex, _ := newExecutor(nil, 5)

	calls := 0
	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		calls++
		return "", nil
	})

	assert.ErrorIs(t, err, executor.ErrNoCredentials)
	assert.Equal(t, 0, calls, "an empty pool must not produce any provider call")
}

func TestDo_SuccessLeavesCursorOnWinningKey(t *testing.T) {
	ex, rotator := newExecutor([]string{"k1", "k2", "k3"}, 5)

	quota := provider.QuotaExhausted(errors.New("RESOURCE_EXHAUSTED"))
	result, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		if apiKey == "k1" {
			return "", quota
		}
		return "ok:" + apiKey, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok:k2", result)

	current, err := rotator.Current()
	require.NoError(t, err)
	assert.Equal(t, "k2", current, "the cursor must stay on the key that succeeded")
}

func TestDo_QuotaRotatesWithoutSameKeyRetry(t *testing.T) {
	ex, _ := newExecutor([]string{"k1", "k2"}, 5)

	perKey := map[string]int{}
	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		perKey[apiKey]++
		return "", provider.QuotaExhausted(errors.New("quota"))
	})

	assert.ErrorIs(t, err, executor.ErrAllKeysExhausted)
	assert.Equal(t, 1, perKey["k1"], "quota exhaustion must not retry the same key")
	assert.Equal(t, 1, perKey["k2"])
}

func TestDo_SingleKeyQuotaMessage(t *testing.T) {
	ex, _ := newExecutor([]string{"only"}, 5)

	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		return "", provider.QuotaExhausted(errors.New("quota"))
	})

	assert.ErrorIs(t, err, executor.ErrSingleKeyExhausted)
	assert.NotErrorIs(t, err, executor.ErrAllKeysExhausted)
}

func TestDo_UnavailableRetriesSameKey(t *testing.T) {
	ex, _ := newExecutor([]string{"k1"}, 3)

	calls := 0
	result, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		calls++
		if calls < 3 {
			return "", provider.Unavailable(errors.New("503 UNAVAILABLE"))
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls, "transient overloads must be retried on the same key")
}

func TestDo_UnavailableExhaustsAttemptsThenRotates(t *testing.T) {
	ex, _ := newExecutor([]string{"k1", "k2"}, 2)

	perKey := map[string]int{}
	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		perKey[apiKey]++
		return "", provider.Unavailable(errors.New("overloaded"))
	})

	assert.ErrorIs(t, err, executor.ErrModelOverloaded)
	assert.Equal(t, 2, perKey["k1"], "each key gets the full same-key retry budget")
	assert.Equal(t, 2, perKey["k2"])
}

func TestDo_OverloadedKeepsUnavailableClass(t *testing.T) {
	ex, _ := newExecutor([]string{"k1"}, 2)

	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		return "", provider.Unavailable(errors.New("503 from provider"))
	})

	// Итоговая ошибка несет и пул-уровневый сентинел, и класс причины:
	// по нему HTTP-слой выбирает код 503.
	require.ErrorIs(t, err, executor.ErrModelOverloaded)
	assert.Equal(t, provider.ClassUnavailable, provider.Classify(err))
	assert.Contains(t, err.Error(), "503 from provider")
}

func TestDo_OtherErrorRotatesWithoutRetry(t *testing.T) {
	ex, _ := newExecutor([]string{"k1", "k2"}, 5)

	raw := errors.New("400 invalid argument")
	perKey := map[string]int{}
	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		perKey[apiKey]++
		return "", raw
	})

	// Для прочих ошибок наружу уходит последняя сырая ошибка.
	assert.ErrorIs(t, err, raw)
	assert.Equal(t, 1, perKey["k1"])
	assert.Equal(t, 1, perKey["k2"])
}

func TestDo_InvalidResponseIsTerminal(t *testing.T) {
	ex, rotator := newExecutor([]string{"k1", "k2"}, 5)

	calls := 0
	badJSON := provider.InvalidResponse(errors.New("the AI returned an invalid JSON format"))
	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		calls++
		return "", badJSON
	})

	assert.ErrorIs(t, err, badJSON)
	assert.Equal(t, 1, calls, "a malformed response must not trigger rotation or retry")

	current, _ := rotator.Current()
	assert.Equal(t, "k1", current)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	ex, _ := newExecutor([]string{"k1", "k2", "k3"}, 5)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := executor.Do(ctx, ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		calls++
		cancel()
		return "", provider.Unavailable(errors.New("overloaded"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation must short-circuit the whole pool walk")
}

func TestDo_EmptyKeySlotsAreSkipped(t *testing.T) {
	ex, _ := newExecutor([]string{"", ""}, 5)

	calls := 0
	_, err := executor.Do(context.Background(), ex, "op", func(ctx context.Context, apiKey string) (string, error) {
		calls++
		return "", nil
	})

	assert.ErrorIs(t, err, executor.ErrNoCredentials)
	assert.Equal(t, 0, calls)
}
