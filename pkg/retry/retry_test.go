package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fast(attempts int, shouldRetry func(error) bool) *Retrier {
	return New(Policy{Attempts: attempts, Base: time.Millisecond, Cap: 2 * time.Millisecond, ShouldRetry: shouldRetry})
}

func TestDo_RetriesMarkedErrors(t *testing.T) {
	attempts := 0
	err := fast(3, nil).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return Retryable(errTransient)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ReturnsUnmarkedErrorAfterLastAttempt(t *testing.T) {
	attempts := 0
	err := fast(2, nil).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Retryable(errTransient)
	})

	assert.Equal(t, errTransient, err)
	assert.Equal(t, 2, attempts)
}

func TestDo_PlainErrorsNeedAPredicate(t *testing.T) {
	attempts := 0
	err := fast(3, nil).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestDo_PermanentWinsOverPredicate(t *testing.T) {
	attempts := 0
	r := fast(3, func(error) bool { return true })

	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(fmt.Errorf("copy 2025: %w", errTransient))
	})

	require.Error(t, err)
	assert.Equal(t, "copy 2025: transient", err.Error())
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestTransactionRetrier_UsesPredicate(t *testing.T) {
	attempts := 0
	r := TransactionRetrier(func(err error) bool { return errors.Is(err, errTransient) })

	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fast(3, nil).Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_WaitDoublesUpToCap(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Cap: 35 * time.Millisecond}

	assert.Equal(t, 10*time.Millisecond, p.wait(1))
	assert.Equal(t, 20*time.Millisecond, p.wait(2))
	assert.Equal(t, 35*time.Millisecond, p.wait(3))
	assert.Equal(t, 35*time.Millisecond, p.wait(10))

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := p.wait(1)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
}
