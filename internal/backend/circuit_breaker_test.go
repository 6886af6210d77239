package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after consecutive failures", func(t *testing.T) {
		attempts := 0
		failingFunc := func() error {
			attempts++
			return errors.New("service unavailable")
		}

		cb := NewCircuitBreaker(
			WithFailureThreshold(3),
			WithTimeout(100*time.Millisecond),
			WithResetTimeout(200*time.Millisecond),
		)

		for i := 0; i < 3; i++ {
			_ = cb.Execute(context.Background(), failingFunc)
		}

		err := cb.Execute(context.Background(), failingFunc)

		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 3, attempts, "should not call function when circuit is open")
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("half-opens after reset timeout", func(t *testing.T) {
		attempts := 0
		workingFunc := func() error {
			attempts++
			return nil
		}

		cb := NewCircuitBreaker(
			WithFailureThreshold(2),
			WithResetTimeout(100*time.Millisecond),
		)

		for i := 0; i < 2; i++ {
			_ = cb.Execute(context.Background(), func() error {
				return errors.New("fail")
			})
		}

		err := cb.Execute(context.Background(), workingFunc)
		require.ErrorIs(t, err, ErrCircuitOpen)
		require.Equal(t, 0, attempts)

		time.Sleep(150 * time.Millisecond)

		err = cb.Execute(context.Background(), workingFunc)

		require.NoError(t, err)
		assert.Equal(t, 1, attempts, "should allow attempt after reset timeout")
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(3))

		for i := 0; i < 5; i++ {
			_ = cb.Execute(context.Background(), func() error {
				return errors.New("fail")
			})
			_ = cb.Execute(context.Background(), func() error { return nil })
		}

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("times out slow probes", func(t *testing.T) {
		cb := NewCircuitBreaker(WithTimeout(20 * time.Millisecond))

		err := cb.Execute(context.Background(), func() error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})

		require.Error(t, err)
	})

	t.Run("manual reset closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))

		_ = cb.Execute(context.Background(), func() error {
			return errors.New("fail")
		})
		require.Equal(t, StateOpen, cb.State())

		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())

		err := cb.Execute(context.Background(), func() error { return nil })
		assert.NoError(t, err)
	})
}
