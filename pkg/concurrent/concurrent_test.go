package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	t.Run("Covers Every Index Once", func(t *testing.T) {
		seen := make([]int32, 103)
		err := Chunks(context.Background(), len(seen), 4, func(_ context.Context, lo, hi int) error {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
			return nil
		})
		require.NoError(t, err)
		for i, v := range seen {
			require.Equal(t, int32(1), v, "index %d", i)
		}
	})

	t.Run("More Workers Than Items", func(t *testing.T) {
		var calls atomic.Int32
		err := Chunks(context.Background(), 2, 16, func(_ context.Context, lo, hi int) error {
			calls.Add(1)
			assert.Equal(t, 1, hi-lo)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, int32(2), calls.Load())
	})

	t.Run("Empty", func(t *testing.T) {
		require.NoError(t, Chunks(context.Background(), 0, 4, func(context.Context, int, int) error {
			t.Error("must not be called")
			return nil
		}))
	})

	t.Run("Error And Panic", func(t *testing.T) {
		boom := errors.New("boom")
		err := Chunks(context.Background(), 10, 2, func(_ context.Context, lo, _ int) error {
			if lo == 0 {
				return boom
			}
			return nil
		})
		require.ErrorIs(t, err, boom)

		err = Chunks(context.Background(), 10, 1, func(context.Context, int, int) error {
			panic("bad")
		})
		require.ErrorContains(t, err, "panic")
	})
}

func TestGo(t *testing.T) {
	require.NoError(t, <-Go(func() error { return nil }))
	require.ErrorContains(t, <-Go(func() error { panic("x") }), "panic: x")
}

func TestDefaultWorkers(t *testing.T) {
	require.GreaterOrEqual(t, DefaultWorkers(), 1)
}
