package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	pool, err := New(2, 8)
	require.NoError(t, err)
	defer pool.Close()

	value, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestSubmit_ErrorPropagates(t *testing.T) {
	pool, err := New(1, 1)
	require.NoError(t, err)
	defer pool.Close()

	boom := errors.New("boom")
	_, err = pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSubmit_PanicRecovered(t *testing.T) {
	pool, err := New(1, 1)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// The worker survives the panic.
	value, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "alive", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alive", value)
}

func TestSubmit_Concurrent(t *testing.T) {
	pool, err := New(4, 64)
	require.NoError(t, err)
	defer pool.Close()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
				atomic.AddInt64(&counter, 1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(32), atomic.LoadInt64(&counter))
}

func TestSubmit_CanceledContext(t *testing.T) {
	pool, err := New(1, 0)
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedPoolRejectsWork(t *testing.T) {
	pool, err := New(1, 1)
	require.NoError(t, err)
	pool.Close()

	_, err = pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestNew_InvalidSize(t *testing.T) {
	_, err := New(0, 1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}
