package async

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

func TestSafeGo_Success(t *testing.T) {
	done := make(chan struct{})

	SafeGo(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
}

func TestSafeGo_LogsError(t *testing.T) {
	var buf syncBuffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)
	done := make(chan struct{})

	SafeGo(context.Background(), logger, time.Second, "failing task", func(ctx context.Context) error {
		defer close(done)
		return errors.New("boom")
	})

	<-done
	require.Eventually(t, func() bool {
		return bytes.Contains(buf.Bytes(), []byte("failing task"))
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, buf.String(), "boom")
}

func TestSafeGo_Timeout(t *testing.T) {
	cancelled := make(chan struct{})

	SafeGo(context.Background(), nil, 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			close(cancelled)
			return ctx.Err()
		}
	})

	select {
	case <-cancelled:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("task was not cancelled by timeout")
	}
}

func TestSafeGo_NoTimeout(t *testing.T) {
	done := make(chan bool, 1)

	SafeGo(context.Background(), nil, 0, "untimed task", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		done <- hasDeadline
		return nil
	})

	assert.False(t, <-done)
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	var buf syncBuffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	SafeGo(context.Background(), logger, time.Second, "panicking task", func(ctx context.Context) error {
		panic("test panic")
	})

	require.Eventually(t, func() bool {
		return bytes.Contains(buf.Bytes(), []byte("PANIC recovered"))
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, buf.String(), "panicking task")
}

func TestWorkerPool_CollectsErrors(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 2, "test pool", time.Second)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			ran.Add(1)
			if i%2 == 0 {
				return errors.New("even")
			}
			return nil
		}))
	}
	pool.Wait()

	assert.Equal(t, int32(5), ran.Load())
	assert.Len(t, pool.Errors(), 3)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 1, "test pool", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))

	err := pool.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutDown)
}

func TestWorkerPool_PanicBecomesError(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 1, "test pool", time.Second)
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		panic("worker panic")
	}))
	pool.Wait()

	errs := pool.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "worker panic")
}

func TestBatch_ProcessesAllItems(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	var sum atomic.Int64
	errs := Batch(context.Background(), nil, items, 4, "sum", time.Second, func(ctx context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int64(4950), sum.Load())
}

func TestBatch_DoesNotDropErrors(t *testing.T) {
	items := make([]int, 200)

	errs := Batch(context.Background(), nil, items, 2, "failing", time.Second, func(ctx context.Context, n int) error {
		return errors.New("nope")
	})

	assert.Len(t, errs, 200)
}

func TestBatch_EmptyInput(t *testing.T) {
	errs := Batch(context.Background(), nil, []string(nil), 3, "empty", time.Second, func(ctx context.Context, s string) error {
		t.Fatal("should not be called")
		return nil
	})
	assert.Empty(t, errs)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string {
	return string(b.Bytes())
}
