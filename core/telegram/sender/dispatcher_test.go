package sender

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})

	var calls atomic.Int32
	done := make(chan struct{})
	err := d.Enqueue(context.Background(), "courier.notify", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not succeed")
	}
	d.Close()
	assert.EqualValues(t, 3, calls.Load())
	assert.Zero(t, d.ErrorCount())
	assert.Equal(t, Stats{Sent: 1, Retried: 2}, d.Stats())
}

func TestDispatcherCountsPermanentFailures(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})

	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "alert.send", "", func() error {
		calls.Add(1)
		return errors.New("telegram: chat not found (400)")
	}))
	d.Close()

	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, d.ErrorCount())
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	err := d.Enqueue(context.Background(), "x", "", func() error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Error(t, d.Enqueue(context.Background(), "x", "", nil))
}

func TestSanitizeError(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AbC-d_9/sendMessage": EOF`)
	got := SanitizeError(err)
	assert.NotContains(t, got, "AbC-d_9")
	assert.Contains(t, got, "bot<redacted>/sendMessage")
	assert.Empty(t, SanitizeError(nil))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "timeout", errorKind(context.DeadlineExceeded))
	assert.Equal(t, "dial", errorKind(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, "http_4xx", errorKind(errors.New("telegram: bad request (400)")))
	assert.Equal(t, "http_5xx", errorKind(errors.New("telegram: internal (502)")))
	assert.Equal(t, "rate_limited", errorKind(errors.New("telegram: too many requests (429)")))
	assert.Equal(t, "unknown", errorKind(errors.New("boom")))
}

func TestEnqueueDuringCloseNeverPanics(t *testing.T) {
	for range 50 {
		d := NewDispatcher(Options{QueueSize: 4, Workers: 2})
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 20 {
					err := d.Enqueue(context.Background(), "reminder.send", "", func() error { return nil })
					if err != nil {
						assert.True(t, errors.Is(err, ErrQueueClosed) || errors.Is(err, ErrQueueFull), err)
					}
				}
			}()
		}
		d.Close()
		wg.Wait()
		assert.ErrorIs(t, d.Enqueue(context.Background(), "x", "", func() error { return nil }), ErrQueueClosed)
	}
}
