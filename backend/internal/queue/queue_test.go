package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "graphmirror/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures the order of sends and completions
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func waitIdle(t *testing.T, q interface{ WaitIdle(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
}

func TestQueue_BuffersUntilStarted(t *testing.T) {
	rec := &recorder{}
	q := New(func(ctx context.Context, job string) (string, error) {
		rec.add("send:" + job)
		return job, nil
	}, nil)

	for _, j := range []string{"J1", "J2", "J3"} {
		_, err := q.Submit(j)
		require.NoError(t, err)
	}
	waitIdle(t, q)
	assert.Empty(t, rec.list())
	assert.Equal(t, StateBuffering, q.State())
	assert.Equal(t, 3, q.Stats().Pending)

	q.Start()
	waitIdle(t, q)

	assert.Equal(t, []string{"send:J1", "send:J2", "send:J3"}, rec.list())
	assert.Equal(t, 0, q.Stats().Pending)
	assert.Equal(t, uint64(3), q.Stats().Sent)
}

func TestQueue_FIFOSingleFlight(t *testing.T) {
	rec := &recorder{}
	var inFlight, maxInFlight int32

	q := New(func(ctx context.Context, job int) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		rec.add(fmt.Sprintf("send:%d", job))
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return job * 10, nil
	}, func(job int, result int) {
		rec.add(fmt.Sprintf("done:%d:%d", job, result))
	})
	q.Start()

	for i := 1; i <= 3; i++ {
		_, err := q.Submit(i)
		require.NoError(t, err)
		time.Sleep(time.Duration(i) * time.Millisecond)
	}
	waitIdle(t, q)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, []string{
		"send:1", "done:1:10",
		"send:2", "done:2:20",
		"send:3", "done:3:30",
	}, rec.list())
}

func TestQueue_SubmitWhileIdleRestartsDispatch(t *testing.T) {
	var sent int32
	q := New(func(ctx context.Context, job string) (struct{}, error) {
		atomic.AddInt32(&sent, 1)
		return struct{}{}, nil
	}, nil)
	q.Start()

	_, err := q.Submit("a")
	require.NoError(t, err)
	waitIdle(t, q)

	_, err = q.Submit("b")
	require.NoError(t, err)
	waitIdle(t, q)

	assert.Equal(t, int32(2), atomic.LoadInt32(&sent))
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	var delivered []string
	q := New(func(ctx context.Context, job string) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, func(job, result string) {
		delivered = append(delivered, result)
	}, WithPolicy(fastPolicy(5)))
	q.Start()

	_, err := q.Submit("J1")
	require.NoError(t, err)
	waitIdle(t, q)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"ok"}, delivered)
	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(2), stats.Retried)
	assert.Equal(t, 0, stats.DeadLettered)
}

func TestQueue_DeadLettersAndAdvances(t *testing.T) {
	rec := &recorder{}
	q := New(func(ctx context.Context, job string) (string, error) {
		rec.add("send:" + job)
		if job == "bad" {
			return "", errors.New("rejected")
		}
		return job, nil
	}, func(job, result string) {
		rec.add("done:" + job)
	}, WithPolicy(fastPolicy(3)))
	q.Start()

	_, err := q.Submit("bad")
	require.NoError(t, err)
	_, err = q.Submit("good")
	require.NoError(t, err)
	waitIdle(t, q)

	assert.Equal(t, []string{"send:bad", "send:bad", "send:bad", "send:good", "done:good"}, rec.list())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].Job)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.True(t, apperrors.IsErrorType(dead[0].Err, apperrors.ErrorTypeQueue))
	assert.Equal(t, 1, q.Stats().DeadLettered)
}

func TestQueue_NonRetryableDeadLettersImmediately(t *testing.T) {
	var calls int32
	permanent := errors.New("permanent")
	q := New(func(ctx context.Context, job string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", permanent
	}, nil,
		WithPolicy(fastPolicy(5)),
		WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }))
	q.Start()

	_, err := q.Submit("J1")
	require.NoError(t, err)
	waitIdle(t, q)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Len(t, q.DeadLetters(), 1)
	assert.ErrorIs(t, q.DeadLetters()[0].Err, permanent)
}

func TestQueue_AttemptTimeout(t *testing.T) {
	var calls int32
	q := New(func(ctx context.Context, job string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}, nil, WithPolicy(Policy{MaxAttempts: 2, Backoff: time.Millisecond, AttemptTimeout: 10 * time.Millisecond}))
	q.Start()

	_, err := q.Submit("J1")
	require.NoError(t, err)
	waitIdle(t, q)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, uint64(1), q.Stats().Sent)
}

func TestQueue_AttemptTimeoutDeadLetters(t *testing.T) {
	var calls int32
	q := New(func(ctx context.Context, job string) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return "", ctx.Err()
	}, nil,
		WithPolicy(Policy{MaxAttempts: 2, Backoff: time.Millisecond, AttemptTimeout: 10 * time.Millisecond}),
		WithRetryIf(apperrors.IsRetryable))
	q.Start()

	_, err := q.Submit("J1")
	require.NoError(t, err)
	waitIdle(t, q)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, q.DeadLetters(), 1)
	var timeout *apperrors.ErrContextTimeout
	require.ErrorAs(t, q.DeadLetters()[0].Err, &timeout)
	assert.Equal(t, 10*time.Millisecond, timeout.Timeout)
	assert.Equal(t, 2, q.DeadLetters()[0].Attempts)
}

func TestQueue_StopKeepsInterruptedJob(t *testing.T) {
	started := make(chan struct{})
	q := New(func(ctx context.Context, job string) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}, nil, WithPolicy(Policy{MaxAttempts: 1}))
	q.Start()

	_, err := q.Submit("J1")
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))

	stats := q.Stats()
	assert.Equal(t, "stopped", stats.State)
	assert.Equal(t, 1, stats.Pending)
	assert.Empty(t, q.DeadLetters())

	_, err = q.Submit("J2")
	assert.ErrorIs(t, err, apperrors.ErrQueueStopped)
}

func TestQueue_StartIsOneWay(t *testing.T) {
	q := New(func(ctx context.Context, job string) (string, error) { return job, nil }, nil)
	q.Start()
	q.Start()
	assert.Equal(t, StateDraining, q.State())

	require.NoError(t, q.Stop(context.Background()))
	q.Start()
	assert.Equal(t, StateStopped, q.State())
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("failures=%d", tt.failures), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(tt.failures))
		})
	}
}

func TestPolicy_Normalized(t *testing.T) {
	p := Policy{MaxAttempts: 0, Backoff: time.Second, MaxBackoff: time.Millisecond}.normalized()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, time.Second, p.MaxBackoff)
}
