// Package queue provides a serialized FIFO job executor: at most one job is
// in flight, and the next one starts only after the previous one resolved.
package queue

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "graphmirror/backend/pkg/errors"
)

// SendFunc delivers one job
type SendFunc[T, R any] func(ctx context.Context, job T) (R, error)

// DoneFunc receives the result of a delivered job before the next one starts
type DoneFunc[T, R any] func(job T, result R)

// State is the lifecycle state of a Queue
type State int

const (
	// StateBuffering accepts jobs without dispatching them
	StateBuffering State = iota
	// StateDraining dispatches jobs as they arrive
	StateDraining
	// StateStopped rejects new jobs
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// DeadLetter is a job that exhausted its attempts
type DeadLetter[T any] struct {
	ID       string
	Job      T
	Attempts int
	Err      error
	At       time.Time
}

// Stats is a point-in-time view of a Queue
type Stats struct {
	State        string `json:"state"`
	Pending      int    `json:"pending"`
	InFlight     bool   `json:"in_flight"`
	Sent         uint64 `json:"sent"`
	Retried      uint64 `json:"retried"`
	DeadLettered int    `json:"dead_lettered"`
}

type entry[T any] struct {
	id  string
	job T
}

// Queue is a strictly serialized executor. It starts in StateBuffering.
type Queue[T, R any] struct {
	send SendFunc[T, R]
	done DoneFunc[T, R]
	opts options

	mu       sync.Mutex
	state    State
	jobs     []entry[T]
	running  bool
	inFlight bool
	idle     chan struct{}
	sent     uint64
	retried  uint64
	dead     []DeadLetter[T]

	stopCtx context.Context
	stop    context.CancelFunc
}

// New creates a buffering queue. done may be nil.
func New[T, R any](send SendFunc[T, R], done DoneFunc[T, R], opts ...Option) *Queue[T, R] {
	o := options{
		name:     "jobs",
		policy:   DefaultPolicy(),
		logger:   zap.NewNop(),
		observer: nopObserver{},
		retryIf:  func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.policy = o.policy.normalized()
	o.logger = o.logger.With(zap.String("queue", o.name))

	if done == nil {
		done = func(T, R) {}
	}

	idle := make(chan struct{})
	close(idle)

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T, R]{
		send:    send,
		done:    done,
		opts:    o,
		state:   StateBuffering,
		idle:    idle,
		stopCtx: ctx,
		stop:    cancel,
	}
}

// Submit appends job to the tail and returns its id. A draining queue that is
// idle starts dispatching right away.
func (q *Queue[T, R]) Submit(job T) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateStopped {
		return "", apperrors.ErrQueueStopped
	}

	id := uuid.New().String()
	q.jobs = append(q.jobs, entry[T]{id: id, job: job})
	q.opts.observer.JobSubmitted(len(q.jobs))
	q.opts.logger.Debug("Job submitted",
		zap.String("job_id", id),
		zap.Int("pending", len(q.jobs)),
		zap.String("state", q.state.String()))

	q.kickLocked()
	return id, nil
}

// Start switches the queue to StateDraining. Only the first call has an effect.
func (q *Queue[T, R]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateBuffering {
		return
	}
	q.state = StateDraining
	q.opts.logger.Info("Queue started", zap.Int("pending", len(q.jobs)))
	q.kickLocked()
}

// Stop rejects further jobs, cancels the attempt in flight and waits for the
// dispatch loop to exit. The interrupted job stays queued.
func (q *Queue[T, R]) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.state = StateStopped
	idle := q.idle
	q.mu.Unlock()

	q.stop()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return apperrors.NewContextCancelled("queue stop", ctx.Err())
	}
}

// WaitIdle blocks until no job is being dispatched. On a buffering queue it
// returns immediately.
func (q *Queue[T, R]) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return apperrors.NewContextCancelled("queue wait idle", ctx.Err())
	}
}

// State returns the lifecycle state
func (q *Queue[T, R]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Stats returns counters for status endpoints
func (q *Queue[T, R]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		State:        q.state.String(),
		Pending:      len(q.jobs),
		InFlight:     q.inFlight,
		Sent:         q.sent,
		Retried:      q.retried,
		DeadLettered: len(q.dead),
	}
}

// DeadLetters returns the jobs that were given up on, oldest first
func (q *Queue[T, R]) DeadLetters() []DeadLetter[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter[T], len(q.dead))
	copy(out, q.dead)
	return out
}

// kickLocked starts the dispatch loop unless it is already running
func (q *Queue[T, R]) kickLocked() {
	if q.state != StateDraining || q.running || len(q.jobs) == 0 {
		return
	}
	q.running = true
	q.idle = make(chan struct{})
	go q.drain()
}

func (q *Queue[T, R]) drain() {
	for {
		q.mu.Lock()
		if q.state != StateDraining || len(q.jobs) == 0 {
			q.running = false
			q.inFlight = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		head := q.jobs[0]
		q.inFlight = true
		q.mu.Unlock()

		result, err := q.dispatch(head)
		if stderrors.Is(err, apperrors.ErrQueueStopped) {
			q.opts.logger.Info("Queue stopped with job in flight", zap.String("job_id", head.id))
			continue
		}
		if err == nil {
			q.done(head.job, result)
		}

		q.mu.Lock()
		q.jobs = q.jobs[1:]
		q.inFlight = false
		if err != nil {
			q.dead = append(q.dead, DeadLetter[T]{
				ID:       head.id,
				Job:      head.job,
				Attempts: attemptsOf(err),
				Err:      err,
				At:       time.Now(),
			})
		} else {
			q.sent++
		}
		depth := len(q.jobs)
		q.mu.Unlock()

		q.opts.observer.Depth(depth)
	}
}

// dispatch sends one job, retrying per policy
func (q *Queue[T, R]) dispatch(e entry[T]) (R, error) {
	var zero R
	policy := q.opts.policy

	for attempt := 1; ; attempt++ {
		ctx, cancel := q.attemptContext()
		start := time.Now()
		result, err := q.send(ctx, e.job)
		timedOut := stderrors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			q.opts.observer.JobSent(time.Since(start), attempt)
			q.opts.logger.Debug("Job delivered",
				zap.String("job_id", e.id),
				zap.Int("attempt", attempt),
				zap.Duration("duration", time.Since(start)))
			return result, nil
		}

		if q.stopCtx.Err() != nil {
			return zero, apperrors.ErrQueueStopped
		}
		if timedOut {
			err = apperrors.NewContextTimeout("send job "+e.id, policy.AttemptTimeout)
		}

		if attempt >= policy.MaxAttempts || !q.opts.retryIf(err) {
			q.opts.observer.JobDeadLettered()
			q.opts.logger.Error("Job dead-lettered",
				zap.String("job_id", e.id),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return zero, apperrors.NewQueueDeadLettered(e.id, attempt, err)
		}

		backoff := policy.Delay(attempt)
		q.opts.observer.JobRetried()
		q.mu.Lock()
		q.retried++
		q.mu.Unlock()
		q.opts.logger.Warn("Job failed, retrying",
			zap.String("job_id", e.id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-q.stopCtx.Done():
			timer.Stop()
			return zero, apperrors.ErrQueueStopped
		}
	}
}

func (q *Queue[T, R]) attemptContext() (context.Context, context.CancelFunc) {
	if q.opts.policy.AttemptTimeout > 0 {
		return context.WithTimeout(q.stopCtx, q.opts.policy.AttemptTimeout)
	}
	return context.WithCancel(q.stopCtx)
}

func attemptsOf(err error) int {
	var dl *apperrors.ErrQueueDeadLettered
	if stderrors.As(err, &dl) {
		return dl.Attempts
	}
	return 0
}
