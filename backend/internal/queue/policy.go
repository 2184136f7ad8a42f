package queue

import (
	"time"

	"go.uber.org/zap"
)

// Policy controls how a failed send is retried
type Policy struct {
	// MaxAttempts is the total number of sends tried before a job is dead-lettered
	MaxAttempts int
	// Backoff is the delay after the first failure, doubled after each further one
	Backoff time.Duration
	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration
	// AttemptTimeout bounds a single send. Zero means no per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		Backoff:        500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.MaxBackoff > 0 && p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

// Delay returns the wait after the given number of failed attempts
func (p Policy) Delay(failures int) time.Duration {
	if failures < 1 || p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Observer receives queue events, typically to export metrics
type Observer interface {
	JobSubmitted(depth int)
	JobSent(duration time.Duration, attempts int)
	JobRetried()
	JobDeadLettered()
	Depth(depth int)
}

type nopObserver struct{}

func (nopObserver) JobSubmitted(int)           {}
func (nopObserver) JobSent(time.Duration, int) {}
func (nopObserver) JobRetried()                {}
func (nopObserver) JobDeadLettered()           {}
func (nopObserver) Depth(int)                  {}

type options struct {
	name     string
	policy   Policy
	logger   *zap.Logger
	observer Observer
	retryIf  func(error) bool
}

// Option configures a Queue
type Option func(*options)

// WithName labels log entries from the queue
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithPolicy sets the retry policy
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an observer for queue events
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithRetryIf decides whether a failed send is worth another attempt.
// Errors it rejects dead-letter the job immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.retryIf = fn
		}
	}
}
