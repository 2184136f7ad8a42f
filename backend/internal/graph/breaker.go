package graph

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
	"graphmirror/backend/pkg/logger"
)

// BreakerConfig holds configuration for the remote circuit breaker
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open
	MaxRequests uint32
}

// DefaultBreakerConfig returns a default configuration for the breaker
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		MaxRequests:         1,
	}
}

// BreakerRemote guards a Remote with a circuit breaker. Only transient
// failures count against it; a rejected signal is the caller's problem, not
// the backend's.
type BreakerRemote struct {
	next Remote
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next in a circuit breaker
func WithBreaker(next Remote, cfg BreakerConfig) *BreakerRemote {
	log := logger.Get()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-" + next.Backend(),
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsRetryable(err)
		},
	})

	return &BreakerRemote{next: next, cb: cb}
}

// State reports the breaker state, for status endpoints
func (b *BreakerRemote) State() string {
	return b.cb.State().String()
}

func (b *BreakerRemote) Backend() string {
	return b.next.Backend()
}

func (b *BreakerRemote) CreateGraph(ctx context.Context) (string, error) {
	return execute(b, func() (string, error) { return b.next.CreateGraph(ctx) })
}

func (b *BreakerRemote) DownloadGraph(ctx context.Context, graphID string) (*GraphData, error) {
	return execute(b, func() (*GraphData, error) { return b.next.DownloadGraph(ctx, graphID) })
}

func (b *BreakerRemote) SendSignals(ctx context.Context, graphID string, signals []signal.Signal) (*SignalsResponse, error) {
	return execute(b, func() (*SignalsResponse, error) { return b.next.SendSignals(ctx, graphID, signals) })
}

func (b *BreakerRemote) Mentioners(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	return execute(b, func() ([]string, error) { return b.next.Mentioners(ctx, graphID, userRemoteID) })
}

func (b *BreakerRemote) Mentioned(ctx context.Context, graphID, userRemoteID string) ([]string, error) {
	return execute(b, func() ([]string, error) { return b.next.Mentioned(ctx, graphID, userRemoteID) })
}

func (b *BreakerRemote) GraphURL(graphID string) string {
	return b.next.GraphURL(graphID)
}

func execute[T any](b *BreakerRemote, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return zero, apperrors.NewBaseError(apperrors.ErrorTypeGraph, "remote unavailable", err)
	}
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}
