// Package app wires configuration into the graph backend and sync connector
// shared by the binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"graphmirror/backend/internal/graph"
	"graphmirror/backend/internal/graphsync"
	"graphmirror/backend/internal/mirror"
	"graphmirror/backend/internal/observability"
	"graphmirror/backend/internal/queue"
	"graphmirror/backend/pkg/config"
	"graphmirror/backend/pkg/logger"
)

// Remote is the configured graph backend behind metrics and a circuit breaker
type Remote struct {
	graph.Remote
	Breaker *graph.BreakerRemote
	close   func() error
}

// Close releases the backend's connections
func (r *Remote) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// OpenRemote builds the backend selected by cfg. recorder may be nil.
func OpenRemote(ctx context.Context, cfg *config.Config, recorder graph.CallRecorder) (*Remote, error) {
	var (
		base    graph.Remote
		closeFn func() error
	)

	switch cfg.GraphBackend {
	case config.BackendGraphCommons:
		base = graph.NewGraphCommons(cfg.GCRoot, cfg.GCToken)
	case config.BackendNeo4j:
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		repo := graph.NewRepository(driver, cfg.Neo4jBrowserURL)
		if err := repo.EnsureSchema(ctx); err != nil {
			// Missing indexes slow lookups down but break nothing
			logger.Get().Warn("Neo4j schema incomplete", zap.Error(err))
		}
		base, closeFn = repo, repo.Close
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.GraphBackend)
	}

	if recorder != nil {
		base = graph.WithMetrics(base, recorder)
	}

	breakerCfg := graph.DefaultBreakerConfig()
	if cfg.BreakerFailures > 0 {
		breakerCfg.ConsecutiveFailures = uint32(cfg.BreakerFailures)
	}
	breaker := graph.WithBreaker(base, breakerCfg)

	return &Remote{Remote: breaker, Breaker: breaker, close: closeFn}, nil
}

// ConnectorOptions maps cfg onto connector options. collector may be nil.
func ConnectorOptions(cfg *config.Config, collector *observability.Collector, log *zap.Logger) graphsync.Options {
	opts := graphsync.Options{
		GraphID: cfg.GraphID,
		Policy: queue.Policy{
			MaxAttempts:    cfg.QueueMaxAttempts,
			Backoff:        cfg.QueueBackoff,
			MaxBackoff:     cfg.QueueMaxBackoff,
			AttemptTimeout: cfg.QueueAttemptTimeout,
		},
		LookupConcurrency: cfg.MemberLookupConcurrency,
		Logger:            log,
	}
	if collector != nil {
		opts.Observer = collector
		opts.Recorder = collector
	}
	return opts
}

// NewConnector builds a connector with a fresh local mirror
func NewConnector(remote graph.Remote, platform graphsync.Platform, opts graphsync.Options) *graphsync.Connector {
	return graphsync.NewConnector(remote, platform, mirror.NewStore(), mirror.NewRemoteIDCache(), opts)
}
