package graphsync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/graph"
	"graphmirror/backend/internal/mirror"
	"graphmirror/backend/internal/queue"
	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
)

// Job is one batch of signals delivered together
type Job = []signal.Signal

// Options configures a Connector
type Options struct {
	// GraphID resumes an existing remote graph; empty creates a new one
	GraphID string
	// Policy governs retries of failed deliveries
	Policy queue.Policy
	// LookupConcurrency bounds parallel channel member lookups during a pass
	LookupConcurrency int
	// Observer receives queue events
	Observer queue.Observer
	// Recorder receives pass statistics
	Recorder PassRecorder
	Logger   *zap.Logger
}

// Connector composes the mirror store, the diff engine and the job queue. All
// event handlers and passes run one at a time.
type Connector struct {
	mu sync.Mutex

	remote   graph.Remote
	platform Platform
	store    *mirror.Store
	cache    *mirror.RemoteIDCache
	engine   *Engine
	queue    *queue.Queue[Job, *graph.SignalsResponse]
	logger   *zap.Logger

	graphMu sync.RWMutex
	graphID string
}

// NewConnector wires a connector. The queue buffers until Initialize succeeds.
func NewConnector(remote graph.Remote, platform Platform, store *mirror.Store, cache *mirror.RemoteIDCache, opts Options) *Connector {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("backend", remote.Backend()))

	c := &Connector{
		remote:   remote,
		platform: platform,
		store:    store,
		cache:    cache,
		logger:   log,
		graphID:  opts.GraphID,
	}

	c.engine = NewEngine(store, cache, platform, opts.LookupConcurrency, log)
	if opts.Recorder != nil {
		c.engine.SetRecorder(opts.Recorder)
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = queue.DefaultPolicy()
	}
	c.queue = queue.New(c.send, c.onSignalsSaved,
		queue.WithName("signals"),
		queue.WithPolicy(policy),
		queue.WithLogger(log),
		queue.WithObserver(opts.Observer),
		queue.WithRetryIf(apperrors.IsRetryable))

	return c
}

// Initialize binds the connector to its remote graph: it creates one when no
// graph id is configured, otherwise it absorbs the existing graph into the
// store and cache. Queued signals start flowing afterwards.
func (c *Connector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	graphID := c.GraphID()
	if graphID == "" {
		id, err := c.remote.CreateGraph(ctx)
		if err != nil {
			return err
		}
		c.setGraphID(id)
		c.logger.Info("Created remote graph", zap.String("graph_id", id))
	} else {
		data, err := c.remote.DownloadGraph(ctx, graphID)
		if err != nil {
			return err
		}
		if err := c.loadInitialData(ctx, data); err != nil {
			return err
		}
	}

	c.queue.Start()
	return nil
}

// loadInitialData seeds the store and cache from a downloaded graph
func (c *Connector) loadInitialData(ctx context.Context, data *graph.GraphData) error {
	for _, n := range data.Nodes {
		switch n.Type {
		case constants.NodeUser:
			userID := n.StringProperty(constants.PropUserID)
			if userID == "" {
				continue
			}
			if err := c.store.Users.Save(ctx, mirror.User{ID: userID, Name: n.Name, RemoteID: n.ID}); err != nil {
				return err
			}
			c.cache.PutUser(n.ID, userID)
		case constants.NodeChannel:
			channelID := n.StringProperty(constants.PropChannelID)
			if channelID == "" {
				continue
			}
			if err := c.store.Channels.Save(ctx, mirror.Channel{ID: channelID, Name: n.Name, RemoteID: n.ID}); err != nil {
				return err
			}
			c.cache.PutChannel(n.ID, channelID)
		}
	}

	joined := make(map[string][]string)
	var order []string
	for _, e := range data.Edges {
		if e.Name != constants.EdgeMemberOf {
			continue
		}
		userID, ok := c.cache.UserFor(e.From)
		if !ok {
			continue
		}
		channelID, ok := c.cache.ChannelFor(e.To)
		if !ok {
			continue
		}
		if _, seen := joined[userID]; !seen {
			order = append(order, userID)
		}
		joined[userID] = append(joined[userID], channelID)
		c.cache.PutEdge(mirror.EdgeKey{Type: constants.EdgeMemberOf, From: e.From, To: e.To}, e.ID)
	}

	for _, userID := range order {
		if err := c.store.Users.Save(ctx, mirror.User{ID: userID, Channels: joined[userID]}); err != nil {
			return err
		}
	}

	c.logger.Info("Absorbed remote graph",
		zap.String("graph_id", c.GraphID()),
		zap.Int("users", c.store.Users.Len()),
		zap.Int("channels", c.store.Channels.Len()),
		zap.Int("memberships", c.cache.EdgeCount()))
	return nil
}

// SynchronizeTeamData runs a full diff pass and queues its signals as one job
func (c *Connector) SynchronizeTeamData(ctx context.Context, users []ObservedUser, channels []ObservedChannel) error {
	return c.dispatch(ctx, "synchronize team data", func(context.Context) (signal.Result, error) {
		return signal.Pending(func(ctx context.Context) ([]signal.Signal, error) {
			return c.engine.Synchronize(ctx, users, channels)
		}), nil
	})
}

// dispatch builds and resolves a handler result under the connector lock and
// submits the signals, if any, as one job
func (c *Connector) dispatch(ctx context.Context, operation string, build func(ctx context.Context) (signal.Result, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := build(ctx)
	if err != nil {
		c.logger.Warn("Handler failed", zap.String("operation", operation), zap.Error(err))
		return err
	}

	signals, err := result.Resolve(ctx)
	if err != nil {
		c.logger.Warn("Handler failed", zap.String("operation", operation), zap.Error(err))
		return err
	}
	if len(signals) == 0 {
		return nil
	}

	jobID, err := c.queue.Submit(signals)
	if err != nil {
		return err
	}
	c.logger.Debug("Signals queued",
		zap.String("operation", operation),
		zap.String("job_id", jobID),
		zap.Stringer("result", result.Kind()),
		zap.Int("signals", len(signals)))
	return nil
}

func (c *Connector) send(ctx context.Context, job Job) (*graph.SignalsResponse, error) {
	return c.remote.SendSignals(ctx, c.GraphID(), job)
}

// onSignalsSaved learns the remote ids assigned to created users, channels
// and memberships
func (c *Connector) onSignalsSaved(_ Job, resp *graph.SignalsResponse) {
	if resp == nil {
		return
	}

	ctx := context.Background()
	for _, s := range resp.Signals {
		if s.ID == "" {
			continue
		}
		switch s.Action {
		case signal.ActionNodeCreate:
			switch s.Type {
			case constants.NodeUser:
				userID := s.StringProperty(constants.PropUserID)
				if userID == "" {
					continue
				}
				if err := c.store.Users.Save(ctx, mirror.User{ID: userID, RemoteID: s.ID}); err != nil {
					c.logger.Warn("Failed to record user remote id", zap.String("user_id", userID), zap.Error(err))
					continue
				}
				c.cache.PutUser(s.ID, userID)
			case constants.NodeChannel:
				channelID := s.StringProperty(constants.PropChannelID)
				if channelID == "" {
					continue
				}
				if err := c.store.Channels.Save(ctx, mirror.Channel{ID: channelID, RemoteID: s.ID}); err != nil {
					c.logger.Warn("Failed to record channel remote id", zap.String("channel_id", channelID), zap.Error(err))
					continue
				}
				c.cache.PutChannel(s.ID, channelID)
			}
		case signal.ActionEdgeCreate:
			if s.Name == constants.EdgeMemberOf {
				c.cache.PutEdge(mirror.EdgeKey{Type: constants.EdgeMemberOf, From: s.From, To: s.To}, s.ID)
			}
		}
	}
}

// GraphID returns the remote graph id, empty until known
func (c *Connector) GraphID() string {
	c.graphMu.RLock()
	defer c.graphMu.RUnlock()
	return c.graphID
}

func (c *Connector) setGraphID(id string) {
	c.graphMu.Lock()
	c.graphID = id
	c.graphMu.Unlock()
}

// GraphURL returns where the remote graph can be browsed, empty until known
func (c *Connector) GraphURL() string {
	return c.remote.GraphURL(c.GraphID())
}

// Store exposes the mirror store for read-only consumers
func (c *Connector) Store() *mirror.Store {
	return c.store
}

// QueueStats reports the state of the signal queue
func (c *Connector) QueueStats() queue.Stats {
	return c.queue.Stats()
}

// DeadLetters returns the jobs the queue gave up on
func (c *Connector) DeadLetters() []queue.DeadLetter[Job] {
	return c.queue.DeadLetters()
}

// WaitIdle blocks until no job is in flight
func (c *Connector) WaitIdle(ctx context.Context) error {
	return c.queue.WaitIdle(ctx)
}

// Close stops the queue, leaving undelivered jobs unsent
func (c *Connector) Close(ctx context.Context) error {
	return c.queue.Stop(ctx)
}
