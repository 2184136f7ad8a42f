package graphsync

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/mirror"
	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
)

// Engine diffs an observed workspace snapshot against the mirror store
type Engine struct {
	store       *mirror.Store
	cache       *mirror.RemoteIDCache
	platform    Platform
	concurrency int
	recorder    PassRecorder
	logger      *zap.Logger
}

// channelMembers is the outcome of resolving one channel's member list
type channelMembers struct {
	channelID string
	members   []string
	err       error
}

// NewEngine creates a diff engine. concurrency bounds parallel member lookups.
func NewEngine(store *mirror.Store, cache *mirror.RemoteIDCache, platform Platform, concurrency int, logger *zap.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       store,
		cache:       cache,
		platform:    platform,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SetRecorder registers a recorder for pass statistics
func (e *Engine) SetRecorder(r PassRecorder) {
	e.recorder = r
}

// Synchronize returns the signals that bring the remote graph in line with the
// observed users and channels, and records the new state in the store.
// Signals come out as new users, new channels, then membership changes.
func (e *Engine) Synchronize(ctx context.Context, users []ObservedUser, channels []ObservedChannel) ([]signal.Signal, error) {
	userSignals, err := e.syncUsers(ctx, users)
	if err != nil {
		return nil, err
	}

	channelSignals, err := e.syncChannels(ctx, channels)
	if err != nil {
		return nil, err
	}

	memberships, err := e.resolveMemberships(ctx, channels)
	if err != nil {
		return nil, err
	}

	membershipSignals, failures, err := e.reconcileMemberships(ctx, memberships)
	if err != nil {
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.RecordSyncPass(failures)
	}

	signals := make([]signal.Signal, 0, len(userSignals)+len(channelSignals)+len(membershipSignals))
	signals = append(signals, userSignals...)
	signals = append(signals, channelSignals...)
	signals = append(signals, membershipSignals...)

	e.logger.Info("Synchronization pass computed",
		zap.Int("users", len(users)),
		zap.Int("channels", len(channels)),
		zap.Int("new_users", len(userSignals)),
		zap.Int("new_channels", len(channelSignals)),
		zap.Int("membership_changes", len(membershipSignals)),
		zap.Int("lookup_failures", failures))

	return signals, nil
}

// syncUsers stores every observed user and emits a node for the unknown ones
func (e *Engine) syncUsers(ctx context.Context, users []ObservedUser) ([]signal.Signal, error) {
	var signals []signal.Signal
	for _, observed := range users {
		_, existed := e.store.Users.GetSync(observed.ID)

		u := mirror.User{ID: observed.ID, Name: observed.Name, Avatar: observed.Avatar}
		if err := e.store.Users.Save(ctx, u); err != nil {
			if apperrors.IsErrorType(err, apperrors.ErrorTypeContext) {
				return nil, err
			}
			e.logger.Warn("Skipping user", zap.String("user_id", observed.ID), zap.Error(err))
			continue
		}

		if !existed {
			signals = append(signals, signal.NewUser(u))
		}
	}
	return signals, nil
}

// syncChannels stores every observed channel and emits a node for the unknown ones
func (e *Engine) syncChannels(ctx context.Context, channels []ObservedChannel) ([]signal.Signal, error) {
	var signals []signal.Signal
	for _, observed := range channels {
		_, existed := e.store.Channels.GetSync(observed.ID)

		c := mirror.Channel{ID: observed.ID, Name: observed.Name}
		if err := e.store.Channels.Save(ctx, c); err != nil {
			if apperrors.IsErrorType(err, apperrors.ErrorTypeContext) {
				return nil, err
			}
			e.logger.Warn("Skipping channel", zap.String("channel_id", observed.ID), zap.Error(err))
			continue
		}

		if !existed {
			signals = append(signals, signal.NewChannel(c))
		}
	}
	return signals, nil
}

// resolveMemberships returns the member list of every observed channel, in
// observed order. Channels the bot is not in are looked up concurrently; a
// failed lookup is reported in its slot rather than aborting the pass.
func (e *Engine) resolveMemberships(ctx context.Context, channels []ObservedChannel) ([]channelMembers, error) {
	results := make([]channelMembers, len(channels))

	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, ch := range channels {
		results[i].channelID = ch.ID
		if ch.ID == "" {
			continue
		}
		if ch.IsMember {
			results[i].members = ch.Members
			continue
		}

		g.Go(func() error {
			members, err := e.platform.FetchChannelMembers(ctx, ch.ID)
			if err != nil {
				results[i].err = apperrors.NewPlatformLookupFailed(ch.ID, err)
				return nil
			}
			results[i].members = members
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewContextCancelled("resolve channel members", err)
	}
	return results, nil
}

// reconcileMemberships compares each stored user's joined set with the one
// implied by memberships, emits the edge changes and then commits the new sets.
func (e *Engine) reconcileMemberships(ctx context.Context, memberships []channelMembers) ([]signal.Signal, int, error) {
	joined := make(map[string][]string)
	unresolved := make(map[string]bool)
	failures := 0

	for _, cm := range memberships {
		if cm.channelID == "" {
			continue
		}
		if _, ok := e.store.Channels.GetSync(cm.channelID); !ok {
			continue
		}
		if cm.err != nil {
			failures++
			unresolved[cm.channelID] = true
			e.logger.Warn("Channel member lookup failed, keeping previous memberships",
				zap.String("channel_id", cm.channelID),
				zap.Error(cm.err))
			continue
		}
		for _, memberID := range cm.members {
			if _, ok := e.store.Users.GetSync(memberID); !ok {
				continue
			}
			if !slices.Contains(joined[memberID], cm.channelID) {
				joined[memberID] = append(joined[memberID], cm.channelID)
			}
		}
	}

	var signals []signal.Signal
	var commits []mirror.User

	for _, u := range e.store.Users.AllSync() {
		previous := u.Channels
		next := joined[u.ID]

		// A channel we could not look up keeps whatever membership it had.
		for _, channelID := range previous {
			if unresolved[channelID] && !slices.Contains(next, channelID) {
				next = append(next, channelID)
			}
		}

		if len(previous) == 0 && len(next) == 0 {
			continue
		}

		for _, channelID := range previous {
			if slices.Contains(next, channelID) {
				continue
			}
			if s, ok := e.lapsedMembership(u, channelID); ok {
				signals = append(signals, s)
			}
		}

		for _, channelID := range next {
			if slices.Contains(previous, channelID) {
				continue
			}
			ch, ok := e.store.Channels.GetSync(channelID)
			if !ok {
				continue
			}
			signals = append(signals, signal.Membership(u, ch))
		}

		if next == nil {
			next = []string{}
		}
		commits = append(commits, mirror.User{ID: u.ID, Channels: next})
	}

	for _, u := range commits {
		if err := e.store.Users.Save(ctx, u); err != nil {
			return nil, failures, err
		}
	}

	return signals, failures, nil
}

// lapsedMembership builds the delete for a membership that ended. It yields
// nothing when the edge's remote id was never learned.
func (e *Engine) lapsedMembership(u mirror.User, channelID string) (signal.Signal, bool) {
	ch, ok := e.store.Channels.GetSync(channelID)
	if !ok {
		return signal.Signal{}, false
	}

	key := mirror.EdgeKey{Type: constants.EdgeMemberOf, From: u.RemoteID, To: ch.RemoteID}
	edgeID, ok := e.cache.EdgeID(key)
	if !ok {
		e.logger.Debug("No remote edge for lapsed membership, skipping delete",
			zap.String("user_id", u.ID),
			zap.String("channel_id", channelID))
		return signal.Signal{}, false
	}

	e.cache.DeleteEdge(key)
	return signal.DeleteMembership(edgeID, u, ch), true
}
