package graphsync

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"graphmirror/backend/internal/mirror"
	"graphmirror/backend/internal/signal"
)

// OnMessageReceived records a message with its author, channel and mentions.
// Messages from users or channels not yet in the store are dropped.
func (c *Connector) OnMessageReceived(ctx context.Context, msg Message) error {
	return c.dispatch(ctx, "message received", func(context.Context) (signal.Result, error) {
		author, ok := c.store.Users.GetSync(msg.UserID)
		if !ok {
			c.logger.Debug("Dropping message from unknown user", zap.String("user_id", msg.UserID))
			return signal.None(), nil
		}
		ch, ok := c.store.Channels.GetSync(msg.ChannelID)
		if !ok {
			c.logger.Debug("Dropping message in unknown channel", zap.String("channel_id", msg.ChannelID))
			return signal.None(), nil
		}

		name := signal.MessageName(author.Name, msg.TS)
		signals := []signal.Signal{
			signal.MessageNode(name, msg.Text, msg.TS, ch.Name),
			signal.SentMessage(author, name),
			signal.MessageIn(name, ch),
		}
		for _, mentionedID := range signal.ParseMentions(msg.Text) {
			mentioned, ok := c.store.Users.GetSync(mentionedID)
			if !ok {
				continue
			}
			signals = append(signals, signal.Mentions(name, mentioned))
		}
		return signal.Batch(signals...), nil
	})
}

// OnUserJoinedChannel adds one membership
func (c *Connector) OnUserJoinedChannel(ctx context.Context, userID, channelID string) error {
	return c.dispatch(ctx, "user joined channel", func(ctx context.Context) (signal.Result, error) {
		u, ok := c.store.Users.GetSync(userID)
		if !ok {
			return signal.None(), nil
		}
		ch, ok := c.store.Channels.GetSync(channelID)
		if !ok {
			return signal.None(), nil
		}
		if u.HasChannel(channelID) {
			return signal.None(), nil
		}

		joined := append(slices.Clone(u.Channels), channelID)
		if err := c.store.Users.Save(ctx, mirror.User{ID: u.ID, Channels: joined}); err != nil {
			return signal.None(), err
		}
		return signal.One(signal.Membership(u, ch)), nil
	})
}

// OnUserLeftChannel removes one membership. The channel leaves the user's
// joined set even when no delete can be issued for its edge.
func (c *Connector) OnUserLeftChannel(ctx context.Context, userID, channelID string) error {
	return c.dispatch(ctx, "user left channel", func(ctx context.Context) (signal.Result, error) {
		u, ok := c.store.Users.GetSync(userID)
		if !ok || !u.HasChannel(channelID) {
			return signal.None(), nil
		}

		remaining := slices.DeleteFunc(slices.Clone(u.Channels), func(id string) bool { return id == channelID })
		if err := c.store.Users.Save(ctx, mirror.User{ID: u.ID, Channels: remaining}); err != nil {
			return signal.None(), err
		}

		if s, ok := c.engine.lapsedMembership(u, channelID); ok {
			return signal.One(s), nil
		}
		return signal.None(), nil
	})
}

// OnChannelCreated records a new channel. A channel reusing the name of a
// known one is treated as the same node under a new id.
func (c *Connector) OnChannelCreated(ctx context.Context, observed ObservedChannel) error {
	return c.dispatch(ctx, "channel created", func(ctx context.Context) (signal.Result, error) {
		if _, ok := c.store.Channels.GetSync(observed.ID); ok {
			return signal.None(), nil
		}

		if existing, ok := c.store.FindChannelByName(observed.Name); ok {
			remapped := mirror.Channel{ID: observed.ID, Name: observed.Name, RemoteID: existing.RemoteID}
			if err := c.store.Channels.Save(ctx, remapped); err != nil {
				return signal.None(), err
			}
			if existing.RemoteID != "" {
				c.cache.PutChannel(existing.RemoteID, observed.ID)
			}
			c.logger.Info("Channel recreated, remapping",
				zap.String("name", observed.Name),
				zap.String("old_channel_id", existing.ID),
				zap.String("channel_id", observed.ID))
			return signal.One(signal.ChannelRemap(existing, observed.ID)), nil
		}

		ch := mirror.Channel{ID: observed.ID, Name: observed.Name}
		if err := c.store.Channels.Save(ctx, ch); err != nil {
			return signal.None(), err
		}
		return signal.One(signal.NewChannel(ch)), nil
	})
}

// OnTeamJoined records a user who joined the workspace
func (c *Connector) OnTeamJoined(ctx context.Context, observed ObservedUser) error {
	return c.dispatch(ctx, "team joined", func(ctx context.Context) (signal.Result, error) {
		_, existed := c.store.Users.GetSync(observed.ID)

		u := mirror.User{ID: observed.ID, Name: observed.Name, Avatar: observed.Avatar}
		if err := c.store.Users.Save(ctx, u); err != nil {
			return signal.None(), err
		}
		if existed {
			return signal.None(), nil
		}
		return signal.One(signal.NewUser(u)), nil
	})
}

// OnMessageDeleted flags a message node as deleted. The author must be known.
func (c *Connector) OnMessageDeleted(ctx context.Context, msg DeletedMessage) error {
	return c.dispatch(ctx, "message deleted", func(context.Context) (signal.Result, error) {
		return signal.Pending(func(ctx context.Context) ([]signal.Signal, error) {
			author, err := c.store.Users.Get(ctx, msg.UserID)
			if err != nil {
				return nil, err
			}
			name := signal.MessageName(author.Name, msg.TS)
			return []signal.Signal{signal.MessageDeleted(name, msg.DeletedTS)}, nil
		}), nil
	})
}
