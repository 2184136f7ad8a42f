package graphsync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "graphmirror/backend/pkg/errors"
)

const mentionsApology = "Sorry, I couldn't look that up right now."

// MentionDirection selects which side of a mention a query asks about
type MentionDirection int

const (
	// MentionedBy asks who mentions the user
	MentionedBy MentionDirection = iota
	// Mentioning asks whom the user mentions
	Mentioning
)

// MentionsFor returns the ids of users whose messages mention userID
func (c *Connector) MentionsFor(ctx context.Context, userID string) ([]string, error) {
	return c.mentions(ctx, userID, MentionedBy)
}

// MentionsBy returns the ids of users mentioned in messages by userID
func (c *Connector) MentionsBy(ctx context.Context, userID string) ([]string, error) {
	return c.mentions(ctx, userID, Mentioning)
}

func (c *Connector) mentions(ctx context.Context, userID string, dir MentionDirection) ([]string, error) {
	graphID := c.GraphID()
	if graphID == "" {
		return nil, apperrors.ErrGraphNotInitialized
	}

	u, err := c.store.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.RemoteID == "" {
		return []string{}, nil
	}

	var ids []string
	if dir == MentionedBy {
		ids, err = c.remote.Mentioners(ctx, graphID, u.RemoteID)
	} else {
		ids, err = c.remote.Mentioned(ctx, graphID, u.RemoteID)
	}
	if err != nil {
		return nil, fmt.Errorf("query mentions of %s: %w", userID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// AnswerMentionsQuery replies in channelID with the users related to userID
// by mentions. Lookup failures turn into an apologetic reply.
func (c *Connector) AnswerMentionsQuery(ctx context.Context, channelID, userID string, dir MentionDirection) error {
	var ids []string
	var err error
	if dir == MentionedBy {
		ids, err = c.MentionsFor(ctx, userID)
	} else {
		ids, err = c.MentionsBy(ctx, userID)
	}

	text := mentionsReply(userID, ids, dir)
	if err != nil {
		c.logger.Warn("Mentions query failed", zap.String("user_id", userID), zap.Error(err))
		text = mentionsApology
	}

	if err := c.platform.Reply(ctx, channelID, text); err != nil {
		return apperrors.NewPlatformReplyFailed(channelID, err)
	}
	return nil
}

func mentionsReply(userID string, ids []string, dir MentionDirection) string {
	if len(ids) == 0 {
		if dir == MentionedBy {
			return fmt.Sprintf("Nobody has mentioned <@%s> yet.", userID)
		}
		return fmt.Sprintf("<@%s> hasn't mentioned anyone yet.", userID)
	}

	tags := make([]string, len(ids))
	for i, id := range ids {
		tags[i] = "<@" + id + ">"
	}
	if dir == MentionedBy {
		return fmt.Sprintf("<@%s> has been mentioned by %s", userID, strings.Join(tags, ", "))
	}
	return fmt.Sprintf("<@%s> has mentioned %s", userID, strings.Join(tags, ", "))
}
