// Package graphsync keeps the remote graph in step with the chat workspace:
// a diff engine for full passes, and a connector that turns live events into
// signals and feeds them through the serialized queue.
package graphsync

import "context"

// Platform is the chat platform as the sync engine needs it
type Platform interface {
	// FetchChannelMembers lists the members of a channel the bot cannot
	// observe directly
	FetchChannelMembers(ctx context.Context, channelID string) ([]string, error)

	// Reply posts text to a channel
	Reply(ctx context.Context, channelID, text string) error
}

// ObservedUser is a workspace member as reported by the platform
type ObservedUser struct {
	ID     string
	Name   string
	Avatar string
}

// ObservedChannel is a channel as reported by the platform. Members is only
// meaningful when IsMember is set; otherwise the engine looks them up.
type ObservedChannel struct {
	ID       string
	Name     string
	IsMember bool
	Members  []string
}

// Message is a chat message seen live
type Message struct {
	ChannelID string
	UserID    string
	TS        string
	Text      string
}

// DeletedMessage identifies a message that was removed
type DeletedMessage struct {
	ChannelID string
	UserID    string
	TS        string
	DeletedTS string
}

// PassRecorder is told about every full synchronization pass
type PassRecorder interface {
	RecordSyncPass(lookupFailures int)
}
