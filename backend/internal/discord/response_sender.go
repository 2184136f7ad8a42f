package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"graphmirror/backend/internal/constants"
)

// Session is the part of the Discord REST API the mirror uses
type Session interface {
	ThreadMembers(threadID string, limit int, withMember bool, afterID string, options ...discordgo.RequestOption) ([]*discordgo.ThreadMember, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// threadMembersPage is the largest page Discord serves for thread members
const threadMembersPage = 100

// Platform answers the sync engine's questions about the guild from the
// gateway state cache and the REST API
type Platform struct {
	session Session
	state   *discordgo.State
	logger  *zap.Logger
}

// NewPlatform creates a platform adapter
func NewPlatform(session Session, state *discordgo.State, logger *zap.Logger) *Platform {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Platform{session: session, state: state, logger: logger}
}

// FetchChannelMembers lists thread members through the API, and for regular
// channels every guild member allowed to view the channel
func (p *Platform) FetchChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	ch, err := p.state.Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("channel %s not in state: %w", channelID, err)
	}

	if !ch.IsThread() {
		guild, err := p.state.Guild(ch.GuildID)
		if err != nil {
			return nil, fmt.Errorf("guild %s not in state: %w", ch.GuildID, err)
		}
		return viewers(p.state, guild, ch), nil
	}

	var ids []string
	after := ""
	for {
		page, err := p.session.ThreadMembers(channelID, threadMembersPage, false, after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			ids = append(ids, m.UserID)
		}
		if len(page) < threadMembersPage {
			return ids, nil
		}
		after = page[len(page)-1].UserID
	}
}

// Reply posts text to a channel, split into as many messages as needed.
// Mentions in replies never ping anyone.
func (p *Platform) Reply(ctx context.Context, channelID, text string) error {
	chunks := splitMessage(text, constants.DiscordMaxMessageLength)
	for i, chunk := range chunks {
		_, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		}, discordgo.WithContext(ctx))
		if err != nil {
			p.logger.Error("Failed to send message chunk",
				zap.Error(err),
				zap.String("channel_id", channelID),
				zap.Int("chunk", i+1),
				zap.Int("total_chunks", len(chunks)))
			return err
		}

		// Brief pause between chunks to stay clear of rate limits
		if i < len(chunks)-1 {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// splitMessage splits content into chunks of at most maxLength bytes,
// preferring line breaks, then spaces
func splitMessage(content string, maxLength int) []string {
	if len(content) <= maxLength {
		return []string{content}
	}

	var chunks []string
	current := ""
	for _, line := range strings.Split(content, "\n") {
		// If adding this line would exceed the limit, start a new chunk
		if current != "" && len(current)+1+len(line) > maxLength {
			chunks = append(chunks, current)
			current = ""
		}

		for len(line) > maxLength {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			splitIdx := maxLength
			if spaceIdx := strings.LastIndex(line[:maxLength], " "); spaceIdx > maxLength*3/4 {
				splitIdx = spaceIdx + 1
			}
			chunks = append(chunks, line[:splitIdx])
			line = line[splitIdx:]
		}

		if current != "" {
			current += "\n"
		}
		current += line
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
