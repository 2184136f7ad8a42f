package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/graphsync"
)

// Snapshot is a guild as the diff engine observes it
type Snapshot struct {
	Users    []graphsync.ObservedUser
	Channels []graphsync.ObservedChannel
}

// BuildSnapshot reads a guild from the state cache. Bots are left out. Text
// channels the bot can view carry their members; threads and hidden channels
// are left for the engine to look up.
func BuildSnapshot(state *discordgo.State, guildID string) (Snapshot, error) {
	guild, err := state.Guild(guildID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("guild %s not in state: %w", guildID, err)
	}

	botID := ""
	if state.User != nil {
		botID = state.User.ID
	}

	var snap Snapshot
	for _, m := range guild.Members {
		if m.User == nil || m.User.Bot {
			continue
		}
		snap.Users = append(snap.Users, observedUser(m.User))
	}

	for _, ch := range guild.Channels {
		if !mirrored(ch) {
			continue
		}
		observed := graphsync.ObservedChannel{ID: ch.ID, Name: ch.Name}
		if botID != "" && canView(state, botID, ch.ID) {
			observed.IsMember = true
			observed.Members = viewers(state, guild, ch)
		}
		snap.Channels = append(snap.Channels, observed)
	}

	for _, th := range guild.Threads {
		snap.Channels = append(snap.Channels, graphsync.ObservedChannel{ID: th.ID, Name: th.Name})
	}

	return snap, nil
}

func observedUser(u *discordgo.User) graphsync.ObservedUser {
	return graphsync.ObservedUser{
		ID:     u.ID,
		Name:   u.Username,
		Avatar: u.AvatarURL(constants.DiscordAvatarSize),
	}
}

// mirrored reports whether a guild channel is one messages are sent in
func mirrored(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	default:
		return ch.IsThread()
	}
}

// viewers lists the non-bot guild members allowed to view ch
func viewers(state *discordgo.State, guild *discordgo.Guild, ch *discordgo.Channel) []string {
	ids := make([]string, 0, len(guild.Members))
	for _, m := range guild.Members {
		if m.User == nil || m.User.Bot {
			continue
		}
		if canView(state, m.User.ID, ch.ID) {
			ids = append(ids, m.User.ID)
		}
	}
	return ids
}

func canView(state *discordgo.State, userID, channelID string) bool {
	perms, err := state.UserChannelPermissions(userID, channelID)
	if err != nil {
		return false
	}
	return perms&discordgo.PermissionViewChannel != 0
}

// snowflakeTS renders the creation time encoded in a Discord id as
// "seconds.millis", the message timestamp format of the graph
func snowflakeTS(id string) (string, error) {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return "", err
	}
	return formatTS(t), nil
}

func formatTS(t time.Time) string {
	ms := t.UnixMilli()
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
