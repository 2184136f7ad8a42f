package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"graphmirror/backend/internal/graphsync"
	"graphmirror/backend/internal/signal"
)

// Mirror receives workspace events
type Mirror interface {
	SynchronizeTeamData(ctx context.Context, users []graphsync.ObservedUser, channels []graphsync.ObservedChannel) error
	OnMessageReceived(ctx context.Context, msg graphsync.Message) error
	OnUserJoinedChannel(ctx context.Context, userID, channelID string) error
	OnUserLeftChannel(ctx context.Context, userID, channelID string) error
	OnChannelCreated(ctx context.Context, ch graphsync.ObservedChannel) error
	OnTeamJoined(ctx context.Context, u graphsync.ObservedUser) error
	OnMessageDeleted(ctx context.Context, msg graphsync.DeletedMessage) error
	AnswerMentionsQuery(ctx context.Context, channelID, userID string, dir graphsync.MentionDirection) error
	GraphURL() string
}

// Handler turns Discord gateway events into mirror events
type Handler struct {
	mirror   Mirror
	platform *Platform
	guildID  string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHandler creates a handler that mirrors guildID. Events from any other
// guild are ignored, since one graph holds one guild.
func NewHandler(mirror Mirror, platform *Platform, guildID string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		mirror:   mirror,
		platform: platform,
		guildID:  guildID,
		timeout:  2 * time.Minute,
		logger:   logger,
	}
}

// Register adds every handler to the session
func (h *Handler) Register(s *discordgo.Session) {
	s.AddHandler(h.HandleGuildCreate)
	s.AddHandler(h.HandleGuildMemberAdd)
	s.AddHandler(h.HandleChannelCreate)
	s.AddHandler(h.HandleThreadCreate)
	s.AddHandler(h.HandleThreadMembersUpdate)
	s.AddHandler(h.HandleMessageCreate)
	s.AddHandler(h.HandleMessageDelete)
}

// Intents are the gateway intents the handlers depend on
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

func (h *Handler) watched(guildID string) bool {
	return guildID != "" && guildID == h.guildID
}

func (h *Handler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

// HandleGuildCreate runs a full pass when a guild becomes available
func (h *Handler) HandleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if !h.watched(g.ID) || g.Unavailable {
		return
	}
	h.Resync(s.State, g.ID)
}

// Resync runs a full pass over a guild from the state cache
func (h *Handler) Resync(state *discordgo.State, guildID string) {
	snap, err := BuildSnapshot(state, guildID)
	if err != nil {
		h.logger.Error("Failed to build guild snapshot", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	ctx, cancel := h.context()
	defer cancel()

	h.logger.Info("Synchronizing guild",
		zap.String("guild_id", guildID),
		zap.Int("users", len(snap.Users)),
		zap.Int("channels", len(snap.Channels)))
	if err := h.mirror.SynchronizeTeamData(ctx, snap.Users, snap.Channels); err != nil {
		h.logger.Error("Guild synchronization failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// HandleGuildMemberAdd records a new guild member
func (h *Handler) HandleGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if !h.watched(m.GuildID) || m.User == nil || m.User.Bot {
		return
	}
	ctx, cancel := h.context()
	defer cancel()
	h.check("team joined", h.mirror.OnTeamJoined(ctx, observedUser(m.User)))
}

// HandleChannelCreate records a new text channel
func (h *Handler) HandleChannelCreate(_ *discordgo.Session, c *discordgo.ChannelCreate) {
	if !h.watched(c.GuildID) || !mirrored(c.Channel) {
		return
	}
	h.channelCreated(c.Channel)
}

// HandleThreadCreate records a new thread. The creator's membership arrives
// as a thread members update.
func (h *Handler) HandleThreadCreate(_ *discordgo.Session, t *discordgo.ThreadCreate) {
	if !h.watched(t.GuildID) || !t.NewlyCreated {
		return
	}
	h.channelCreated(t.Channel)
}

func (h *Handler) channelCreated(ch *discordgo.Channel) {
	ctx, cancel := h.context()
	defer cancel()
	h.check("channel created", h.mirror.OnChannelCreated(ctx, graphsync.ObservedChannel{ID: ch.ID, Name: ch.Name}))
}

// HandleThreadMembersUpdate applies thread joins and leaves
func (h *Handler) HandleThreadMembersUpdate(_ *discordgo.Session, u *discordgo.ThreadMembersUpdate) {
	if !h.watched(u.GuildID) {
		return
	}
	ctx, cancel := h.context()
	defer cancel()

	for _, added := range u.AddedMembers {
		if added.ThreadMember == nil {
			continue
		}
		h.check("user joined channel", h.mirror.OnUserJoinedChannel(ctx, added.UserID, u.ID))
	}
	for _, userID := range u.RemovedMembers {
		h.check("user left channel", h.mirror.OnUserLeftChannel(ctx, userID, u.ID))
	}
}

// HandleMessageCreate records a message, and answers it when it is a
// question addressed to the bot
func (h *Handler) HandleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !h.watched(m.GuildID) || m.Author == nil || m.Author.Bot {
		return
	}

	ctx, cancel := h.context()
	defer cancel()

	ts, err := snowflakeTS(m.ID)
	if err != nil {
		h.logger.Warn("Message id is not a snowflake", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	h.check("message received", h.mirror.OnMessageReceived(ctx, graphsync.Message{
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		TS:        ts,
		Text:      m.Content,
	}))

	botID := ""
	if s != nil && s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	cmd, ok := parseCommand(m.Content, botID, m.Author.ID)
	if !ok {
		return
	}

	h.logger.Info("Processing Discord command",
		zap.String("user_id", m.Author.ID),
		zap.String("channel_id", m.ChannelID),
		zap.String("command", cmd.kind.String()))

	switch cmd.kind {
	case commandGraphURL:
		text := "The graph is not ready yet."
		if url := h.mirror.GraphURL(); url != "" {
			text = "The graph lives at " + url
		}
		if err := h.platform.Reply(ctx, m.ChannelID, text); err != nil {
			h.logger.Error("Failed to reply", zap.String("channel_id", m.ChannelID), zap.Error(err))
		}
	case commandMentionsOf:
		h.check("mentions query", h.mirror.AnswerMentionsQuery(ctx, m.ChannelID, cmd.userID, graphsync.MentionedBy))
	case commandMentionsBy:
		h.check("mentions query", h.mirror.AnswerMentionsQuery(ctx, m.ChannelID, cmd.userID, graphsync.Mentioning))
	}
}

// HandleMessageDelete flags a deleted message. Only messages still in the
// state cache can be attributed to an author.
func (h *Handler) HandleMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if !h.watched(m.GuildID) {
		return
	}
	if m.BeforeDelete == nil || m.BeforeDelete.Author == nil {
		h.logger.Debug("Deleted message not cached, skipping", zap.String("message_id", m.ID))
		return
	}

	ts, err := snowflakeTS(m.ID)
	if err != nil {
		return
	}

	ctx, cancel := h.context()
	defer cancel()
	h.check("message deleted", h.mirror.OnMessageDeleted(ctx, graphsync.DeletedMessage{
		ChannelID: m.ChannelID,
		UserID:    m.BeforeDelete.Author.ID,
		TS:        ts,
		DeletedTS: formatTS(time.Now()),
	}))
}

func (h *Handler) check(event string, err error) {
	if err != nil {
		h.logger.Error("Failed to mirror event", zap.String("event", event), zap.Error(err))
	}
}

type commandKind int

const (
	commandGraphURL commandKind = iota
	commandMentionsOf
	commandMentionsBy
)

func (k commandKind) String() string {
	switch k {
	case commandMentionsOf:
		return "mentions_of"
	case commandMentionsBy:
		return "mentions_by"
	default:
		return "graph"
	}
}

type command struct {
	kind   commandKind
	userID string
}

// parseCommand recognizes messages that start with a mention of the bot:
//
//	@bot graph
//	@bot mentions of @user   (who mentions user; defaults to the author)
//	@bot mentions by @user   (whom user mentions; defaults to the author)
func parseCommand(content, botID, authorID string) (command, bool) {
	if botID == "" {
		return command{}, false
	}

	content = strings.TrimSpace(content)
	stripped := false
	for _, prefix := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		if strings.HasPrefix(content, prefix) {
			content = strings.TrimSpace(strings.TrimPrefix(content, prefix))
			stripped = true
			break
		}
	}
	if !stripped {
		return command{}, false
	}

	target := authorID
	for _, id := range signal.ParseMentions(content) {
		if id != botID {
			target = id
			break
		}
	}

	fields := strings.Fields(strings.ToLower(content))
	if len(fields) == 0 {
		return command{}, false
	}
	switch {
	case fields[0] == "graph":
		return command{kind: commandGraphURL}, true
	case fields[0] == "mentions" && len(fields) > 1 && fields[1] == "of":
		return command{kind: commandMentionsOf, userID: target}, true
	case fields[0] == "mentions" && len(fields) > 1 && fields[1] == "by":
		return command{kind: commandMentionsBy, userID: target}, true
	default:
		return command{}, false
	}
}
