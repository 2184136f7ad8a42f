package constants

// Node types
const (
	NodeUser    = "User"
	NodeChannel = "Channel"
	NodeMessage = "Message"
)

// Edge types
const (
	EdgeMemberOf    = "MEMBER_OF"
	EdgeSentMessage = "SENT_MESSAGE"
	EdgeMentions    = "MENTIONS"
	EdgeMessageIn   = "MESSAGE_IN"
)

// Node property keys carrying platform-native ids
const (
	PropUserID      = "user_id"
	PropChannelID   = "channel_id"
	PropTimestamp   = "ts"
	PropChannelName = "channel_name"
	PropDeleted     = "is_deleted"
	PropDeletedTS   = "deleted_ts"
)

// Remote graph defaults
const (
	// DefaultGraphName is used when a new remote graph is created
	DefaultGraphName = "My Discord graph"
	// DefaultGraphDescription describes a generated graph
	DefaultGraphDescription = "This is a generated graph"
)

// Discord constants
const (
	// DiscordMaxMessageLength is the maximum character limit for Discord messages
	DiscordMaxMessageLength = 2000
	// DiscordAvatarSize is the avatar size requested for User nodes
	DiscordAvatarSize = "192"
)
