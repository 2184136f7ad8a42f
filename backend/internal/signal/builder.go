package signal

import (
	"fmt"
	"regexp"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/mirror"
)

// mentionPattern matches Discord user mentions, <@id> and the legacy <@!id>
var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// NewUser creates the User node for u
func NewUser(u mirror.User) Signal {
	return Signal{
		Action: ActionNodeCreate,
		Type:   constants.NodeUser,
		Name:   u.Name,
		Image:  u.Avatar,
		Properties: map[string]any{
			constants.PropUserID: u.ID,
		},
	}
}

// NewChannel creates the Channel node for c
func NewChannel(c mirror.Channel) Signal {
	return Signal{
		Action: ActionNodeCreate,
		Type:   constants.NodeChannel,
		Name:   c.Name,
		Properties: map[string]any{
			constants.PropChannelID: c.ID,
		},
	}
}

// Membership creates a MEMBER_OF edge, addressed by node names
func Membership(u mirror.User, c mirror.Channel) Signal {
	return Signal{
		Action:     ActionEdgeCreate,
		Name:       constants.EdgeMemberOf,
		FromType:   constants.NodeUser,
		FromName:   u.Name,
		ToType:     constants.NodeChannel,
		ToName:     c.Name,
		Properties: map[string]any{},
	}
}

// DeleteMembership removes the MEMBER_OF edge with the given remote id
func DeleteMembership(edgeID string, u mirror.User, c mirror.Channel) Signal {
	return Signal{
		Action: ActionEdgeDelete,
		Name:   constants.EdgeMemberOf,
		ID:     edgeID,
		From:   u.RemoteID,
		To:     c.RemoteID,
	}
}

// MessageName is the natural key of a message node
func MessageName(authorName, ts string) string {
	return fmt.Sprintf("%s - %s", authorName, ts)
}

// MessageNode creates a Message node
func MessageNode(name, text, ts, channelName string) Signal {
	return Signal{
		Action:      ActionNodeCreate,
		Type:        constants.NodeMessage,
		Name:        name,
		Description: text,
		Properties: map[string]any{
			constants.PropTimestamp:   ts,
			constants.PropChannelName: channelName,
		},
	}
}

// SentMessage links an author to a message
func SentMessage(author mirror.User, messageName string) Signal {
	return edge(constants.EdgeSentMessage, constants.NodeUser, author.Name, constants.NodeMessage, messageName)
}

// MessageIn links a message to its channel
func MessageIn(messageName string, c mirror.Channel) Signal {
	return edge(constants.EdgeMessageIn, constants.NodeMessage, messageName, constants.NodeChannel, c.Name)
}

// Mentions links a message to a mentioned user
func Mentions(messageName string, mentioned mirror.User) Signal {
	return edge(constants.EdgeMentions, constants.NodeMessage, messageName, constants.NodeUser, mentioned.Name)
}

func edge(name, fromType, fromName, toType, toName string) Signal {
	return Signal{
		Action:   ActionEdgeCreate,
		Name:     name,
		FromType: fromType,
		FromName: fromName,
		ToType:   toType,
		ToName:   toName,
	}
}

// ChannelRemap points an existing Channel node at a recreated channel's id.
// The node is addressed by remote id, or by type and name while that is unknown.
func ChannelRemap(existing mirror.Channel, newChannelID string) Signal {
	s := Signal{
		Action: ActionNodeUpdate,
		ID:     existing.RemoteID,
		Properties: map[string]any{
			constants.PropChannelID: newChannelID,
		},
		Prev: &Prev{Properties: map[string]any{
			constants.PropChannelID: existing.ID,
		}},
	}
	if existing.RemoteID == "" {
		s.Type = constants.NodeChannel
		s.Name = existing.Name
	}
	return s
}

// MessageDeleted flags a Message node as deleted
func MessageDeleted(messageName, deletedTS string) Signal {
	return Signal{
		Action: ActionNodeUpdate,
		Type:   constants.NodeMessage,
		Name:   messageName,
		Properties: map[string]any{
			constants.PropDeleted:   1,
			constants.PropDeletedTS: deletedTS,
		},
		Prev: &Prev{Properties: map[string]any{
			constants.PropDeleted:   nil,
			constants.PropDeletedTS: nil,
		}},
	}
}

// GraphSchema declares the node and edge types of a new graph
func GraphSchema() []TypeSignal {
	return []TypeSignal{
		{
			Action:     ActionNodeTypeCreate,
			Name:       constants.NodeUser,
			Properties: []TypeProperty{{Name: constants.PropUserID, NameAlias: constants.PropUserID}},
		},
		{
			Action:     ActionNodeTypeCreate,
			Name:       constants.NodeChannel,
			Properties: []TypeProperty{{Name: constants.PropChannelID, NameAlias: constants.PropChannelID}},
		},
		{
			Action: ActionNodeTypeCreate,
			Name:   constants.NodeMessage,
			Properties: []TypeProperty{
				{Name: constants.PropTimestamp, NameAlias: constants.PropTimestamp},
				{Name: "deleted", NameAlias: "deleted"},
			},
		},
		{
			Action:     ActionEdgeTypeCreate,
			Name:       constants.EdgeMemberOf,
			Directed:   1,
			Properties: []TypeProperty{},
		},
	}
}

// ParseMentions returns the user ids mentioned in text, in order of first appearance
func ParseMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return ids
}
