package signal

import (
	"encoding/json"
	"testing"

	"graphmirror/backend/internal/mirror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestNewUser_WireShape(t *testing.T) {
	u := mirror.User{ID: "U1", Name: "alice", Avatar: "https://cdn/a.png"}

	assert.JSONEq(t,
		`{"action":"node_create","type":"User","name":"alice","image":"https://cdn/a.png","properties":{"user_id":"U1"}}`,
		marshal(t, NewUser(u)))
}

func TestNewChannel_WireShape(t *testing.T) {
	assert.JSONEq(t,
		`{"action":"node_create","type":"Channel","name":"general","properties":{"channel_id":"C1"}}`,
		marshal(t, NewChannel(mirror.Channel{ID: "C1", Name: "general"})))
}

func TestMembership_AddressesByName(t *testing.T) {
	s := Membership(mirror.User{ID: "U1", Name: "a"}, mirror.Channel{ID: "C1", Name: "g"})

	assert.Equal(t, ActionEdgeCreate, s.Action)
	assert.Equal(t, "MEMBER_OF", s.Name)
	assert.Equal(t, "a", s.FromName)
	assert.Equal(t, "g", s.ToName)
	assert.Empty(t, s.Properties)
	assert.JSONEq(t,
		`{"action":"edge_create","name":"MEMBER_OF","from_type":"User","from_name":"a","to_type":"Channel","to_name":"g"}`,
		marshal(t, s))
}

func TestDeleteMembership_UsesRemoteIDs(t *testing.T) {
	s := DeleteMembership("e-9",
		mirror.User{ID: "U1", RemoteID: "u-r"},
		mirror.Channel{ID: "C1", RemoteID: "c-r"})

	assert.JSONEq(t,
		`{"action":"edge_delete","name":"MEMBER_OF","id":"e-9","from":"u-r","to":"c-r"}`,
		marshal(t, s))
}

func TestMessageSignals(t *testing.T) {
	author := mirror.User{ID: "U1", Name: "alice"}
	ch := mirror.Channel{ID: "C1", Name: "general"}
	name := MessageName(author.Name, "1700000000.123")
	assert.Equal(t, "alice - 1700000000.123", name)

	node := MessageNode(name, "hello", "1700000000.123", ch.Name)
	assert.JSONEq(t,
		`{"action":"node_create","type":"Message","name":"alice - 1700000000.123","description":"hello","properties":{"ts":"1700000000.123","channel_name":"general"}}`,
		marshal(t, node))

	sent := SentMessage(author, name)
	assert.Equal(t, "SENT_MESSAGE", sent.Name)
	assert.Equal(t, "User", sent.FromType)
	assert.Equal(t, "Message", sent.ToType)

	in := MessageIn(name, ch)
	assert.Equal(t, "MESSAGE_IN", in.Name)
	assert.Equal(t, "general", in.ToName)

	m := Mentions(name, mirror.User{ID: "U2", Name: "bob"})
	assert.Equal(t, "MENTIONS", m.Name)
	assert.Equal(t, "bob", m.ToName)
}

func TestChannelRemap(t *testing.T) {
	s := ChannelRemap(mirror.Channel{ID: "C1", Name: "general", RemoteID: "c-r"}, "C2")

	assert.JSONEq(t,
		`{"action":"node_update","id":"c-r","properties":{"channel_id":"C2"},"prev":{"properties":{"channel_id":"C1"}}}`,
		marshal(t, s))
}

func TestChannelRemap_ByNameWithoutRemoteID(t *testing.T) {
	s := ChannelRemap(mirror.Channel{ID: "C1", Name: "general"}, "C2")

	assert.Empty(t, s.ID)
	assert.Equal(t, "Channel", s.Type)
	assert.Equal(t, "general", s.Name)
}

func TestMessageDeleted_KeepsNullPrev(t *testing.T) {
	s := MessageDeleted("alice - 1", "2")

	assert.Equal(t,
		`{"action":"node_update","type":"Message","name":"alice - 1","properties":{"deleted_ts":"2","is_deleted":1},"prev":{"properties":{"deleted_ts":null,"is_deleted":null}}}`,
		marshal(t, s))
}

func TestBuilders_AreDeterministic(t *testing.T) {
	u := mirror.User{ID: "U1", Name: "alice", Avatar: "x"}
	c := mirror.Channel{ID: "C1", Name: "general"}

	for i := 0; i < 20; i++ {
		assert.Equal(t, marshal(t, NewUser(u)), marshal(t, NewUser(u)))
		assert.Equal(t, marshal(t, MessageNode("n", "t", "1", c.Name)), marshal(t, MessageNode("n", "t", "1", c.Name)))
	}
}

func TestGraphSchema(t *testing.T) {
	schema := GraphSchema()
	require.Len(t, schema, 4)
	assert.Equal(t, ActionNodeTypeCreate, schema[0].Action)
	assert.Equal(t, "User", schema[0].Name)
	assert.Equal(t, ActionEdgeTypeCreate, schema[3].Action)
	assert.JSONEq(t,
		`{"action":"edgetype_create","name":"MEMBER_OF","directed":1,"properties":[]}`,
		marshal(t, schema[3]))
}

func TestParseMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "none", text: "hello there", want: nil},
		{name: "single", text: "hi <@123>", want: []string{"123"}},
		{name: "nickname form", text: "hi <@!456>", want: []string{"456"}},
		{name: "several in order", text: "<@2> and <@1> and <@2>", want: []string{"2", "1"}},
		{name: "role mention ignored", text: "<@&99> <#42>", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMentions(tt.text))
		})
	}
}

func TestStringProperty(t *testing.T) {
	s := Signal{Properties: map[string]any{
		"user_id":    "U1",
		"n":          3,
		"channel_id": float64(1234567890123),
		"small":      float64(42),
		"nil":        nil,
	}}

	assert.Equal(t, "U1", s.StringProperty("user_id"))
	assert.Equal(t, "3", s.StringProperty("n"))
	assert.Equal(t, "1234567890123", s.StringProperty("channel_id"))
	assert.Equal(t, "42", s.StringProperty("small"))
	assert.Equal(t, "", s.StringProperty("nil"))
	assert.Equal(t, "", s.StringProperty("missing"))
}
