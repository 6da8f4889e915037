package event

import (
	"fmt"

	"github.com/Jeffail/gabs/v2"
)

// Event is implemented by the three dispatched variants.
type Event interface {
	Variant() Variant
	Type() string
	Sender() string
	Tree() *gabs.Container
}

// Message event type and the room-state types the directory understands.
const (
	TypeMessage   = "m.room.message"
	TypeName      = "m.room.name"
	TypeMember    = "m.room.member"
	TypeAliases   = "m.room.aliases"
	TypeJoinRules = "m.room.join_rules"
)

// Timeline is a message-like event from a joined room's timeline.
type Timeline struct {
	roomID string
	tree   *gabs.Container
}

// NewTimeline wraps tree. roomID is supplied by the caller because timeline
// events inside a sync response do not carry it.
func NewTimeline(roomID string, tree *gabs.Container) Timeline {
	return Timeline{roomID: roomID, tree: tree}
}

func (e Timeline) Variant() Variant         { return VariantTimeline }
func (e Timeline) Tree() *gabs.Container    { return e.tree }
func (e Timeline) RoomID() string           { return e.roomID }
func (e Timeline) EventID() string          { return e.str("event_id") }
func (e Timeline) Sender() string           { return e.str("sender") }
func (e Timeline) Type() string             { return e.str("type") }
func (e Timeline) MsgType() string          { return e.str("msgtype") }
func (e Timeline) Body() string             { return e.str("body") }
func (e Timeline) Content() *gabs.Container { return Lookup(VariantTimeline, e.tree, "content") }

// OriginServerTS is the server timestamp in milliseconds, or 0.
func (e Timeline) OriginServerTS() int64 {
	return asInt64(Lookup(VariantTimeline, e.tree, "origin_server_ts"))
}

// ContentString returns content[k] when it is a string.
func (e Timeline) ContentString(k string) string { return contentString(e.Content(), k) }

func (e Timeline) str(name string) string { return asString(Lookup(VariantTimeline, e.tree, name)) }

// State is a room-state event from a joined room.
type State struct {
	tree *gabs.Container
}

// NewState wraps tree.
func NewState(tree *gabs.Container) State {
	return State{tree: tree}
}

func (e State) Variant() Variant      { return VariantState }
func (e State) Tree() *gabs.Container { return e.tree }
func (e State) EventID() string       { return asString(Lookup(VariantState, e.tree, "event_id")) }
func (e State) Sender() string        { return asString(Lookup(VariantState, e.tree, "sender")) }
func (e State) Type() string          { return asString(Lookup(VariantState, e.tree, "type")) }
func (e State) StateKey() string      { return asString(Lookup(VariantState, e.tree, "state_key")) }

// Content returns the event content, or nil.
func (e State) Content() *gabs.Container { return Lookup(VariantState, e.tree, "content") }

// PrevContent returns the replaced content if the server sent it, or nil.
func (e State) PrevContent() *gabs.Container { return Lookup(VariantState, e.tree, "prev_content") }

// ContentString returns content[k] when it is a string.
func (e State) ContentString(k string) string { return contentString(e.Content(), k) }

// Invite is a stripped state event delivered for a room the user has been
// invited to.
type Invite struct {
	tree *gabs.Container
}

// NewInvite wraps tree.
func NewInvite(tree *gabs.Container) Invite {
	return Invite{tree: tree}
}

func (e Invite) Variant() Variant              { return VariantInvite }
func (e Invite) Tree() *gabs.Container         { return e.tree }
func (e Invite) Sender() string                { return asString(Lookup(VariantInvite, e.tree, "sender")) }
func (e Invite) Type() string                  { return asString(Lookup(VariantInvite, e.tree, "type")) }
func (e Invite) StateKey() string              { return asString(Lookup(VariantInvite, e.tree, "state_key")) }
func (e Invite) Content() *gabs.Container      { return Lookup(VariantInvite, e.tree, "content") }
func (e Invite) ContentString(k string) string { return contentString(e.Content(), k) }

// Login is the body of a successful login response.
type Login struct {
	tree *gabs.Container
}

// ParseLogin decodes a login response body.
func ParseLogin(body []byte) (Login, error) {
	tree, err := gabs.ParseJSON(body)
	if err != nil {
		return Login{}, fmt.Errorf("failed to parse login response: %w", err)
	}
	return Login{tree: tree}, nil
}

func (l Login) UserID() string      { return asString(Lookup(VariantLogin, l.tree, "user_id")) }
func (l Login) AccessToken() string { return asString(Lookup(VariantLogin, l.tree, "access_token")) }
func (l Login) DeviceID() string    { return asString(Lookup(VariantLogin, l.tree, "device_id")) }

func contentString(content *gabs.Container, key string) string {
	if content == nil {
		return ""
	}
	return asString(content.Search(key))
}
