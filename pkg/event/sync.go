package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Jeffail/gabs/v2"
)

// Sync is the body of a successful /sync response.
type Sync struct {
	tree        *gabs.Container
	joinOrder   []string
	inviteOrder []string
}

// JoinedRoom groups the events delivered for one joined room.
type JoinedRoom struct {
	ID       string
	Timeline []Timeline
	State    []State
}

// InvitedRoom groups the stripped state delivered for one invited room.
type InvitedRoom struct {
	ID     string
	Invite []Invite
}

// keyOrder captures the order in which object keys appear in the raw body.
type keyOrder []string

func (k *keyOrder) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		// null or a non-object: no rooms
		return nil
	}

	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
		if !seen[key] {
			seen[key] = true
			*k = append(*k, key)
		}
	}
	return nil
}

type roomKeys struct {
	Rooms struct {
		Join   keyOrder `json:"join"`
		Invite keyOrder `json:"invite"`
	} `json:"rooms"`
}

// ParseSync decodes a sync response body. Room iteration follows the order in
// which the server wrote the room ids.
func ParseSync(body []byte) (Sync, error) {
	tree, err := gabs.ParseJSON(body)
	if err != nil {
		return Sync{}, fmt.Errorf("failed to parse sync response: %w", err)
	}

	var keys roomKeys
	if err := json.Unmarshal(body, &keys); err != nil {
		// Shape mismatch (e.g. rooms is an array). Fall back to sorted keys.
		keys = roomKeys{}
	}

	s := Sync{tree: tree}
	s.joinOrder = reconcile(keys.Rooms.Join, Lookup(VariantSync, tree, "join"))
	s.inviteOrder = reconcile(keys.Rooms.Invite, Lookup(VariantSync, tree, "invite"))
	return s, nil
}

// reconcile keeps the recorded order for keys present in obj and appends any
// keys the scan missed, sorted.
func reconcile(order []string, obj *gabs.Container) []string {
	if obj == nil {
		return nil
	}
	children := obj.ChildrenMap()
	out := make([]string, 0, len(children))
	used := make(map[string]bool, len(children))
	for _, id := range order {
		if _, ok := children[id]; ok && !used[id] {
			used[id] = true
			out = append(out, id)
		}
	}
	var rest []string
	for id := range children {
		if !used[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Tree returns the underlying parsed body.
func (s Sync) Tree() *gabs.Container { return s.tree }

// NextBatch returns the cursor the server handed back, or "".
func (s Sync) NextBatch() string { return asString(Lookup(VariantSync, s.tree, "next_batch")) }

// HasNextBatch reports whether the response carried a string cursor.
func (s Sync) HasNextBatch() bool {
	c := Lookup(VariantSync, s.tree, "next_batch")
	if c == nil {
		return false
	}
	_, ok := c.Data().(string)
	return ok
}

// Presence returns the raw presence events.
func (s Sync) Presence() []*gabs.Container {
	return elements(Lookup(VariantSync, s.tree, "presence"))
}

// JoinedRooms returns every joined room in server order. Each room's events
// are wrapped but not inspected.
func (s Sync) JoinedRooms() []JoinedRoom {
	join := Lookup(VariantSync, s.tree, "join")
	if join == nil {
		return nil
	}
	rooms := make([]JoinedRoom, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		room := join.Search(id)
		jr := JoinedRoom{ID: id}
		for _, ev := range elements(room.Search("timeline", "events")) {
			jr.Timeline = append(jr.Timeline, NewTimeline(id, ev))
		}
		for _, ev := range elements(room.Search("state", "events")) {
			jr.State = append(jr.State, NewState(ev))
		}
		rooms = append(rooms, jr)
	}
	return rooms
}

// InvitedRooms returns every invited room in server order.
func (s Sync) InvitedRooms() []InvitedRoom {
	invite := Lookup(VariantSync, s.tree, "invite")
	if invite == nil {
		return nil
	}
	rooms := make([]InvitedRoom, 0, len(s.inviteOrder))
	for _, id := range s.inviteOrder {
		ir := InvitedRoom{ID: id}
		for _, ev := range elements(invite.Search(id, "invite_state", "events")) {
			ir.Invite = append(ir.Invite, NewInvite(ev))
		}
		rooms = append(rooms, ir)
	}
	return rooms
}

// EventCount is the number of timeline, state and invite events in the
// response.
func (s Sync) EventCount() int {
	n := 0
	for _, r := range s.JoinedRooms() {
		n += len(r.Timeline) + len(r.State)
	}
	for _, r := range s.InvitedRooms() {
		n += len(r.Invite)
	}
	return n
}
