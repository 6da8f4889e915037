// Package directory projects room-state events into a local view of rooms,
// their names, aliases and members.
//
// The projection is not authoritative: members are only ever added (leave
// events are treated like joins) and alias events are accepted but ignored.
package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/event"
	"github.com/shawkym/roomsync/pkg/log"
)

// Match selects how name queries compare.
type Match int

const (
	// Exact matches case-folded equality.
	Exact Match = iota
	// Substring matches case-folded containment.
	Substring
)

func (m Match) String() string {
	if m == Exact {
		return "exact"
	}
	return "substring"
}

// Room is a snapshot of one directory entry.
type Room struct {
	ID      string
	Name    string
	Aliases []string
	Members []string
}

type entry struct {
	room    Room
	members map[string]struct{}
}

func (e *entry) snapshot() Room {
	r := e.room
	r.Aliases = append([]string(nil), e.room.Aliases...)
	r.Members = append([]string(nil), e.room.Members...)
	return r
}

// Directory maps room ids to rooms. Entries are created on first reference
// and never removed. It is safe for concurrent readers while the sync loop
// writes.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*entry
	order []string
}

var _ dispatch.Observer = (*Directory)(nil)

// New returns an empty directory.
func New() *Directory {
	return &Directory{rooms: make(map[string]*entry)}
}

// Name labels the directory in dispatcher logs and metrics.
func (d *Directory) Name() string { return "directory" }

// ensure returns the entry for id, creating it. Caller holds d.mu.
func (d *Directory) ensure(id string) *entry {
	e, ok := d.rooms[id]
	if !ok {
		e = &entry{room: Room{ID: id}, members: make(map[string]struct{})}
		d.rooms[id] = e
		d.order = append(d.order, id)
	}
	return e
}

// Touch creates the entry for id if it does not exist yet.
func (d *Directory) Touch(id string) {
	d.mu.Lock()
	d.ensure(id)
	d.mu.Unlock()
}

// OnTimeline registers the room.
func (d *Directory) OnTimeline(_ context.Context, room dispatch.Room, _ event.Timeline) error {
	d.Touch(room.ID)
	return nil
}

// OnInvite registers the room.
func (d *Directory) OnInvite(_ context.Context, room dispatch.Room, _ event.Invite) error {
	d.Touch(room.ID)
	return nil
}

// OnState folds name, member and alias events into the room.
func (d *Directory) OnState(_ context.Context, room dispatch.Room, ev event.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.ensure(room.ID)
	switch ev.Type() {
	case event.TypeName:
		e.room.Name = ev.ContentString("name")
	case event.TypeMember:
		d.addMember(e, ev.Sender())
	case event.TypeAliases:
		d.applyAliases(e, ev)
	}
	return nil
}

func (d *Directory) addMember(e *entry, user string) {
	if user == "" {
		return
	}
	if _, ok := e.members[user]; ok {
		return
	}
	e.members[user] = struct{}{}
	e.room.Members = append(e.room.Members, user)
}

// applyAliases is the hook for m.room.aliases. Aliases are not ingested.
func (d *Directory) applyAliases(e *entry, ev event.State) {
	log.WithFields(map[string]interface{}{
		"room_id": e.room.ID,
		"sender":  ev.Sender(),
	}).Debug("ignoring room aliases event")
}

// Lookup returns the room with id.
func (d *Directory) Lookup(id string) (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.rooms[id]
	if !ok {
		return Room{}, false
	}
	return e.snapshot(), true
}

// RoomName returns the display name of id, or "".
func (d *Directory) RoomName(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.rooms[id]; ok {
		return e.room.Name
	}
	return ""
}

// Len returns the number of known rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Rooms returns every room in first-seen order.
func (d *Directory) Rooms() []Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Room, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.rooms[id].snapshot())
	}
	return out
}

// FindRooms returns rooms whose name matches name, in first-seen order.
func (d *Directory) FindRooms(name string, mode Match) []Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Room
	for _, id := range d.order {
		e := d.rooms[id]
		if matches(e.room.Name, name, mode) {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// FindRoomIDs is FindRooms returning only the ids.
func (d *Directory) FindRoomIDs(name string, mode Match) []string {
	rooms := d.FindRooms(name, mode)
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids
}

// AllKnownUsers returns the union of every room's members, sorted.
func (d *Directory) AllKnownUsers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := make(map[string]struct{})
	for _, e := range d.rooms {
		for user := range e.members {
			set[user] = struct{}{}
		}
	}
	users := make([]string, 0, len(set))
	for user := range set {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// FindContact returns the first member id matching name, walking rooms in
// first-seen order and members in join order.
func (d *Directory) FindContact(name string, mode Match) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		for _, user := range d.rooms[id].room.Members {
			if matches(user, name, mode) {
				return user, true
			}
		}
	}
	return "", false
}

// Both sides are case folded with the same Unicode folding for exact and
// substring comparisons.
func matches(candidate, query string, mode Match) bool {
	fold := cases.Fold()
	c := fold.String(candidate)
	q := fold.String(query)
	if mode == Exact {
		return c == q
	}
	return strings.Contains(c, q)
}
