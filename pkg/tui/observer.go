package tui

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/event"
)

// EntryKind classifies a feed line.
type EntryKind int

const (
	KindMessage EntryKind = iota
	KindNotice
	KindRename
	KindInvite
)

// FeedEntry is one line of the live feed.
type FeedEntry struct {
	Kind      EntryKind
	RoomID    string
	Sender    string
	Body      string
	Timestamp time.Time
}

// Observer forwards events to the TUI. Sends never block: when the buffer is
// full the entry is dropped and counted, so a slow terminal cannot stall the
// sync loop.
type Observer struct {
	dispatch.BaseObserver

	events  chan FeedEntry
	dropped atomic.Int64
}

// NewObserver returns an observer with room for buffer pending entries.
func NewObserver(buffer int) *Observer {
	if buffer <= 0 {
		buffer = 256
	}
	return &Observer{events: make(chan FeedEntry, buffer)}
}

func (o *Observer) Name() string { return "tui" }

// Events is the channel the model reads from.
func (o *Observer) Events() <-chan FeedEntry { return o.events }

// Dropped returns how many entries were discarded.
func (o *Observer) Dropped() int64 { return o.dropped.Load() }

func (o *Observer) OnTimeline(_ context.Context, room dispatch.Room, ev event.Timeline) error {
	if ev.Type() != event.TypeMessage {
		return nil
	}
	kind := KindMessage
	if ev.MsgType() == "m.notice" {
		kind = KindNotice
	}
	ts := time.Now()
	if ms := ev.OriginServerTS(); ms > 0 {
		ts = time.UnixMilli(ms)
	}
	o.push(FeedEntry{Kind: kind, RoomID: room.ID, Sender: ev.Sender(), Body: ev.Body(), Timestamp: ts})
	return nil
}

func (o *Observer) OnState(_ context.Context, room dispatch.Room, ev event.State) error {
	if ev.Type() != event.TypeName {
		return nil
	}
	o.push(FeedEntry{Kind: KindRename, RoomID: room.ID, Sender: ev.Sender(), Body: ev.ContentString("name"), Timestamp: time.Now()})
	return nil
}

// OnInvite reports the membership event of an invitation; the rest of the
// stripped state is ignored.
func (o *Observer) OnInvite(_ context.Context, room dispatch.Room, ev event.Invite) error {
	if ev.Type() != event.TypeMember || ev.ContentString("membership") != "invite" {
		return nil
	}
	o.push(FeedEntry{Kind: KindInvite, RoomID: room.ID, Sender: ev.Sender(), Timestamp: time.Now()})
	return nil
}

func (o *Observer) push(e FeedEntry) {
	select {
	case o.events <- e:
	default:
		o.dropped.Add(1)
	}
}
