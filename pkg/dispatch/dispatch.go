// Package dispatch delivers decoded events to registered observers.
//
// Observers run synchronously, in registration order, on the goroutine that
// calls Notify. A failing observer (returned error or panic) is logged and
// counted but never prevents later observers from seeing the same event.
package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/shawkym/roomsync/pkg/event"
	"github.com/shawkym/roomsync/pkg/log"
	"github.com/shawkym/roomsync/pkg/metrics"
)

// Membership is the user's relationship to the room an event came from.
type Membership string

const (
	MembershipJoin   Membership = "join"
	MembershipInvite Membership = "invite"
)

// Room is the explicit room context passed with every event.
type Room struct {
	ID         string
	Membership Membership
}

// Observer receives the three dispatched event variants.
type Observer interface {
	OnTimeline(ctx context.Context, room Room, ev event.Timeline) error
	OnState(ctx context.Context, room Room, ev event.State) error
	OnInvite(ctx context.Context, room Room, ev event.Invite) error
}

// Named is implemented by observers that want a stable label in logs and
// metrics. Others are labelled by their Go type.
type Named interface {
	Name() string
}

// BaseObserver implements Observer with no-ops. Embed it and override the
// handlers you need.
type BaseObserver struct{}

func (BaseObserver) OnTimeline(context.Context, Room, event.Timeline) error { return nil }
func (BaseObserver) OnState(context.Context, Room, event.State) error       { return nil }
func (BaseObserver) OnInvite(context.Context, Room, event.Invite) error     { return nil }

// Dispatcher holds the ordered observer list.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	metrics   *metrics.Metrics
}

// New returns an empty dispatcher. m may be nil.
func New(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{metrics: m}
}

// Register appends obs. Observers are invoked in the order they were
// registered.
func (d *Dispatcher) Register(obs Observer) {
	if obs == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(d.observers, obs)
	d.mu.Unlock()
}

// Observers returns a copy of the registered list.
func (d *Dispatcher) Observers() []Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Observer, len(d.observers))
	copy(out, d.observers)
	return out
}

// Notify delivers ev to every observer and returns how many of them failed.
func (d *Dispatcher) Notify(ctx context.Context, room Room, ev event.Event) int {
	variant := ev.Variant().String()
	d.metrics.RecordEvent(variant)
	log.WithFields(map[string]interface{}{
		"room_id": room.ID,
		"variant": variant,
		"type":    ev.Type(),
		"sender":  ev.Sender(),
	}).Debug("dispatching event")

	failed := 0
	for _, obs := range d.Observers() {
		if err := d.deliver(ctx, obs, room, ev); err != nil {
			failed++
			name := ObserverName(obs)
			d.metrics.RecordObserverFailure(name, variant)
			log.WithError(err).WithFields(map[string]interface{}{
				"observer": name,
				"room_id":  room.ID,
				"variant":  variant,
				"type":     ev.Type(),
			}).Warn("observer failed")
		}
	}
	return failed
}

func (d *Dispatcher) deliver(ctx context.Context, obs Observer, room Room, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()

	switch e := ev.(type) {
	case event.Timeline:
		return obs.OnTimeline(ctx, room, e)
	case event.State:
		return obs.OnState(ctx, room, e)
	case event.Invite:
		return obs.OnInvite(ctx, room, e)
	default:
		return fmt.Errorf("unsupported event variant %s", ev.Variant())
	}
}

// DispatchSync delivers every event of one sync response. Joined rooms are
// visited in server order; within a room all timeline events come first, then
// all state events, each in array order. Invites for all rooms follow.
// It returns the total number of observer failures.
func (d *Dispatcher) DispatchSync(ctx context.Context, s event.Sync) int {
	failed := 0
	for _, jr := range s.JoinedRooms() {
		room := Room{ID: jr.ID, Membership: MembershipJoin}
		for _, ev := range jr.Timeline {
			failed += d.Notify(ctx, room, ev)
		}
		for _, ev := range jr.State {
			failed += d.Notify(ctx, room, ev)
		}
	}
	for _, ir := range s.InvitedRooms() {
		room := Room{ID: ir.ID, Membership: MembershipInvite}
		for _, ev := range ir.Invite {
			failed += d.Notify(ctx, room, ev)
		}
	}
	return failed
}

// ObserverName returns obs.Name() when available, otherwise its type name.
func ObserverName(obs Observer) string {
	if n, ok := obs.(Named); ok {
		return n.Name()
	}
	t := reflect.TypeOf(obs)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
