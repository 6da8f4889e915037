// Package autojoin accepts invitations to invite-only rooms.
package autojoin

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/event"
	"github.com/shawkym/roomsync/pkg/log"
)

// Joiner joins a room. *engine.Engine implements it.
type Joiner interface {
	JoinRoom(ctx context.Context, room string) (string, error)
}

// Observer joins each invited room whose join rule is "invite". A room is
// attempted at most once per Observer, whether or not the join succeeds.
type Observer struct {
	dispatch.BaseObserver

	joiner  Joiner
	enabled atomic.Bool

	mu        sync.Mutex
	attempted map[string]bool
}

// New returns an observer. It starts enabled when enabled is true.
func New(joiner Joiner, enabled bool) *Observer {
	o := &Observer{
		joiner:    joiner,
		attempted: make(map[string]bool),
	}
	o.enabled.Store(enabled)
	return o
}

func (o *Observer) Name() string { return "autojoin" }

// SetEnabled turns joining on or off. Safe to call from any goroutine.
func (o *Observer) SetEnabled(enabled bool) {
	if o.enabled.Swap(enabled) != enabled {
		log.WithField("enabled", enabled).Info("auto-join toggled")
	}
}

// Enabled reports whether invitations are being accepted.
func (o *Observer) Enabled() bool { return o.enabled.Load() }

// OnInvite joins room.ID when ev carries join_rule "invite".
func (o *Observer) OnInvite(ctx context.Context, room dispatch.Room, ev event.Invite) error {
	if !o.enabled.Load() || ev.ContentString("join_rule") != "invite" {
		return nil
	}

	o.mu.Lock()
	if o.attempted[room.ID] {
		o.mu.Unlock()
		return nil
	}
	o.attempted[room.ID] = true
	o.mu.Unlock()

	roomID, err := o.joiner.JoinRoom(ctx, room.ID)
	if err != nil {
		log.WithError(err).WithField("room_id", room.ID).Warn("auto-join failed")
		return err
	}
	log.WithFields(map[string]interface{}{
		"room_id": roomID,
		"inviter": ev.Sender(),
	}).Info("accepted invitation")
	return nil
}
