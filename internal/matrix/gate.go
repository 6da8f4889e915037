package matrix

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shawkym/roomsync/pkg/log"
)

// Gate is a token bucket that write calls (join, send) pass through. It also
// holds a cooldown window set from the server's Retry-After so that every
// write waits it out, not only the one that was rejected.
//
// Safe for concurrent use. A nil *Gate never blocks.
type Gate struct {
	mu            sync.Mutex
	rate          float64 // tokens per second
	burst         int
	tokens        float64
	lastRefill    time.Time
	disabled      bool
	cooldownUntil time.Time
}

// NewGate returns a gate allowing rate writes per second with the given burst.
// A rate <= 0 disables pacing; cooldowns still apply.
func NewGate(rate float64, burst int) *Gate {
	if burst < 1 {
		burst = 1
	}
	g := &Gate{burst: burst, tokens: float64(burst), lastRefill: time.Now()}
	if rate <= 0 {
		g.disabled = true
	} else {
		g.rate = rate
	}
	return g
}

// Wait blocks until a write may proceed or ctx is done. call names the
// request in logs.
func (g *Gate) Wait(ctx context.Context, call string) error {
	if g == nil {
		return nil
	}

	for {
		wait, reason := g.reserve(time.Now())
		if wait <= 0 {
			return nil
		}

		log.WithFields(map[string]interface{}{
			"call":    call,
			"reason":  reason,
			"wait_ms": wait.Milliseconds(),
		}).Info("matrix api wait")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve takes a token if one is available and returns zero, otherwise it
// returns how long to wait before trying again.
func (g *Gate) reserve(now time.Time) (time.Duration, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Before(g.cooldownUntil) {
		return g.cooldownUntil.Sub(now), "retry_after"
	}
	if g.disabled {
		return 0, ""
	}

	g.tokens += now.Sub(g.lastRefill).Seconds() * g.rate
	if g.tokens > float64(g.burst) {
		g.tokens = float64(g.burst)
	}
	g.lastRefill = now

	if g.tokens >= 1 {
		g.tokens--
		return 0, ""
	}
	need := (1 - g.tokens) / g.rate
	wait := time.Duration(need * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, "rate_limit"
}

// Pause blocks every caller for at least d. Later pauses only extend the
// window.
func (g *Gate) Pause(d time.Duration) {
	if g == nil || d <= 0 {
		return
	}
	until := time.Now().Add(d)
	g.mu.Lock()
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
	g.mu.Unlock()
}

// CooldownRemaining returns the time left in the current cooldown.
func (g *Gate) CooldownRemaining() time.Duration {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := time.Until(g.cooldownUntil); d > 0 {
		return d
	}
	return 0
}

func (g *Gate) String() string {
	if g == nil || g.disabled {
		return "write pacing disabled"
	}
	return fmt.Sprintf("%.2f req/s, burst=%d", g.rate, g.burst)
}
