package flow

import (
	"log/slog"
	"sync"
	"time"
)

// Timer is a single cancellable, re-armable timer. Each ConversationState
// owns two: one for inactivity re-engagement and one for the node upsell.
//
// Arm always cancels the previous arming first, so at most one callback is
// ever pending per Timer. A generation counter guards against the race where
// a timer fires concurrently with Cancel or a re-Arm: a callback whose
// generation is no longer current does nothing. Arm and Cancel are safe to
// call on an already-fired or already-cancelled timer.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewTimer creates an unarmed Timer.
func NewTimer() *Timer {
	return &Timer{}
}

// Arm schedules fn to run after delay, cancelling any previously armed
// callback on this Timer.
func (t *Timer) Arm(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	slog.Debug("Timer armed", "delay", delay, "generation", gen)

	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		stale := gen != t.gen
		if !stale {
			t.timer = nil
		}
		t.mu.Unlock()
		if stale {
			slog.Debug("Timer fired stale, skipping", "generation", gen)
			return
		}
		fn()
	})
}

// Cancel stops any pending callback. Calling Cancel on an unarmed Timer is a
// no-op.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Armed reports whether a callback is currently scheduled. Intended for
// tests; the engine relies on the generation guard, not this flag.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
