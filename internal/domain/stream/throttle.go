package stream

import (
	"sync"
	"time"
)

// Throttle coalesces Trigger calls so emit runs at most once per interval.
// A trigger inside the interval is deferred, never dropped: emit always runs
// after the last trigger. emit calls never overlap.
type Throttle struct {
	interval time.Duration
	emit     func()

	mu      sync.Mutex
	emitMu  sync.Mutex
	last    time.Time
	timer   *time.Timer
	dirty   bool
	stopped bool
}

// NewThrottle creates a throttle calling emit no more than once per interval.
func NewThrottle(interval time.Duration, emit func()) *Throttle {
	return &Throttle{interval: interval, emit: emit}
}

// Trigger records a change. The first change after a quiet interval emits
// immediately; later ones are folded into one deferred emit.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.dirty = true
	if t.timer != nil {
		t.mu.Unlock()
		return
	}
	wait := t.interval - time.Since(t.last)
	if wait > 0 {
		t.timer = time.AfterFunc(wait, t.fire)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.fire()
}

// Flush emits a pending change now.
func (t *Throttle) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.fire()
}

// Stop cancels any deferred emit; later triggers are ignored.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Throttle) fire() {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	t.timer = nil
	if !t.dirty || t.stopped {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	t.last = time.Now()
	t.mu.Unlock()

	t.emit()
}
