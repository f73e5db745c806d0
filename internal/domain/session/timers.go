package session

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock is the time source machines schedule against.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns the wall clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Timers tracks every pending callback of one owner so they can be cancelled
// together. A callback scheduled before CancelAll never runs afterwards, and
// a repeating callback cannot re-arm itself across a CancelAll.
type Timers struct {
	clock Clock

	mu      sync.Mutex
	gen     uint64
	seq     uint64
	pending map[uint64]Timer
}

// NewTimers builds an empty registry.
func NewTimers(clock Clock) *Timers {
	return &Timers{clock: clock, pending: make(map[uint64]Timer)}
}

// After runs fn once after d.
func (t *Timers) After(d time.Duration, fn func()) {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()
	t.schedule(gen, d, fn)
}

// Every runs fn every d until it returns false or the registry is cancelled.
func (t *Timers) Every(d time.Duration, fn func() bool) {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()

	var tick func()
	tick = func() {
		if fn() {
			t.schedule(gen, d, tick)
		}
	}
	t.schedule(gen, d, tick)
}

func (t *Timers) schedule(gen uint64, d time.Duration, fn func()) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.seq++
	id := t.seq
	t.pending[id] = nil
	t.mu.Unlock()

	timer := t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if live {
			fn()
		}
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; ok {
		t.pending[id] = timer
		return
	}
	// fired already or cancelled in between
	timer.Stop()
}

// CancelAll stops every pending callback and returns how many were dropped.
func (t *Timers) CancelAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	n := len(t.pending)
	for id, timer := range t.pending {
		if timer != nil {
			timer.Stop()
		}
		delete(t.pending, id)
	}
	return n
}

// Pending reports how many callbacks are still scheduled.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
