package clock

import (
	"sync"
	"time"
)

// Clock abstracts time access so TTL, blackout, and dedup-window logic
// can run under simulated time in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules fn to run after d and returns a handle that
	// can cancel the pending call.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancelable handle returned by AfterFunc.
type Timer interface {
	// Stop cancels the pending call. It reports whether the call was
	// stopped before firing.
	Stop() bool
}

// System returns a Clock backed by the runtime clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool {
	return s.t.Stop()
}

// Fake is a manually-advanced Clock for tests. Timers fire
// synchronously from Advance, in firing order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

// NewFake creates a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:    start,
		timers: make(map[int]*fakeTimer),
	}
}

type fakeTimer struct {
	id    int
	at    time.Time
	fn    func()
	clock *Fake
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	_, pending := ft.clock.timers[ft.id]
	delete(ft.clock.timers, ft.id)
	return pending
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to fire once the fake time passes d from now.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ft := &fakeTimer{id: f.nextID, at: f.now.Add(d), fn: fn, clock: f}
	f.timers[ft.id] = ft
	return ft
}

// Advance moves the fake time forward by d and fires every timer whose
// deadline falls within the advanced window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	deadline := f.now

	var due []*fakeTimer
	for id, ft := range f.timers {
		if !ft.at.After(deadline) {
			due = append(due, ft)
			delete(f.timers, id)
		}
	}
	f.mu.Unlock()

	// Fire outside the lock so callbacks may schedule new timers.
	for _, ft := range due {
		ft.fn()
	}
}
