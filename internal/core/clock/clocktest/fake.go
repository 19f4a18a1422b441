// Package clocktest provides a manually advanced clock for tests.
package clocktest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/migrator/internal/core/clock"
)

// Fake is a clock.Clock whose time only moves on Advance or Set.
// Timer callbacks run synchronously inside Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	seq     int
	waiters int
	changed *sync.Cond
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
	fired    bool
}

// NewFake creates a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run once the fake time reaches now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) clock.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := &fakeTimer{clock: f, deadline: f.now.Add(d), seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	f.changed.Broadcast()
	return t
}

// Sleep blocks until the fake time has advanced by d or ctx is done.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	done := make(chan struct{})
	t := f.AfterFunc(d, func() { close(done) })

	f.mu.Lock()
	f.waiters++
	f.changed.Broadcast()
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.waiters--
		f.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Advance moves time forward by d, firing every timer that becomes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.advanceTo(target)
}

// Set moves the clock to t. Moving backwards never fires timers.
func (f *Fake) Set(t time.Time) {
	f.advanceTo(t)
}

func (f *Fake) advanceTo(target time.Time) {
	for {
		f.mu.Lock()
		due := f.nextDue(target)
		if due == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		if due.deadline.After(f.now) {
			f.now = due.deadline
		}
		due.fired = true
		f.remove(due)
		f.mu.Unlock()

		due.fn()
	}
}

func (f *Fake) nextDue(target time.Time) *fakeTimer {
	var pending []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.fired && !t.deadline.After(target) {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].deadline.Equal(pending[j].deadline) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].deadline.Before(pending[j].deadline)
	})
	return pending[0]
}

func (f *Fake) remove(t *fakeTimer) {
	for i, existing := range f.timers {
		if existing == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return
		}
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// BlockUntil waits until at least n goroutines are blocked in Sleep.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.waiters < n {
		f.changed.Wait()
	}
}

func (t *fakeTimer) Stop() bool {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	f.remove(t)
	return true
}
