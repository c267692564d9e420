package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for tests. Timers and tickers fire
// synchronously from Advance, in due order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake creates a Fake starting at the given instant
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, when: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{clock: f, period: d, next: f.now.Add(d), ch: make(chan time.Time, 64)}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the fake time forward, firing every timer and ticker
// due within the window, in chronological order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var nextAt time.Time
		found := false
		for _, t := range f.timers {
			if !t.stopped && !t.when.After(target) && (!found || t.when.Before(nextAt)) {
				nextAt = t.when
				found = true
			}
		}
		for _, tk := range f.tickers {
			if !tk.stopped && !tk.next.After(target) && (!found || tk.next.Before(nextAt)) {
				nextAt = tk.next
				found = true
			}
		}
		if !found {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = nextAt

		var due []func()
		remaining := f.timers[:0]
		for _, t := range f.timers {
			if !t.stopped && t.when.Equal(nextAt) {
				due = append(due, t.fn)
				t.stopped = true
				continue
			}
			remaining = append(remaining, t)
		}
		f.timers = remaining
		for _, tk := range f.tickers {
			if !tk.stopped && tk.next.Equal(nextAt) {
				select {
				case tk.ch <- nextAt:
				default:
				}
				tk.next = tk.next.Add(tk.period)
			}
		}
		f.mu.Unlock()

		for _, fn := range due {
			fn()
		}
	}
}

// PendingTimers returns the number of unfired timers, for assertions
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// PendingTickers returns the number of live tickers, for assertions
func (f *Fake) PendingTickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tk := range f.tickers {
		if !tk.stopped {
			n++
		}
	}
	return n
}

// TimerDelays returns the sorted delays of pending timers relative to now
func (f *Fake) TimerDelays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for _, t := range f.timers {
		if !t.stopped {
			out = append(out, t.when.Sub(f.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fakeTimer struct {
	clock   *Fake
	when    time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.stopped
	t.stopped = true
	return !was
}

type fakeTicker struct {
	clock   *Fake
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
