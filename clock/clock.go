// Package clock abstracts time so retry pacing and polling can be tested
// without real delays.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock provides the time operations used by the agent.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Ticker is an interface for time.Ticker to enable testing
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// Timer is an interface for time.Timer to enable testing
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Wait blocks for d on clk, returning early with ctx.Err() if ctx is done.
func Wait(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// Real implements Clock using actual time operations
type Real struct{}

// NewReal creates a new Real clock
func NewReal() Clock {
	return Real{}
}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) Sleep(d time.Duration)                  { time.Sleep(d) }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (rt *realTicker) C() <-chan time.Time   { return rt.ticker.C }
func (rt *realTicker) Stop()                 { rt.ticker.Stop() }
func (rt *realTicker) Reset(d time.Duration) { rt.ticker.Reset(d) }

type realTimer struct {
	timer *time.Timer
}

func (rt *realTimer) C() <-chan time.Time        { return rt.timer.C }
func (rt *realTimer) Stop() bool                 { return rt.timer.Stop() }
func (rt *realTimer) Reset(d time.Duration) bool { return rt.timer.Reset(d) }

// Fake implements Clock for testing with controllable time.
//
// In manual mode timers fire only when Advance moves time past their
// deadline. In auto mode (NewAutoFake) every timer fires as soon as it is
// created and time jumps forward by its duration, so code that waits
// between retries runs instantly. Every requested wait is recorded.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	auto    bool
	waits   []time.Duration
	tickers []*fakeTicker
	timers  []*fakeTimer
}

// NewFake creates a manual Fake starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewAutoFake creates a Fake whose timers fire immediately.
func NewAutoFake(start time.Time) *Fake {
	return &Fake{now: start, auto: true}
}

func (fc *Fake) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

// Sleep advances time immediately.
func (fc *Fake) Sleep(d time.Duration) {
	fc.mu.Lock()
	fc.waits = append(fc.waits, d)
	fc.mu.Unlock()
	fc.Advance(d)
}

func (fc *Fake) After(d time.Duration) <-chan time.Time {
	return fc.NewTimer(d).C()
}

func (fc *Fake) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.waits = append(fc.waits, d)
	ft := &fakeTimer{clock: fc, deadline: fc.now.Add(d), c: make(chan time.Time, 1)}
	if fc.auto {
		fc.now = ft.deadline
		ft.c <- fc.now
		ft.stopped = true
		return ft
	}
	fc.timers = append(fc.timers, ft)
	return ft
}

func (fc *Fake) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTicker{clock: fc, interval: d, c: make(chan time.Time, 1)}
	fc.tickers = append(fc.tickers, ft)
	return ft
}

// Advance moves the fake clock forward and fires due tickers and timers.
func (fc *Fake) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, ticker := range fc.tickers {
		if !ticker.stopped {
			select {
			case ticker.c <- fc.now:
			default:
			}
		}
	}

	for _, timer := range fc.timers {
		if !timer.stopped && !fc.now.Before(timer.deadline) {
			select {
			case timer.c <- fc.now:
				timer.stopped = true
			default:
			}
		}
	}
}

// Waits returns every duration passed to Sleep, After or NewTimer.
func (fc *Fake) Waits() []time.Duration {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]time.Duration, len(fc.waits))
	copy(out, fc.waits)
	return out
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.c }

func (ft *fakeTicker) Stop() {
	ft.clock.mu.Lock()
	ft.stopped = true
	ft.clock.mu.Unlock()
}

func (ft *fakeTicker) Reset(d time.Duration) {
	ft.clock.mu.Lock()
	ft.interval = d
	ft.stopped = false
	ft.clock.mu.Unlock()
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTimer) C() <-chan time.Time { return ft.c }

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	if ft.stopped {
		return false
	}
	ft.stopped = true
	return true
}

func (ft *fakeTimer) Reset(d time.Duration) bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	active := !ft.stopped
	ft.stopped = false
	ft.deadline = ft.clock.now.Add(d)
	return active
}
