// Package clock abstracts wall time and periodic ticks so that the mixer's
// timers and the simulated audio clocks can be driven by hand in tests.
package clock

import (
	"sync"
	"time"
)

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TimeProvider is the source of time for timers and clocked loops.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker creates a ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// RealTimeProvider implements TimeProvider using the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time { return time.Now() }

// NewTicker wraps time.NewTicker.
func (RealTimeProvider) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

var (
	defaultMu       sync.RWMutex
	defaultProvider TimeProvider = RealTimeProvider{}
)

// SetDefault replaces the package-level provider used by Or. A nil
// provider restores the system clock.
func SetDefault(tp TimeProvider) {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	defaultMu.Lock()
	defaultProvider = tp
	defaultMu.Unlock()
}

// Or returns tp when it is set, otherwise the package default.
func Or(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultProvider
}

// Manual is a TimeProvider whose time only moves on Advance. Tickers fire
// once for every period crossed; like time.Ticker they hold at most one
// pending tick and drop the rest.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTicker registers a ticker that fires when Advance crosses its period.
func (m *Manual) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{clock: m, period: d, next: m.now.Add(d), c: make(chan time.Time, 1)}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward by d and fires every ticker whose
// deadline was reached.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	for _, t := range m.tickers {
		for !t.next.After(m.now) {
			select {
			case t.c <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

type manualTicker struct {
	clock  *Manual
	period time.Duration
	next   time.Time
	c      chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	m := t.clock
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.tickers {
		if other == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}
