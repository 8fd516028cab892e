package capture

import (
	"sync"
	"time"
)

// ManualTicker is a test double that only fires when Tick is called.
type ManualTicker struct {
	mu        sync.Mutex
	entries   []*manualEntry
	scheduled int
}

type manualEntry struct {
	ticker   *ManualTicker
	interval time.Duration
	fn       func()
	stopped  bool
}

// NewManualTicker creates a ManualTicker with nothing scheduled.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{}
}

// Every records the callback. It runs only from Tick.
func (m *ManualTicker) Every(interval time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &manualEntry{ticker: m, interval: interval, fn: fn}
	m.entries = append(m.entries, e)
	m.scheduled++
	return e
}

// Tick calls every active callback once, in scheduling order, on the caller's
// goroutine. It returns the number of callbacks run.
func (m *ManualTicker) Tick() int {
	m.mu.Lock()
	var active []*manualEntry
	for _, e := range m.entries {
		if !e.stopped {
			active = append(active, e)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, e := range active {
		m.mu.Lock()
		stopped := e.stopped
		m.mu.Unlock()
		if stopped {
			continue
		}
		e.fn()
		n++
	}
	return n
}

// Active returns the number of callbacks not yet stopped.
func (m *ManualTicker) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !e.stopped {
			n++
		}
	}
	return n
}

// Scheduled returns how many times Every has been called.
func (m *ManualTicker) Scheduled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled
}

// LastInterval returns the interval of the most recent schedule, 0 if none.
func (m *ManualTicker) LastInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].interval
}

func (e *manualEntry) Stop() {
	e.ticker.mu.Lock()
	e.stopped = true
	e.ticker.mu.Unlock()
}
