// Package capture turns a noisy stream of boolean conditions into a bounded
// number of rate-limited capture notifications.
//
// A Scheduler opens a sampling window on the first positive condition and
// evaluates it on a fixed cadence. A tick fires when the window holds a
// contiguous run of positives at least floor(len*fraction) long; each firing
// advances the progress counter, and reaching the target stops the scheduler
// until Reset.
package capture

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/capture-scheduler/internal/logic"
)

// Observer is notified once per fired tick.
type Observer interface {
	OnCaptureInitiated(s *Scheduler, p logic.Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(s *Scheduler, p logic.Progress)

// OnCaptureInitiated calls f.
func (f ObserverFunc) OnCaptureInitiated(s *Scheduler, p logic.Progress) { f(s, p) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTicker replaces the default time.Ticker based timer.
func WithTicker(t Ticker) Option {
	return func(s *Scheduler) { s.ticker = t }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock sets the time source used to stamp captures.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Snapshot is a point-in-time view of a Scheduler.
type Snapshot struct {
	Progress    logic.Progress
	State       logic.State
	Pending     int // samples in the open window
	TimerActive bool
	Invalidated bool
	Counts      logic.Counts
	LastCapture time.Time
}

// Scheduler is safe for concurrent use. All state sits behind one mutex that
// both ReportCondition and the timer callback take.
type Scheduler struct {
	cfg    Config
	ticker Ticker
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	progress    logic.Progress
	samples     []bool
	handle      Handle
	generation  uint64 // bumped on every schedule and cancel
	invalidated bool
	counts      logic.Counts
	lastCapture time.Time

	obsMu    sync.RWMutex
	observer Observer
}

// New creates a Scheduler in the Idle state. Out-of-range parameters are
// rejected with an error wrapping ErrInvalidConfiguration.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:      cfg,
		ticker:   ClockTicker{},
		logger:   zerolog.Nop(),
		now:      time.Now,
		progress: logic.Progress{Total: cfg.RequiredCaptures},
	}
	// A zero target is complete from the outset.
	s.invalidated = s.progress.IsCompleted()
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the immutable parameters.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// SetObserver registers the single observer; nil clears it. The scheduler
// never manages the observer's lifetime, so owners that go away must clear it.
func (s *Scheduler) SetObserver(o Observer) {
	s.obsMu.Lock()
	s.observer = o
	s.obsMu.Unlock()
}

// Start clears the invalidated flag and schedules the evaluation timer unless
// one is already running. A completed scheduler stays invalidated until Reset.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.progress.IsCompleted() {
		return
	}
	s.invalidated = false
	if s.handle != nil {
		return
	}
	s.generation++
	gen := s.generation
	s.handle = s.ticker.Every(s.cfg.Interval, func() { s.tick(gen) })
	s.logger.Debug().Dur("interval", s.cfg.Interval).Msg("sampling window opened")
}

// Reset returns the scheduler to its freshly constructed state.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Renew resets the scheduler and installs o as its observer in one step, and
// returns the state just before the reset. A capture lands either in the
// returned snapshot and is reported to the previous observer, or after the
// reset and is reported to o.
func (s *Scheduler) Renew(o Observer) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.snapshotLocked()
	s.resetLocked()
	s.obsMu.Lock()
	s.observer = o
	s.obsMu.Unlock()
	return prev
}

func (s *Scheduler) resetLocked() {
	s.stopLocked()
	s.progress = logic.Progress{Total: s.cfg.RequiredCaptures}
	s.invalidated = s.progress.IsCompleted()
	s.counts = logic.Counts{}
	s.lastCapture = time.Time{}
	s.logger.Debug().Msg("reset")
}

// Invalidate stops the scheduler until Reset. Reports are dropped meanwhile.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

func (s *Scheduler) invalidateLocked() {
	s.invalidated = true
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
		s.generation++
	}
	s.samples = nil
}

// ReportCondition feeds one condition into the scheduler. From Idle only a
// positive condition opens a window; an open window accepts both values.
func (s *Scheduler) ReportCondition(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invalidated || s.progress.IsCompleted() {
		s.counts.Dropped++
		return
	}
	if s.handle == nil {
		if !ok {
			s.counts.Dropped++
			return
		}
		s.startLocked()
	}
	s.samples = append(s.samples, ok)
	s.counts.Reports++
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.invalidated {
		// Cancelled while this tick was already on its way.
		s.mu.Unlock()
		return
	}

	s.counts.Ticks++
	n := len(s.samples)
	run := logic.LongestRun(s.samples)
	positive := logic.PositiveFraction(s.samples)
	fired := logic.Satisfied(s.samples, s.cfg.MinPositiveFraction)
	s.samples = nil
	if !fired {
		s.mu.Unlock()
		s.logger.Debug().
			Int("samples", n).
			Int("longest_run", run).
			Int("required_run", logic.RequiredRun(n, s.cfg.MinPositiveFraction)).
			Float64("positive", positive).
			Msg("window rejected")
		return
	}

	s.progress.Completed++
	s.counts.Captures++
	s.lastCapture = s.now()
	if s.progress.IsCompleted() {
		s.counts.Sessions++
		s.invalidateLocked()
	}
	p := s.progress
	// Read under mu so Renew cannot swap the observer between this capture
	// and its notification.
	s.obsMu.RLock()
	o := s.observer
	s.obsMu.RUnlock()
	s.mu.Unlock()

	s.logger.Debug().
		Int("samples", n).
		Int("completed", p.Completed).
		Int("total", p.Total).
		Msg("capture initiated")

	if o != nil {
		o.OnCaptureInitiated(s, p)
	}
}

// Progress returns the current (completed, total) pair.
func (s *Scheduler) Progress() logic.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// IsCompleted reports whether the target count has been reached.
func (s *Scheduler) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.IsCompleted()
}

// IsInvalidated reports whether the scheduler is stopped until Reset.
func (s *Scheduler) IsInvalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// State returns the lifecycle state.
func (s *Scheduler) State() logic.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Scheduler) stateLocked() logic.State {
	switch {
	case s.invalidated:
		return logic.StateInvalidated
	case s.handle != nil:
		return logic.StateSampling
	default:
		return logic.StateIdle
	}
}

// Snapshot returns a copy of the observable state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() Snapshot {
	return Snapshot{
		Progress:    s.progress,
		State:       s.stateLocked(),
		Pending:     len(s.samples),
		TimerActive: s.handle != nil,
		Invalidated: s.invalidated,
		Counts:      s.counts,
		LastCapture: s.lastCapture,
	}
}
