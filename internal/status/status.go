// Package status provides a thread-safe status tracker for the capture-scheduler daemon.
// It is read by HTTP handlers and by the heartbeat/startup/shutdown publishers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/capture-scheduler/internal/logic"
)

// NetworkInfo contains network state as written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	RequiredCaptures    int
	IntervalMs          int64
	MinPositiveFraction float64
	Source              string
	PollMs              int64
	HeartbeatMs         int64
	Broker              string
	HTTPAddr            string
}

// SchedulerState is the part of the snapshot owned by the capture session.
type SchedulerState struct {
	Session     string
	Progress    logic.Progress
	State       logic.State
	Pending     int
	LastCapture time.Time
	Counts      logic.Counts // since process start
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	SchedulerState
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			SchedulerState: SchedulerState{State: logic.StateIdle},
			StartTime:      startTime,
			Config:         cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used for Snapshot.Now.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update replaces the scheduler part of the snapshot.
func (t *Tracker) Update(s SchedulerState) {
	t.mu.Lock()
	t.snap.SchedulerState = s
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
