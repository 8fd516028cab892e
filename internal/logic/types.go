// Package logic contains the pure decision logic for capture scheduling.
// This package has NO external dependencies (no GPIO, MQTT, goroutines or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the lifecycle state of a capture scheduler.
type State string

const (
	StateIdle        State = "IDLE"
	StateSampling    State = "SAMPLING"
	StateInvalidated State = "INVALIDATED"
)

// EventType represents a published scheduler event.
type EventType string

const (
	EventCapture EventType = "CAPTURE"
)

// Progress is the bounded capture counter of one scheduling session.
type Progress struct {
	Completed int
	Total     int
}

// IsCompleted reports whether the target count has been reached.
func (p Progress) IsCompleted() bool {
	return p.Completed >= p.Total
}

// Remaining returns the number of captures still required.
func (p Progress) Remaining() int {
	if p.Completed >= p.Total {
		return 0
	}
	return p.Total - p.Completed
}

// Event represents a fired capture to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Session   string
	Progress  Progress
}

// Counts tracks scheduler activity. Counters only grow until the owner resets them.
type Counts struct {
	Reports  int // conditions accepted into a sampling window
	Dropped  int // conditions ignored (idle negative, completed or invalidated)
	Ticks    int // evaluation ticks that ran
	Captures int // ticks that fired
	Sessions int // sessions that reached their target
}

// Add returns the field-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Reports:  c.Reports + o.Reports,
		Dropped:  c.Dropped + o.Dropped,
		Ticks:    c.Ticks + o.Ticks,
		Captures: c.Captures + o.Captures,
		Sessions: c.Sessions + o.Sessions,
	}
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
}
