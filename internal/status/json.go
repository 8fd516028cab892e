package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Session       string       `json:"session,omitempty"`
	State         string       `json:"state"`
	Progress      ProgressJSON `json:"progress"`
	Pending       int          `json:"pending_samples"`
	LastCapture   string       `json:"last_capture,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ProgressJSON is the JSON representation of capture progress.
type ProgressJSON struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	Remaining int  `json:"remaining"`
	Complete  bool `json:"complete"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of scheduler counts.
type CountsJSON struct {
	Reports  int `json:"reports"`
	Dropped  int `json:"dropped"`
	Ticks    int `json:"ticks"`
	Captures int `json:"captures"`
	Sessions int `json:"sessions_completed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	RequiredCaptures    int     `json:"required_captures"`
	IntervalMs          int64   `json:"interval_ms"`
	MinPositiveFraction float64 `json:"min_positive_fraction"`
	Source              string  `json:"source"`
	PollMs              int64   `json:"poll_ms,omitempty"`
	HeartbeatMs         int64   `json:"heartbeat_ms"`
	Broker              string  `json:"broker"`
	HTTPAddr            string  `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		Session: snap.Session,
		State:   state,
		Progress: ProgressJSON{
			Completed: snap.Progress.Completed,
			Total:     snap.Progress.Total,
			Remaining: snap.Progress.Remaining(),
			Complete:  snap.Progress.IsCompleted(),
		},
		Pending:       snap.Pending,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Reports:  snap.Counts.Reports,
			Dropped:  snap.Counts.Dropped,
			Ticks:    snap.Counts.Ticks,
			Captures: snap.Counts.Captures,
			Sessions: snap.Counts.Sessions,
		},
		Config: ConfigJSON{
			RequiredCaptures:    snap.Config.RequiredCaptures,
			IntervalMs:          snap.Config.IntervalMs,
			MinPositiveFraction: snap.Config.MinPositiveFraction,
			Source:              snap.Config.Source,
			PollMs:              snap.Config.PollMs,
			HeartbeatMs:         snap.Config.HeartbeatMs,
			Broker:              snap.Config.Broker,
			HTTPAddr:            snap.Config.HTTPAddr,
		},
	}
	if !snap.LastCapture.IsZero() {
		inner.LastCapture = snap.LastCapture.UTC().Format(time.RFC3339)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
