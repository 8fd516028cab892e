package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/capture-scheduler/internal/capture"
	"github.com/sweeney/capture-scheduler/internal/control"
	"github.com/sweeney/capture-scheduler/internal/gpio"
	"github.com/sweeney/capture-scheduler/internal/mqtt"
	"github.com/sweeney/capture-scheduler/internal/status"
	"github.com/sweeney/capture-scheduler/internal/web"
)

type stack struct {
	ticker  *capture.ManualTicker
	sched   *capture.Scheduler
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	session *control.Session
}

func newStack(t *testing.T, cfg capture.Config) *stack {
	t.Helper()
	s := &stack{
		ticker:  capture.NewManualTicker(),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), status.Config{RequiredCaptures: cfg.RequiredCaptures}),
	}
	sched, err := capture.New(cfg, capture.WithTicker(s.ticker))
	require.NoError(t, err)
	s.sched = sched

	ids := []string{"first", "second", "third"}
	s.session = control.NewSession(sched, s.pub, s.tracker, control.Options{
		Now: func() time.Time { return time.Date(2026, 1, 1, 12, 0, 1, 0, time.UTC) },
		NewID: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	})
	t.Cleanup(s.session.Close)
	require.NoError(t, s.pub.Subscribe(mqtt.TopicConditions, s.session.HandleCondition))
	require.NoError(t, s.pub.Subscribe(mqtt.TopicCommands, s.session.HandleCommand))
	return s
}

// tick fires one evaluation and waits for its capture, if any, to be
// published.
func (s *stack) tick() {
	s.ticker.Tick()
	s.session.Flush()
}

// feed reads n samples from reader into the session, the way the daemon's
// poll loop does.
func (s *stack) feed(t *testing.T, reader gpio.Reader, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ok, err := reader.Read()
		require.NoError(t, err, "sample %d", i)
		s.session.Report(ok)
	}
}

// TestIntegrationFullFlow drives GPIO samples through the scheduler to MQTT
// using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	s := newStack(t, capture.DefaultConfig(3))
	samples := []bool{
		// leading negatives while idle are dropped
		false, false,
		// window 1: run of 4 of 5, fires
		true, true, true, true, false,
		// window 2: fragmented, rejected
		true, false, true, false, true,
		// window 3: fires
		true, true, true, true, true,
		// window 4: fires and completes
		false, true, true, true, true,
	}
	reader := gpio.NewFakeReader(samples)

	s.feed(t, reader, 7)
	s.tick()
	s.feed(t, reader, 5)
	s.tick()
	s.feed(t, reader, 5)
	s.tick()
	s.feed(t, reader, 5)
	s.tick()

	events := s.pub.EventsSnapshot()
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, i+1, e.Progress.Completed)
		assert.Equal(t, 3, e.Progress.Total)
		assert.Equal(t, "first", e.Session)
	}

	assert.True(t, s.sched.IsCompleted())
	assert.True(t, s.sched.IsInvalidated())
	assert.Zero(t, s.ticker.Active())

	snap := s.tracker.Snapshot()
	assert.Equal(t, 3, snap.Counts.Captures)
	assert.Equal(t, 4, snap.Counts.Ticks)
	assert.Equal(t, 2, snap.Counts.Dropped)
	assert.Equal(t, 1, snap.Counts.Sessions)
}

func TestIntegrationPayloadFormat(t *testing.T) {
	s := newStack(t, capture.DefaultConfig(1))
	s.feed(t, gpio.NewFakeReader([]bool{true}), 4)
	s.tick()

	require.Len(t, s.pub.Payloads, 1)
	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(s.pub.Payloads[0], &got))
	assert.Equal(t, map[string]any{
		"timestamp": "2026-01-01T12:00:01Z",
		"event":     "CAPTURE",
		"session":   "first",
		"completed": float64(1),
		"total":     float64(1),
		"complete":  true,
	}, got["capture"])
}

func TestIntegrationMQTTConditionsAndCommands(t *testing.T) {
	s := newStack(t, capture.DefaultConfig(1))

	for _, p := range []string{"true", "1", `{"ok":true}`, "on", "bogus"} {
		s.pub.Deliver(mqtt.TopicConditions, []byte(p))
	}
	s.tick()
	require.Len(t, s.pub.EventsSnapshot(), 1)
	require.True(t, s.sched.IsInvalidated())

	// Completed sessions drop further conditions until RESET.
	s.pub.Deliver(mqtt.TopicConditions, []byte("true"))
	assert.Zero(t, s.ticker.Active())

	s.pub.Deliver(mqtt.TopicCommands, []byte(`{"command":"reset"}`))
	assert.Equal(t, "second", s.session.ID())
	assert.False(t, s.sched.IsInvalidated())

	s.pub.Deliver(mqtt.TopicConditions, []byte("yes"))
	s.tick()
	events := s.pub.EventsSnapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[1].Session)
	assert.Equal(t, 2, s.session.Counts().Captures)
}

func TestIntegrationHTTPControl(t *testing.T) {
	s := newStack(t, capture.DefaultConfig(2))
	srv := web.New(":0", s.tracker, s.session, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	post := func(path string) int {
		resp, err := http.Post(ts.URL+path, "text/plain", nil)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	state := func() status.StatusJSON {
		resp, err := http.Get(ts.URL + "/index.json")
		require.NoError(t, err)
		defer resp.Body.Close()
		var sj status.StatusJSON
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
		return sj
	}

	assert.Equal(t, http.StatusNoContent, post("/api/start"))
	assert.Equal(t, "SAMPLING", state().Status.State)

	s.tick() // empty window fires trivially
	sj := state()
	assert.Equal(t, 1, sj.Status.Progress.Completed)
	assert.Equal(t, 1, sj.Status.Progress.Remaining)

	assert.Equal(t, http.StatusNoContent, post("/api/invalidate"))
	assert.Equal(t, "INVALIDATED", state().Status.State)

	assert.Equal(t, http.StatusNoContent, post("/api/reset"))
	sj = state()
	assert.Equal(t, "IDLE", sj.Status.State)
	assert.Equal(t, "second", sj.Status.Session)
	assert.Zero(t, sj.Status.Progress.Completed)
	assert.Equal(t, 1, sj.Status.Counts.Captures)
}

func TestIntegrationStartupShutdownPayloads(t *testing.T) {
	s := newStack(t, capture.DefaultConfig(2))
	s.feed(t, gpio.NewFakeReader([]bool{true}), 5)
	s.tick()

	snap := s.tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	require.NoError(t, s.pub.PublishSystem(startup))

	s.session.Close()
	snap = s.tracker.Snapshot()
	shutdown := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "SHUTDOWN",
		Reason:     "SIGTERM",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"),
	}
	require.NoError(t, s.pub.PublishSystem(shutdown))

	require.Len(t, s.pub.SystemPayloads, 2)
	var up, down status.StatusJSON
	require.NoError(t, json.Unmarshal(s.pub.SystemPayloads[0], &up))
	require.NoError(t, json.Unmarshal(s.pub.SystemPayloads[1], &down))

	assert.Equal(t, "STARTUP", up.Status.Event)
	assert.Empty(t, up.Status.Reason)
	assert.Equal(t, "SAMPLING", up.Status.State)
	assert.Equal(t, 1, up.Status.Progress.Completed)
	assert.NotEmpty(t, up.Status.LastCapture)

	assert.Equal(t, "SHUTDOWN", down.Status.Event)
	assert.Equal(t, "SIGTERM", down.Status.Reason)
	assert.Equal(t, "INVALIDATED", down.Status.State)
	assert.Equal(t, 1, down.Status.Progress.Completed)
}
