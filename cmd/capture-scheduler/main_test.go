package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/capture-scheduler/internal/capture"
	"github.com/sweeney/capture-scheduler/internal/control"
	"github.com/sweeney/capture-scheduler/internal/gpio"
	"github.com/sweeney/capture-scheduler/internal/logic"
	"github.com/sweeney/capture-scheduler/internal/mqtt"
	"github.com/sweeney/capture-scheduler/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		assert.Equal(t, canonical, got)
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}, *info)
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	assert.Nil(t, readNetworkInfo(), "nil when NETWORK_STATUS is unset")
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "ethernet")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, "ethernet", info.Type)
	assert.Empty(t, info.SSID)
}

// fakeClock returns a clock function that advances by step on each call.
// Only called from runLoop's goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// windowReader wraps a FakeReader and closes a sampling window every
// `every` reads by ticking the scheduler before the read. Everything runs
// on runLoop's goroutine, so the tests are deterministic.
type windowReader struct {
	inner  gpio.Reader
	ticker *capture.ManualTicker
	every  int
	reads  int
}

func (r *windowReader) Read() (bool, error) {
	if r.reads > 0 && r.reads%r.every == 0 {
		r.ticker.Tick()
	}
	r.reads++
	return r.inner.Read()
}

func (r *windowReader) Close() error { return r.inner.Close() }

// faultReader returns errors for a fixed range of Read calls.
type faultReader struct {
	inner      gpio.Reader
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) Read() (bool, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return false, errors.New("gpio fault")
	}
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

type harness struct {
	sched   *capture.Scheduler
	ticker  *capture.ManualTicker
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	session *control.Session
}

func newHarness(t *testing.T, required int) *harness {
	t.Helper()
	h := &harness{
		ticker:  capture.NewManualTicker(),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{Broker: "tcp://test:1883"}),
	}
	sched, err := capture.New(capture.DefaultConfig(required), capture.WithTicker(h.ticker))
	require.NoError(t, err)
	h.sched = sched
	h.session = control.NewSession(sched, h.pub, h.tracker, control.Options{
		NewID: func() string { return "test-session" },
	})
	t.Cleanup(h.session.Close)
	return h
}

// runRunLoop drives runLoop for nTicks and then delivers signal.
func (h *harness) runRunLoop(reader gpio.Reader, heartbeat time.Duration, clock func() time.Time, nTicks int, signal os.Signal) error {
	d := &daemon{
		reader:     reader,
		session:    h.session,
		publisher:  h.pub,
		mqttStatus: h.pub,
		tracker:    h.tracker,
		heartbeat:  heartbeat,
		now:        clock,
		logger:     zerolog.Nop(),
	}
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.runLoop(tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func systemEvents(pub *mqtt.FakePublisher, name string) []mqtt.SystemEvent {
	var out []mqtt.SystemEvent
	for _, e := range pub.SystemEventsSnapshot() {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func decodeStatus(t *testing.T, raw []byte) status.StatusJSON {
	t.Helper()
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(raw, &sj))
	return sj
}

func TestRunLoopCapturesUntilComplete(t *testing.T) {
	h := newHarness(t, 2)
	reader := &windowReader{inner: gpio.NewFakeReader(repeat(true, 1)), ticker: h.ticker, every: 5}
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	// Windows close before reads 5 and 10; reads 10 and 11 are dropped.
	err := h.runRunLoop(reader, 0, clock, 12, syscall.SIGTERM)
	require.NoError(t, err)

	events := h.pub.EventsSnapshot()
	require.Len(t, events, 2)
	assert.Equal(t, logic.Progress{Completed: 1, Total: 2}, events[0].Progress)
	assert.Equal(t, logic.Progress{Completed: 2, Total: 2}, events[1].Progress)
	assert.Equal(t, "test-session", events[1].Session)

	counts := h.session.Counts()
	assert.Equal(t, 10, counts.Reports)
	assert.Equal(t, 2, counts.Dropped)
	assert.Equal(t, 1, counts.Sessions)
}

func TestRunLoopFragmentedConditionsDoNotCapture(t *testing.T) {
	h := newHarness(t, 2)
	samples := []bool{true, false, true, false, true, true, false, true, false, true}
	reader := &windowReader{inner: gpio.NewFakeReader(samples), ticker: h.ticker, every: 5}
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(reader, 0, clock, 10, syscall.SIGTERM)
	require.NoError(t, err)

	assert.Empty(t, h.pub.EventsSnapshot())
	assert.Equal(t, 1, h.session.Counts().Ticks)
}

func TestRunLoopIdleNegativesDoNotOpenWindow(t *testing.T) {
	h := newHarness(t, 2)
	reader := gpio.NewFakeReader(repeat(false, 1))
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(reader, 0, clock, 6, syscall.SIGTERM)
	require.NoError(t, err)

	assert.Zero(t, h.ticker.Scheduled())
	assert.Equal(t, 6, h.session.Counts().Dropped)
}

func TestRunLoopGPIOReadError(t *testing.T) {
	h := newHarness(t, 2)
	inner := gpio.NewFakeReader(repeat(true, 1))
	inner.ReadError = errors.New("gpio fault")
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(inner, 0, clock, 4, syscall.SIGTERM)
	require.NoError(t, err, "read errors do not stop the loop")

	assert.Equal(t, 4, inner.Reads)
	assert.Zero(t, h.session.Counts().Reports)
	assert.Len(t, systemEvents(h.pub, "SHUTDOWN"), 1)
}

func TestRunLoopGPIOErrorRecovery(t *testing.T) {
	h := newHarness(t, 2)
	reader := &faultReader{inner: gpio.NewFakeReader(repeat(true, 1)), faultStart: 0, faultEnd: 3}
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(reader, 0, clock, 8, syscall.SIGTERM)
	require.NoError(t, err)

	assert.Equal(t, 5, h.session.Counts().Reports)
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(t, 3)
	h.pub.PublishError = errors.New("broker down")
	reader := &windowReader{inner: gpio.NewFakeReader(repeat(true, 1)), ticker: h.ticker, every: 5}
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(reader, 0, clock, 11, syscall.SIGTERM)
	require.NoError(t, err)

	assert.Empty(t, h.pub.EventsSnapshot())
	assert.Equal(t, 2, h.sched.Progress().Completed, "publish failures do not stop scheduling")
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(t, 5)
	reader := gpio.NewFakeReader(repeat(false, 1))
	// Clock: start at 0, each call advances 100ms.
	// Loop start consumes one call; tick i sees i*100ms.
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(reader, time.Second, clock, 15, syscall.SIGTERM)
	require.NoError(t, err)

	hbs := systemEvents(h.pub, "HEARTBEAT")
	require.Len(t, hbs, 1)
	sj := decodeStatus(t, hbs[0].RawPayload)
	assert.Equal(t, "HEARTBEAT", sj.Status.Event)
	assert.Equal(t, "test-session", sj.Status.Session)
	assert.Equal(t, "IDLE", sj.Status.State)
	assert.Equal(t, 10, sj.Status.Counts.Dropped)
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	h := newHarness(t, 5)
	reader := gpio.NewFakeReader(repeat(false, 1))
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(reader, 500*time.Millisecond, clock, 5, syscall.SIGTERM)
	require.NoError(t, err)

	hbs := systemEvents(h.pub, "HEARTBEAT")
	require.Len(t, hbs, 1)
	sj := decodeStatus(t, hbs[0].RawPayload)
	require.NotNil(t, sj.Status.Network)
	assert.Equal(t, "192.168.1.42", sj.Status.Network.IP)
	assert.Equal(t, "HomeNet", sj.Status.Network.SSID)
}

func TestRunLoopMQTTSourceHasNoReader(t *testing.T) {
	h := newHarness(t, 2)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(nil, 300*time.Millisecond, clock, 4, syscall.SIGTERM)
	require.NoError(t, err)

	assert.Len(t, systemEvents(h.pub, "HEARTBEAT"), 1)
	assert.Zero(t, h.session.Counts().Reports)
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	h := newHarness(t, 3)
	reader := gpio.NewFakeReader(repeat(true, 1))
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(reader, 0, clock, 3, syscall.SIGINT)
	require.NoError(t, err)

	shutdowns := systemEvents(h.pub, "SHUTDOWN")
	require.Len(t, shutdowns, 1)
	se := shutdowns[0]
	assert.Equal(t, "SIGINT", se.Reason)
	assert.True(t, se.Retained)

	sj := decodeStatus(t, se.RawPayload)
	assert.Equal(t, "SHUTDOWN", sj.Status.Event)
	assert.Equal(t, "SIGINT", sj.Status.Reason)
	assert.Equal(t, "INVALIDATED", sj.Status.State, "scheduler stopped before final snapshot")

	assert.True(t, h.sched.IsInvalidated())
	assert.Zero(t, h.ticker.Active())
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	h := newHarness(t, 3)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(gpio.NewFakeReader(repeat(false, 1)), 0, clock, 1, syscall.SIGTERM)
	require.NoError(t, err)

	shutdowns := systemEvents(h.pub, "SHUTDOWN")
	require.Len(t, shutdowns, 1)
	assert.Equal(t, "SIGTERM", shutdowns[0].Reason)
}

func TestRunLoopShutdownPublishError(t *testing.T) {
	h := newHarness(t, 3)
	h.pub.PublishSystemError = errors.New("broker down")
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := h.runRunLoop(nil, 0, clock, 0, syscall.SIGTERM)
	assert.NoError(t, err)
}

func TestStatusConfig(t *testing.T) {
	cmd := newRootCmd(openGPIO)
	require.NoError(t, cmd.ParseFlags([]string{"--source", "mqtt", "--interval", "1s", "--heartbeat", "0"}))
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	sc := statusConfig(cfg)
	assert.Equal(t, int64(1000), sc.IntervalMs)
	assert.Equal(t, "mqtt", sc.Source)
	assert.Zero(t, sc.PollMs, "poll only shown for the gpio source")
	assert.Zero(t, sc.HeartbeatMs)
}

func TestProbeCommand(t *testing.T) {
	var opened gpio.Line
	reader := gpio.NewFakeReader([]bool{true})
	open := func(l gpio.Line) (gpio.Reader, error) {
		opened = l
		return reader, nil
	}

	var out bytes.Buffer
	cmd := newRootCmd(open)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"probe", "--pin", "22", "--active-low"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, gpio.Line{Chip: "gpiochip0", Pin: 22, ActiveLow: true}, opened)
	assert.Equal(t, "gpiochip0 pin 22: OK\n", out.String())
	assert.True(t, reader.Closed)
}

func TestProbeCommandOpenError(t *testing.T) {
	open := func(gpio.Line) (gpio.Reader, error) { return nil, errors.New("no such chip") }

	cmd := newRootCmd(open)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"probe"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init gpio")
}

func TestRootCommandRejectsInvalidConfiguration(t *testing.T) {
	opened := false
	open := func(gpio.Line) (gpio.Reader, error) {
		opened = true
		return nil, errors.New("unexpected")
	}

	cmd := newRootCmd(open)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--min-fraction", "1.5"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, capture.ErrInvalidConfiguration))
	assert.False(t, opened, "nothing opened before validation")
}
