// Command capture-scheduler turns a stream of per-frame quality conditions
// into paced capture events published to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sweeney/capture-scheduler/internal/capture"
	"github.com/sweeney/capture-scheduler/internal/config"
	"github.com/sweeney/capture-scheduler/internal/control"
	"github.com/sweeney/capture-scheduler/internal/gpio"
	"github.com/sweeney/capture-scheduler/internal/logging"
	"github.com/sweeney/capture-scheduler/internal/logic"
	"github.com/sweeney/capture-scheduler/internal/mqtt"
	"github.com/sweeney/capture-scheduler/internal/status"
	"github.com/sweeney/capture-scheduler/internal/web"
)

func main() {
	if err := newRootCmd(openGPIO).Execute(); err != nil {
		os.Exit(1)
	}
}

// gpioOpener opens the condition line. Replaced in tests.
type gpioOpener func(gpio.Line) (gpio.Reader, error)

func openGPIO(l gpio.Line) (gpio.Reader, error) {
	r, err := gpio.NewRealReader(l)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newRootCmd(open gpioOpener) *cobra.Command {
	root := &cobra.Command{
		Use:          "capture-scheduler",
		Short:        "Paced capture scheduling from a stream of frame conditions",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
			return run(cfg, open, logger)
		},
	}
	config.AddFlags(root.PersistentFlags())
	root.AddCommand(newProbeCmd(open))
	return root
}

func newProbeCmd(open gpioOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Read the condition line once, print it and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reader, err := open(cfg.GPIOLine())
			if err != nil {
				return fmt.Errorf("init gpio: %w", err)
			}
			defer reader.Close()

			ok, err := reader.Read()
			if err != nil {
				return fmt.Errorf("read gpio: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s pin %d: %s\n", cfg.Source.Chip, cfg.Source.Pin, conditionString(ok))
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(cfg config.Config, open gpioOpener, logger zerolog.Logger) error {
	var reader gpio.Reader
	if cfg.Source.Kind == config.SourceGPIO {
		r, err := open(cfg.GPIOLine())
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer r.Close()
		reader = r
	}

	client, err := mqtt.NewRealClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		BufferSize: cfg.MQTT.Buffer,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	// Tracker first so the startup event carries a full snapshot.
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	sched, err := capture.New(cfg.Capture(), capture.WithLogger(logger.With().Str("component", "capture").Logger()))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	session := control.NewSession(sched, client, tracker, control.Options{
		CommandRate:  cfg.MQTT.CommandRate,
		CommandBurst: cfg.MQTT.CommandBurst,
		Logger:       logger,
	})
	defer session.Close()

	if err := client.Subscribe(mqtt.TopicCommands, session.HandleCommand); err != nil {
		logger.Error().Err(err).Msg("subscribe to commands")
	}
	if reader == nil {
		if err := client.Subscribe(mqtt.TopicConditions, session.HandleCondition); err != nil {
			return fmt.Errorf("subscribe to conditions: %w", err)
		}
	}

	tracker.SetMQTTConnected(client.IsConnected())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := client.PublishSystem(startup); err != nil {
		logger.Error().Err(err).Msg("publish startup event")
	} else {
		logger.Info().Msg("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, session, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	logger.Info().
		Str("session", session.ID()).
		Int("required", cfg.Scheduler.RequiredCaptures).
		Stringer("interval", cfg.Scheduler.Interval).
		Float64("min_fraction", cfg.Scheduler.MinPositiveFraction).
		Str("source", cfg.Source.Kind).
		Str("broker", cfg.MQTT.Broker).
		Stringer("heartbeat", cfg.Heartbeat).
		Msg("started")

	// The loop also drives heartbeats when conditions arrive over MQTT.
	every := cfg.Source.Poll.Std()
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		reader:     reader,
		session:    session,
		publisher:  client,
		mqttStatus: client,
		tracker:    tracker,
		heartbeat:  cfg.Heartbeat.Std(),
		now:        time.Now,
		logger:     logger,
	}
	return d.runLoop(ticker.C, sigCh)
}

// daemon holds what the main loop drives.
type daemon struct {
	reader     gpio.Reader // nil when conditions arrive over MQTT
	session    *control.Session
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func (d *daemon) runLoop(tick <-chan time.Time, sig <-chan os.Signal) error {
	hb := logic.NewHeartbeat(d.now())

	for {
		select {
		case s := <-sig:
			d.logger.Info().Stringer("signal", s).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			// Stop scheduling and publish queued captures before the final snapshot.
			d.session.Close()

			event := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				d.refreshConnection()
				snap := d.tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				d.logger.Error().Err(err).Msg("publish shutdown event")
			} else {
				d.logger.Info().Msg("published shutdown event")
			}
			return nil

		case <-tick:
			t := d.now()
			if d.reader != nil {
				ok, err := d.reader.Read()
				if err != nil {
					d.logger.Warn().Err(err).Msg("gpio read")
				} else {
					d.session.Report(ok)
				}
			}

			if hbData := hb.Check(t, d.heartbeat); hbData != nil {
				counts := d.session.Counts()
				d.logger.Info().
					Dur("uptime", hbData.Uptime).
					Int("captures", counts.Captures).
					Int("reports", counts.Reports).
					Int("dropped", counts.Dropped).
					Msg("heartbeat")

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if d.tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						d.tracker.SetNetwork(net)
					}
					d.session.Refresh()
					d.refreshConnection()
					snap := d.tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := d.publisher.PublishSystem(hbEvent); err != nil {
					d.logger.Error().Err(err).Msg("publish heartbeat")
				}
			}

			// Pending sample counts change on every report.
			d.session.Refresh()
			d.refreshConnection()
		}
	}
}

func (d *daemon) refreshConnection() {
	if d.tracker != nil && d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func statusConfig(cfg config.Config) status.Config {
	c := status.Config{
		RequiredCaptures:    cfg.Scheduler.RequiredCaptures,
		IntervalMs:          cfg.Scheduler.Interval.Std().Milliseconds(),
		MinPositiveFraction: cfg.Scheduler.MinPositiveFraction,
		Source:              cfg.Source.Kind,
		HeartbeatMs:         cfg.Heartbeat.Std().Milliseconds(),
		Broker:              cfg.MQTT.Broker,
		HTTPAddr:            cfg.HTTP.Addr,
	}
	if cfg.Source.Kind == config.SourceGPIO {
		c.PollMs = cfg.Source.Poll.Std().Milliseconds()
	}
	return c
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func conditionString(ok bool) string {
	if ok {
		return "OK"
	}
	return "NOT OK"
}
