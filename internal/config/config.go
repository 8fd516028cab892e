// Package config loads daemon settings from an optional YAML file and
// overlays command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/capture-scheduler/internal/capture"
	"github.com/sweeney/capture-scheduler/internal/gpio"
	"github.com/sweeney/capture-scheduler/internal/logging"
)

// Condition sources.
const (
	SourceGPIO = "gpio"
	SourceMQTT = "mqtt"
)

// Config is the complete daemon configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Source    SourceConfig    `yaml:"source"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Heartbeat Duration        `yaml:"heartbeat"` // 0 disables
	Log       LogConfig       `yaml:"log"`
}

type SchedulerConfig struct {
	RequiredCaptures    int      `yaml:"required_captures"`
	Interval            Duration `yaml:"interval"`
	MinPositiveFraction float64  `yaml:"min_positive_fraction"`
}

type SourceConfig struct {
	Kind      string   `yaml:"kind"`
	Poll      Duration `yaml:"poll"`
	Chip      string   `yaml:"chip"`
	Pin       int      `yaml:"pin"`
	ActiveLow bool     `yaml:"active_low"`
}

type MQTTConfig struct {
	Broker       string  `yaml:"broker"`
	ClientID     string  `yaml:"client_id"`
	Username     string  `yaml:"username"`
	Password     string  `yaml:"password"`
	Buffer       int     `yaml:"buffer"`
	CommandRate  float64 `yaml:"command_rate"` // commands per second, 0 = unlimited
	CommandBurst int     `yaml:"command_burst"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when neither file nor flags say
// otherwise.
func Default() Config {
	sched := capture.DefaultConfig(5)
	return Config{
		Scheduler: SchedulerConfig{
			RequiredCaptures:    sched.RequiredCaptures,
			Interval:            Duration(sched.Interval),
			MinPositiveFraction: sched.MinPositiveFraction,
		},
		Source: SourceConfig{
			Kind: SourceGPIO,
			Poll: Duration(100 * time.Millisecond),
			Chip: gpio.DefaultChip,
			Pin:  gpio.DefaultPin,
		},
		MQTT: MQTTConfig{
			Broker:       "tcp://192.168.1.200:1883",
			ClientID:     "capture-scheduler",
			CommandRate:  2,
			CommandBurst: 5,
		},
		HTTP:      HTTPConfig{Addr: ":80"},
		Heartbeat: Duration(15 * time.Minute),
		Log:       LogConfig{Level: "info"},
	}
}

// LoadFile reads path on top of Default. Unknown keys are an error.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Capture returns the scheduler parameters.
func (c Config) Capture() capture.Config {
	return capture.Config{
		RequiredCaptures:    c.Scheduler.RequiredCaptures,
		Interval:            c.Scheduler.Interval.Std(),
		MinPositiveFraction: c.Scheduler.MinPositiveFraction,
	}
}

// GPIOLine returns the input line for the gpio source.
func (c Config) GPIOLine() gpio.Line {
	return gpio.Line{Chip: c.Source.Chip, Pin: c.Source.Pin, ActiveLow: c.Source.ActiveLow}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if err := c.Capture().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	switch c.Source.Kind {
	case SourceGPIO:
		if c.Source.Poll <= 0 {
			errs = append(errs, fmt.Errorf("source.poll must be positive, got %s", c.Source.Poll))
		}
		if c.Source.Chip == "" {
			errs = append(errs, errors.New("source.chip is required"))
		}
		if c.Source.Pin < 0 {
			errs = append(errs, fmt.Errorf("source.pin must not be negative, got %d", c.Source.Pin))
		}
	case SourceMQTT:
	default:
		errs = append(errs, fmt.Errorf("source.kind must be %q or %q, got %q", SourceGPIO, SourceMQTT, c.Source.Kind))
	}

	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.MQTT.Buffer < 0 {
		errs = append(errs, fmt.Errorf("mqtt.buffer must not be negative, got %d", c.MQTT.Buffer))
	}
	if c.MQTT.CommandRate < 0 {
		errs = append(errs, fmt.Errorf("mqtt.command_rate must not be negative, got %g", c.MQTT.CommandRate))
	}
	if c.MQTT.CommandBurst < 0 {
		errs = append(errs, fmt.Errorf("mqtt.command_burst must not be negative, got %d", c.MQTT.CommandBurst))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %s", c.Heartbeat))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
