package config

import "github.com/spf13/pflag"

// Flag names shared by AddFlags and ApplyFlags.
const (
	FlagConfig       = "config"
	FlagRequired     = "required"
	FlagInterval     = "interval"
	FlagFraction     = "min-fraction"
	FlagSource       = "source"
	FlagPoll         = "poll"
	FlagChip         = "chip"
	FlagPin          = "pin"
	FlagActiveLow    = "active-low"
	FlagBroker       = "broker"
	FlagClientID     = "client-id"
	FlagCommandRate  = "command-rate"
	FlagCommandBurst = "command-burst"
	FlagHTTP         = "http"
	FlagHeartbeat    = "heartbeat"
	FlagLogLevel     = "log-level"
	FlagLogJSON      = "log-json"
)

// AddFlags registers the daemon flags on fs with Default values.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "YAML config file (flags override it)")
	fs.Int(FlagRequired, d.Scheduler.RequiredCaptures, "Captures after which the session completes")
	fs.Duration(FlagInterval, d.Scheduler.Interval.Std(), "Evaluation interval")
	fs.Float64(FlagFraction, d.Scheduler.MinPositiveFraction, "Contiguous positive run needed, as a fraction of the window")
	fs.String(FlagSource, d.Source.Kind, `Condition source: "gpio" or "mqtt"`)
	fs.Duration(FlagPoll, d.Source.Poll.Std(), "GPIO polling interval")
	fs.String(FlagChip, d.Source.Chip, "GPIO chip")
	fs.Int(FlagPin, d.Source.Pin, "BCM pin number for the condition line")
	fs.Bool(FlagActiveLow, d.Source.ActiveLow, "Treat a low line as condition OK")
	fs.String(FlagBroker, d.MQTT.Broker, "MQTT broker address")
	fs.String(FlagClientID, d.MQTT.ClientID, "MQTT client ID")
	fs.Float64(FlagCommandRate, d.MQTT.CommandRate, "Commands accepted per second (0 for unlimited)")
	fs.Int(FlagCommandBurst, d.MQTT.CommandBurst, "Command burst size")
	fs.String(FlagHTTP, d.HTTP.Addr, "HTTP status address (empty to disable)")
	fs.Duration(FlagHeartbeat, d.Heartbeat.Std(), "Heartbeat interval (0 to disable)")
	fs.String(FlagLogLevel, d.Log.Level, "Log level (trace, debug, info, warn, error)")
	fs.Bool(FlagLogJSON, d.Log.JSON, "Log JSON lines instead of console output")
}

// Load builds the configuration: the --config file (or Default) with every
// explicitly set flag applied on top.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()
	if path, _ := fs.GetString(FlagConfig); path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyFlags(fs, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyFlags copies the flags that were set on the command line into c.
// Only changed flags are applied: a flag's default would otherwise overwrite
// the value loaded from the file, so the precedence is flag > file > Default.
func ApplyFlags(fs *pflag.FlagSet, c *Config) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			keep(err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if fs.Changed(name) {
			v, err := fs.GetInt(name)
			keep(err)
			*dst = v
		}
	}
	float := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, err := fs.GetFloat64(name)
			keep(err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, err := fs.GetBool(name)
			keep(err)
			*dst = v
		}
	}
	duration := func(name string, dst *Duration) {
		if fs.Changed(name) {
			v, err := fs.GetDuration(name)
			keep(err)
			*dst = Duration(v)
		}
	}

	integer(FlagRequired, &c.Scheduler.RequiredCaptures)
	duration(FlagInterval, &c.Scheduler.Interval)
	float(FlagFraction, &c.Scheduler.MinPositiveFraction)
	str(FlagSource, &c.Source.Kind)
	duration(FlagPoll, &c.Source.Poll)
	str(FlagChip, &c.Source.Chip)
	integer(FlagPin, &c.Source.Pin)
	boolean(FlagActiveLow, &c.Source.ActiveLow)
	str(FlagBroker, &c.MQTT.Broker)
	str(FlagClientID, &c.MQTT.ClientID)
	float(FlagCommandRate, &c.MQTT.CommandRate)
	integer(FlagCommandBurst, &c.MQTT.CommandBurst)
	str(FlagHTTP, &c.HTTP.Addr)
	duration(FlagHeartbeat, &c.Heartbeat)
	str(FlagLogLevel, &c.Log.Level)
	boolean(FlagLogJSON, &c.Log.JSON)
	return firstErr
}

