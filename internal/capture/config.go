package capture

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Defaults used by DefaultConfig.
const (
	DefaultInterval            = 750 * time.Millisecond
	DefaultMinPositiveFraction = 0.8
)

// ErrInvalidConfiguration is returned by New for out-of-range parameters.
var ErrInvalidConfiguration = errors.New("capture: invalid configuration")

// Config holds the immutable parameters of a Scheduler.
type Config struct {
	// RequiredCaptures is the number of captures after which the scheduler stops.
	RequiredCaptures int
	// Interval is the evaluation cadence.
	Interval time.Duration
	// MinPositiveFraction sets the contiguous positive run a window needs to
	// fire, as a fraction of the window size.
	MinPositiveFraction float64
}

// DefaultConfig returns a Config for the given target with default cadence and threshold.
func DefaultConfig(requiredCaptures int) Config {
	return Config{
		RequiredCaptures:    requiredCaptures,
		Interval:            DefaultInterval,
		MinPositiveFraction: DefaultMinPositiveFraction,
	}
}

// Validate checks the parameter ranges.
func (c Config) Validate() error {
	if c.RequiredCaptures < 0 {
		return fmt.Errorf("%w: required captures %d < 0", ErrInvalidConfiguration, c.RequiredCaptures)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval %v must be > 0", ErrInvalidConfiguration, c.Interval)
	}
	if math.IsNaN(c.MinPositiveFraction) || c.MinPositiveFraction < 0 || c.MinPositiveFraction > 1 {
		return fmt.Errorf("%w: fraction %v outside [0,1]", ErrInvalidConfiguration, c.MinPositiveFraction)
	}
	return nil
}
