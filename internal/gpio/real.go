//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the condition line from hardware using the Linux GPIO character device.
type RealReader struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewRealReader requests the configured line as an input.
func NewRealReader(l Line) (*RealReader, error) {
	name := l.Chip
	if name == "" {
		name = DefaultChip
	}
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("capture-scheduler"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}

	// Pull towards the "not OK" level so a disconnected gate never opens a window.
	pull := gpiocdev.WithPullDown
	if l.ActiveLow {
		pull = gpiocdev.WithPullUp
	}
	line, err := chip.RequestLine(l.Pin, gpiocdev.AsInput, pull)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request condition pin %d: %w", l.Pin, err)
	}

	return &RealReader{
		chip:      chip,
		line:      line,
		activeLow: l.ActiveLow,
	}, nil
}

// Read returns the logical condition, honouring ActiveLow.
func (r *RealReader) Read() (bool, error) {
	raw, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read condition pin: %w", err)
	}
	if r.activeLow {
		return raw == 0, nil
	}
	return raw == 1, nil
}

// Close releases GPIO resources.
// The line is reconfigured to input with pull-down (the Pi boot default)
// before closing so external hardware sees a clean state on reboot.
func (r *RealReader) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure condition pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close condition pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	return errors.Join(errs...)
}
