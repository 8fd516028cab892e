// Package gpio provides a condition input line with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the condition input line.
type Reader interface {
	// Read returns the logical condition: true when the upstream quality
	// gate reports the current frame as acceptable.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Defaults for the condition line (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)

// Line identifies and configures the condition input.
type Line struct {
	Chip string
	Pin  int
	// ActiveLow inverts the raw value: raw 0 means condition OK.
	ActiveLow bool
}
