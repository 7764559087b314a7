// Package gpio provides digital pin access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Input reads the raw level of one digital input line.
type Input interface {
	// Value returns the raw level: 0 (low) or 1 (high).
	Value() (int, error)
}

// Output drives one digital output line.
type Output interface {
	// SetValue drives the line low (0) or high (1).
	SetValue(v int) error
}

// ActiveLow reports whether an active-low input is currently asserted.
// Sensors and limit switches on the rig pull their line to ground when active.
func ActiveLow(in Input) (bool, error) {
	v, err := in.Value()
	if err != nil {
		return false, err
	}
	return v == 0, nil
}

// Chip hands out input and output lines by offset.
type Chip interface {
	Input(offset int) (Input, error)
	Output(offset int, initial int) (Output, error)
	Close() error
}
