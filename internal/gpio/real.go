//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealChip requests lines from an actual GPIO chip using the Linux GPIO character device.
type RealChip struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealChip opens the named chip (e.g. "gpiochip0").
func NewRealChip(name string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealChip{chip: chip}, nil
}

// Input requests the line as an input with pull-up, matching the active-low
// sensors and switches that pull the line to ground.
func (c *RealChip) Input(offset int) (Input, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", offset, err)
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// Output requests the line as an output driven to initial.
func (c *RealChip) Output(offset int, initial int) (Output, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", offset, err)
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// Close releases GPIO resources.
// Reconfigures every line to input with pull-down (matching Pi boot defaults)
// before closing so pumps and the stepper are left undriven.
func (c *RealChip) Close() error {
	var errs []error

	for _, line := range c.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	c.lines = nil

	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
