// Package servo commands hobby servos by angle.
package servo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Servo moves to an absolute angle in degrees (0-180).
type Servo interface {
	SetAngle(deg int) error
}

// Standard hobby servo timing.
const (
	Period      = 20 * time.Millisecond
	MinPulse    = 500 * time.Microsecond
	MaxPulse    = 2500 * time.Microsecond
	MaxAngle    = 180
	exportWait  = 10 * time.Millisecond
	exportTries = 50
)

// PulseWidth maps an angle onto the servo pulse width. Angles are clamped to 0-180.
func PulseWidth(deg int) time.Duration {
	if deg < 0 {
		deg = 0
	}
	if deg > MaxAngle {
		deg = MaxAngle
	}
	return MinPulse + time.Duration(deg)*(MaxPulse-MinPulse)/MaxAngle
}

// PWM drives one channel of a Linux sysfs PWM chip, such as the
// pca9685 16-channel driver exposed under /sys/class/pwm.
type PWM struct {
	dir string
}

// NewPWM exports channel on chipDir (e.g. /sys/class/pwm/pwmchip0),
// sets the 20ms period and enables the output.
func NewPWM(chipDir string, channel int) (*PWM, error) {
	dir := filepath.Join(chipDir, "pwm"+strconv.Itoa(channel))

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeFile(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm channel %d: %w", channel, err)
		}
		// udev may take a moment to create the channel directory
		for i := 0; ; i++ {
			if _, err := os.Stat(dir); err == nil {
				break
			}
			if i >= exportTries {
				return nil, fmt.Errorf("pwm channel %d did not appear at %s", channel, dir)
			}
			time.Sleep(exportWait)
		}
	}

	p := &PWM{dir: dir}
	if err := p.write("period", Period.Nanoseconds()); err != nil {
		return nil, err
	}
	if err := p.write("enable", 1); err != nil {
		return nil, err
	}
	return p, nil
}

// SetAngle writes the duty cycle for deg.
func (p *PWM) SetAngle(deg int) error {
	return p.write("duty_cycle", PulseWidth(deg).Nanoseconds())
}

// Close disables the output. The channel stays exported.
func (p *PWM) Close() error {
	return p.write("enable", 0)
}

func (p *PWM) write(name string, v int64) error {
	if err := writeFile(filepath.Join(p.dir, name), strconv.FormatInt(v, 10)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func writeFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
