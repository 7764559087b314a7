package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/sweeney/scent-dispenser/internal/config"
	"github.com/sweeney/scent-dispenser/internal/gpio"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/servo"
)

// chipOpener opens a GPIO chip by name.
type chipOpener func(name string) (gpio.Chip, error)

// servoOpener opens one PWM channel on a PWM chip.
type servoOpener func(chipDir string, channel int) (servo.Servo, error)

func openRealChip(name string) (gpio.Chip, error) {
	return gpio.NewRealChip(name)
}

func openRealServo(chipDir string, channel int) (servo.Servo, error) {
	return servo.NewPWM(chipDir, channel)
}

// hardware holds every line and actuator the controller drives.
type hardware struct {
	pumps       [logic.NumChannels]gpio.Output
	sniffInputs [logic.NumChannels]gpio.Input
	sniffServos [logic.NumChannels]servo.Servo
	bottle      gpio.Input
	top         gpio.Input
	bottom      gpio.Input
	step        gpio.Output
	dir         gpio.Output
	cover       servo.Servo

	closers []io.Closer
}

// openHardware requests all lines described by cfg. Pumps and the stepper
// start driven low. On error everything opened so far is released.
func openHardware(cfg config.HardwareConfig, openChip chipOpener, openServo servoOpener) (hw *hardware, err error) {
	hw = &hardware{}
	defer func() {
		if err != nil {
			hw.Close()
			hw = nil
		}
	}()

	chips := map[string]gpio.Chip{}
	chip := func(name string) (gpio.Chip, error) {
		if c, ok := chips[name]; ok {
			return c, nil
		}
		c, err := openChip(name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		chips[name] = c
		hw.closers = append(hw.closers, c)
		return c, nil
	}

	primary, err := chip(cfg.GPIOChip)
	if err != nil {
		return hw, err
	}
	sniffChipName := cfg.SniffChip
	if sniffChipName == "" {
		sniffChipName = cfg.GPIOChip
	}
	sniffChip, err := chip(sniffChipName)
	if err != nil {
		return hw, err
	}

	for i := 0; i < logic.NumChannels; i++ {
		if hw.pumps[i], err = primary.Output(cfg.PumpPins[i], 0); err != nil {
			return hw, fmt.Errorf("pump %d: %w", i+1, err)
		}
		if hw.sniffInputs[i], err = sniffChip.Input(cfg.SniffSensorPins[i]); err != nil {
			return hw, fmt.Errorf("sniff sensor %d: %w", i+1, err)
		}
	}
	if hw.bottle, err = primary.Input(cfg.BottlePin); err != nil {
		return hw, fmt.Errorf("bottle sensor: %w", err)
	}
	if hw.top, err = primary.Input(cfg.TopLimitPin); err != nil {
		return hw, fmt.Errorf("top limit: %w", err)
	}
	if hw.bottom, err = primary.Input(cfg.BottomLimitPin); err != nil {
		return hw, fmt.Errorf("bottom limit: %w", err)
	}
	if hw.step, err = primary.Output(cfg.StepPin, 0); err != nil {
		return hw, fmt.Errorf("stepper step: %w", err)
	}
	if hw.dir, err = primary.Output(cfg.DirPin, 0); err != nil {
		return hw, fmt.Errorf("stepper dir: %w", err)
	}

	addServo := func(channel int) (servo.Servo, error) {
		s, err := openServo(cfg.PWMChip, channel)
		if err != nil {
			return nil, err
		}
		if c, ok := s.(io.Closer); ok {
			hw.closers = append(hw.closers, c)
		}
		return s, nil
	}
	for i := 0; i < logic.NumChannels; i++ {
		if hw.sniffServos[i], err = addServo(cfg.SniffServoChannels[i]); err != nil {
			return hw, fmt.Errorf("sniff servo %d: %w", i+1, err)
		}
	}
	if hw.cover, err = addServo(cfg.CoverServoChannel); err != nil {
		return hw, fmt.Errorf("cover servo: %w", err)
	}
	return hw, nil
}

// Close releases servos first, then GPIO chips.
func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

// printState reads every input once and writes a human-readable summary.
func (h *hardware) printState(w io.Writer, temp func() (float64, float64, error)) {
	level := func(in gpio.Input) string {
		active, err := gpio.ActiveLow(in)
		switch {
		case err != nil:
			return "ERR(" + err.Error() + ")"
		case active:
			return "ACTIVE"
		default:
			return "inactive"
		}
	}

	fmt.Fprintf(w, "bottle: %s\n", level(h.bottle))
	fmt.Fprintf(w, "top limit: %s\n", level(h.top))
	fmt.Fprintf(w, "bottom limit: %s\n", level(h.bottom))
	for i, in := range h.sniffInputs {
		fmt.Fprintf(w, "sniff %d: %s\n", i+1, level(in))
	}
	if c, rh, err := temp(); err != nil {
		fmt.Fprintf(w, "temperature: ERR(%v)\n", err)
	} else {
		fmt.Fprintf(w, "temperature: %.1f°C humidity: %.0f%%\n", c, rh)
	}
}
