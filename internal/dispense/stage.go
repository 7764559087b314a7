package dispense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/scent-dispenser/internal/gpio"
)

// ErrLimitNotReached is returned when the stage runs out of steps before its limit switch closes.
var ErrLimitNotReached = errors.New("limit switch not reached")

// Direction of stage travel.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// StageConfig bounds and paces stepper moves.
type StageConfig struct {
	MaxSteps     int
	PulseWidth   time.Duration
	StepInterval time.Duration
}

// Stage is the stepper-driven vertical stage with top and bottom limit switches.
type Stage struct {
	cfg    StageConfig
	dir    gpio.Output
	step   gpio.Output
	top    gpio.Input
	bottom gpio.Input
	clock  Clock
	yield  func()
}

// NewStage creates a stage. Limit inputs are active-low.
func NewStage(cfg StageConfig, dir, step gpio.Output, top, bottom gpio.Input, clock Clock) *Stage {
	return &Stage{cfg: cfg, dir: dir, step: step, top: top, bottom: bottom, clock: clock}
}

// SetYield installs a hook called after every step.
func (s *Stage) SetYield(fn func()) {
	s.yield = fn
}

// AtLimit reports whether the limit switch for dir is closed.
func (s *Stage) AtLimit(dir Direction) (bool, error) {
	in := s.top
	if dir == Down {
		in = s.bottom
	}
	active, err := gpio.ActiveLow(in)
	if err != nil {
		return false, fmt.Errorf("read %s limit: %w", dir, err)
	}
	return active, nil
}

// MoveToLimit steps in dir until the matching limit switch closes.
// Gives up with ErrLimitNotReached after MaxSteps.
func (s *Stage) MoveToLimit(ctx context.Context, dir Direction) error {
	level := 0
	if dir == Down {
		level = 1
	}
	if err := s.dir.SetValue(level); err != nil {
		return fmt.Errorf("set direction %s: %w", dir, err)
	}

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		reached, err := s.AtLimit(dir)
		if err != nil {
			return err
		}
		if reached {
			return nil
		}
		if steps >= s.cfg.MaxSteps {
			return fmt.Errorf("%w: %s after %d steps", ErrLimitNotReached, dir, steps)
		}

		if err := s.pulse(); err != nil {
			return err
		}
		if s.yield != nil {
			s.yield()
		}
	}
}

func (s *Stage) pulse() error {
	if err := s.step.SetValue(1); err != nil {
		return fmt.Errorf("step pulse: %w", err)
	}
	s.clock.Sleep(s.cfg.PulseWidth)
	if err := s.step.SetValue(0); err != nil {
		return fmt.Errorf("step pulse: %w", err)
	}
	s.clock.Sleep(s.cfg.StepInterval)
	return nil
}
