package dispense

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/scent-dispenser/internal/gpio"
	"github.com/sweeney/scent-dispenser/internal/logic"
)

// ErrChannelBusy is returned when starting a channel that is already flowing.
var ErrChannelBusy = errors.New("channel already running")

// Channel drives one pump output (active-high = flowing) with its own stop deadline.
type Channel struct {
	id       int
	out      gpio.Output
	running  bool
	deadline time.Time
}

// NewChannel creates channel id (0-based) on out.
func NewChannel(id int, out gpio.Output) *Channel {
	return &Channel{id: id, out: out}
}

// Start turns the pump on and records now+d as its deadline.
// A running channel is left untouched and ErrChannelBusy is returned.
func (c *Channel) Start(now time.Time, d time.Duration) error {
	if c.running {
		return fmt.Errorf("channel %d: %w", c.id+1, ErrChannelBusy)
	}
	if err := c.out.SetValue(1); err != nil {
		return fmt.Errorf("channel %d on: %w", c.id+1, err)
	}
	c.running = true
	c.deadline = now.Add(d)
	return nil
}

// Poll turns the pump off once now has reached the deadline.
// Returns whether the channel is still running.
func (c *Channel) Poll(now time.Time) (bool, error) {
	if !c.running {
		return false, nil
	}
	if now.Before(c.deadline) {
		return true, nil
	}
	return false, c.off()
}

// Stop forces the pump off.
func (c *Channel) Stop() error {
	return c.off()
}

func (c *Channel) off() error {
	c.running = false
	c.deadline = time.Time{}
	if err := c.out.SetValue(0); err != nil {
		return fmt.Errorf("channel %d off: %w", c.id+1, err)
	}
	return nil
}

// Running reports whether the pump is flowing.
func (c *Channel) Running() bool { return c.running }

// Deadline returns the stop deadline, zero when idle.
func (c *Channel) Deadline() time.Time { return c.deadline }

// PumpBank holds the ten pump channels.
type PumpBank struct {
	channels [logic.NumChannels]*Channel
}

// NewPumpBank creates a bank over the ten pump outputs, indexed by channel id.
func NewPumpBank(outs [logic.NumChannels]gpio.Output) *PumpBank {
	b := &PumpBank{}
	for i, out := range outs {
		b.channels[i] = NewChannel(i, out)
	}
	return b
}

// Channel returns channel id (0-based).
func (b *PumpBank) Channel(id int) *Channel {
	return b.channels[id]
}

// Start starts channel id for d.
func (b *PumpBank) Start(id int, now time.Time, d time.Duration) error {
	if id < 0 || id >= logic.NumChannels {
		return fmt.Errorf("%w: %d", logic.ErrChannelRange, id+1)
	}
	return b.channels[id].Start(now, d)
}

// PollAll polls every channel. It returns the ids stopped by this poll and
// how many are still running. Every channel is polled even if one fails.
func (b *PumpBank) PollAll(now time.Time) ([]int, int, error) {
	var stopped []int
	var errs []error
	running := 0
	for i, ch := range b.channels {
		was := ch.Running()
		still, err := ch.Poll(now)
		if err != nil {
			errs = append(errs, err)
		}
		if still {
			running++
		} else if was {
			stopped = append(stopped, i)
		}
	}
	return stopped, running, errors.Join(errs...)
}

// StopAll forces every pump off.
func (b *PumpBank) StopAll() error {
	var errs []error
	for _, ch := range b.channels {
		if err := ch.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running returns which channels are flowing.
func (b *PumpBank) Running() [logic.NumChannels]bool {
	var r [logic.NumChannels]bool
	for i, ch := range b.channels {
		r[i] = ch.Running()
	}
	return r
}
