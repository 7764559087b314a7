package dispense

import (
	"fmt"
	"time"

	"github.com/sweeney/scent-dispenser/internal/gpio"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/servo"
	"go.uber.org/zap"
)

// SniffConfig configures the sniff stations.
type SniffConfig struct {
	Timing    logic.SniffTiming
	OpenAngle int
	RestAngle int
}

// SniffBank services the ten sniff stations: an active-low proximity
// sensor and a presentation servo each.
type SniffBank struct {
	cfg      SniffConfig
	sensors  [logic.NumChannels]gpio.Input
	servos   [logic.NumChannels]servo.Servo
	triggers [logic.NumChannels]*logic.SniffTrigger
	counts   logic.SniffCounts
	events   EventSink
	logger   *zap.Logger
}

// NewSniffBank creates the bank. events may be nil.
func NewSniffBank(cfg SniffConfig, sensors [logic.NumChannels]gpio.Input, servos [logic.NumChannels]servo.Servo, events EventSink, logger *zap.Logger) *SniffBank {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &SniffBank{
		cfg:     cfg,
		sensors: sensors,
		servos:  servos,
		events:  events,
		logger:  logger,
	}
	for i := range b.triggers {
		b.triggers[i] = logic.NewSniffTrigger(cfg.Timing)
	}
	return b
}

// Rest moves every servo to its rest angle.
func (b *SniffBank) Rest() error {
	for i, s := range b.servos {
		if err := s.SetAngle(b.cfg.RestAngle); err != nil {
			return fmt.Errorf("sniff servo %d: %w", i+1, err)
		}
	}
	return nil
}

// Service reads every sensor once and applies the resulting servo actions.
// A sensor that cannot be read counts as inactive for this cycle.
func (b *SniffBank) Service(now time.Time) {
	for i, sensor := range b.sensors {
		active, err := gpio.ActiveLow(sensor)
		if err != nil {
			b.logger.Debug("sniff sensor read failed", zap.Int("station", i+1), zap.Error(err))
			active = false
		}

		switch b.triggers[i].Update(active, now) {
		case logic.SniffOpen:
			b.counts[i]++
			if err := b.servos[i].SetAngle(b.cfg.OpenAngle); err != nil {
				b.logger.Warn("sniff servo open failed", zap.Int("station", i+1), zap.Error(err))
			}
			b.publish(now, i)
		case logic.SniffRetract:
			if err := b.servos[i].SetAngle(b.cfg.RestAngle); err != nil {
				b.logger.Warn("sniff servo retract failed", zap.Int("station", i+1), zap.Error(err))
			}
		}
	}
}

func (b *SniffBank) publish(now time.Time, station int) {
	if b.events == nil {
		return
	}
	ev := logic.Event{Timestamp: now, Type: logic.EventSniff, Channel: station}
	if err := b.events.Publish(ev); err != nil {
		b.logger.Warn("publish sniff event failed", zap.Error(err))
	}
}

// Counts returns activations per station since startup.
func (b *SniffBank) Counts() logic.SniffCounts {
	return b.counts
}
