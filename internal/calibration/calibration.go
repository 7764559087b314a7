// Package calibration runs a single pump channel for a fixed time so the
// dispensed volume can be weighed and converted into a base rate.
package calibration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/scent-dispenser/internal/dispense"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"go.uber.org/zap"
)

var (
	// ErrNoVolume rejects a measurement of zero or less.
	ErrNoVolume = errors.New("measured volume must be positive")
	// ErrNoInput is returned when the operator input ends before all runs are measured.
	ErrNoInput = errors.New("no measurement entered")
)

// RateFromMeasurement converts a run of d that dispensed ml into ms per mL.
func RateFromMeasurement(d time.Duration, ml float64) (float64, error) {
	if ml <= 0 {
		return 0, fmt.Errorf("%w: %g", ErrNoVolume, ml)
	}
	return float64(d.Milliseconds()) / ml, nil
}

// Mean returns the arithmetic mean of rates, 0 for none.
func Mean(rates []float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates))
}

// Run drives channel (0-based) for d through the pump bank, polling every poll.
// Cancellation stops the pump early and returns the context error.
func Run(ctx context.Context, pumps *dispense.PumpBank, channel int, d, poll time.Duration, clock dispense.Clock) error {
	if err := pumps.Start(channel, clock.Now(), d); err != nil {
		return err
	}
	ch := pumps.Channel(channel)
	for {
		if err := ctx.Err(); err != nil {
			if stopErr := ch.Stop(); stopErr != nil {
				return errors.Join(err, stopErr)
			}
			return err
		}
		running, err := ch.Poll(clock.Now())
		if err != nil {
			ch.Stop()
			return err
		}
		if !running {
			return nil
		}
		clock.Sleep(poll)
	}
}

// Session is an interactive calibration: each run is followed by a prompt
// for the measured volume.
type Session struct {
	Pumps  *dispense.PumpBank
	Clock  dispense.Clock
	Poll   time.Duration
	In     io.Reader
	Out    io.Writer
	Logger *zap.Logger
}

// Result is one measured run.
type Result struct {
	Run  int
	Ml   float64
	Rate float64
}

// Calibrate performs runs of duration d on channel (0-based) and returns the
// per-run results and the mean rate in ms per mL.
func (s *Session) Calibrate(ctx context.Context, channel int, d time.Duration, runs int) ([]Result, float64, error) {
	if channel < 0 || channel >= logic.NumChannels {
		return nil, 0, fmt.Errorf("%w: %d", logic.ErrChannelRange, channel+1)
	}
	if runs < 1 {
		runs = 1
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(s.In)

	var results []Result
	var rates []float64
	for i := 1; i <= runs; i++ {
		fmt.Fprintf(s.Out, "run %d/%d: channel %d for %s\n", i, runs, channel+1, d)
		if err := Run(ctx, s.Pumps, channel, d, s.Poll, s.Clock); err != nil {
			return results, Mean(rates), fmt.Errorf("run %d: %w", i, err)
		}

		ml, err := s.ask(scanner)
		if err != nil {
			return results, Mean(rates), fmt.Errorf("run %d: %w", i, err)
		}
		rate, err := RateFromMeasurement(d, ml)
		if err != nil {
			return results, Mean(rates), fmt.Errorf("run %d: %w", i, err)
		}

		logger.Info("calibration run",
			zap.Int("channel", channel+1),
			zap.Int("run", i),
			zap.Duration("duration", d),
			zap.Float64("ml", ml),
			zap.Float64("rate_ms_per_ml", rate),
		)
		results = append(results, Result{Run: i, Ml: ml, Rate: rate})
		rates = append(rates, rate)
	}

	mean := Mean(rates)
	fmt.Fprintf(s.Out, "channel %d: base_rate_ms_per_ml: %.1f\n", channel+1, mean)
	return results, mean, nil
}

// ask prompts until a number is entered or input ends.
func (s *Session) ask(scanner *bufio.Scanner) (float64, error) {
	for {
		fmt.Fprint(s.Out, "measured mL: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, err
			}
			return 0, ErrNoInput
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(scanner.Text()), 64)
		if err != nil {
			fmt.Fprintln(s.Out, "not a number")
			continue
		}
		return v, nil
	}
}
