// Package sensor samples the ambient temperature/humidity sensor.
package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
	"go.uber.org/zap"
)

// Reader performs one blocking read of the sensor.
type Reader interface {
	Read() (celsius, humidity float64, err error)
}

// Holder keeps the latest sample for the controller and the status page.
type Holder struct {
	mu     sync.RWMutex
	sample logic.TemperatureSample
	maxAge time.Duration
}

// NewHolder creates a holder. Samples older than maxAge are reported invalid;
// maxAge <= 0 disables the staleness check.
func NewHolder(maxAge time.Duration) *Holder {
	return &Holder{maxAge: maxAge}
}

// Set stores s as the latest sample.
func (h *Holder) Set(s logic.TemperatureSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sample = s
}

// Latest returns the stored sample, marked invalid if it is stale at now.
func (h *Holder) Latest(now time.Time) logic.TemperatureSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.sample
	if s.Time.IsZero() {
		s.Valid = false
	}
	if h.maxAge > 0 && now.Sub(s.Time) > h.maxAge {
		s.Valid = false
	}
	return s
}

// Sampler reads the sensor periodically into a Holder.
type Sampler struct {
	reader Reader
	holder *Holder
	period time.Duration
	now    func() time.Time
	logger *zap.Logger

	prevValid bool
}

// NewSampler creates a sampler. now may be nil for time.Now.
func NewSampler(reader Reader, holder *Holder, period time.Duration, now func() time.Time, logger *zap.Logger) *Sampler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		reader:    reader,
		holder:    holder,
		period:    period,
		now:       now,
		logger:    logger,
		prevValid: true,
	}
}

// SampleOnce reads the sensor and stores the result.
// A failed or NaN read yields an invalid sample that still carries the previous values.
func (s *Sampler) SampleOnce() logic.TemperatureSample {
	now := s.now()
	c, h, err := s.reader.Read()

	sample := logic.TemperatureSample{Celsius: c, Humidity: h, Time: now, Valid: true}
	if err != nil || math.IsNaN(c) || math.IsInf(c, 0) {
		prev := s.holder.Latest(now)
		sample = logic.TemperatureSample{Celsius: prev.Celsius, Humidity: prev.Humidity, Time: now, Valid: false}
		if s.prevValid {
			s.logger.Warn("temperature read failed", zap.Error(err), zap.Float64("celsius", c))
		}
	} else if !s.prevValid {
		s.logger.Info("temperature read recovered", zap.Float64("celsius", c))
	}
	s.prevValid = sample.Valid

	s.holder.Set(sample)
	s.logger.Debug("temperature sample",
		zap.Float64("celsius", sample.Celsius),
		zap.Float64("humidity", sample.Humidity),
		zap.Bool("valid", sample.Valid))
	return sample
}

// Run samples immediately and then every period until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	s.SampleOnce()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SampleOnce()
		}
	}
}
