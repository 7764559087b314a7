package logic

import (
	"math"
	"time"
)

// ModelConfig holds the breakpoints and limits of the flow model.
type ModelConfig struct {
	// TempMin is the cold breakpoint; at or below it no compensation applies.
	TempMin float64
	// TempMax is the hot breakpoint; at or above it full compensation applies.
	TempMax float64
	// PumpTimeMin is the floor for any computed run duration.
	PumpTimeMin time.Duration
	Channels    [NumChannels]ChannelConfig
}

// Compensation is the diagnostic record of one duration computation.
type Compensation struct {
	Channel     int
	Valid       bool
	RawTemp     float64
	ClampedTemp float64
	DeltaMs     float64
	FinalMs     uint32
}

// TemperatureModel maps a requested volume to a temperature-compensated pump run time.
type TemperatureModel struct {
	cfg ModelConfig
}

// NewTemperatureModel creates a model from the given configuration.
func NewTemperatureModel(cfg ModelConfig) *TemperatureModel {
	return &TemperatureModel{cfg: cfg}
}

// Config returns the model configuration.
func (m *TemperatureModel) Config() ModelConfig {
	return m.cfg
}

// Ratio returns the position of temp between the breakpoints, clamped to [0, 1].
func (m *TemperatureModel) Ratio(temp float64) float64 {
	span := m.cfg.TempMax - m.cfg.TempMin
	if span <= 0 {
		return 0
	}
	r := (m.clampTemp(temp) - m.cfg.TempMin) / span
	return math.Max(0, math.Min(1, r))
}

// Duration returns the pump run time for volumeMl on channel (0-9) at the sampled temperature.
// An invalid sample disables compensation. The result is never below PumpTimeMin
// and is truncated to whole milliseconds.
func (m *TemperatureModel) Duration(channel int, volumeMl float64, sample TemperatureSample) (time.Duration, Compensation) {
	ch := m.cfg.Channels[channel]
	vol := ClampVolume(volumeMl)
	baseMs := vol * ch.BaseRateMsPerMl

	comp := Compensation{Channel: channel, Valid: sample.Valid && !math.IsNaN(sample.Celsius)}

	totalMs := baseMs
	if comp.Valid {
		comp.RawTemp = sample.Celsius
		comp.ClampedTemp = m.clampTemp(sample.Celsius)
		comp.DeltaMs = ch.MaxCompensationMsPerMl * m.Ratio(sample.Celsius) * vol
		totalMs += comp.DeltaMs
	}

	minMs := float64(m.cfg.PumpTimeMin.Milliseconds())
	if totalMs < minMs {
		totalMs = minMs
	}

	comp.FinalMs = uint32(totalMs)
	return time.Duration(comp.FinalMs) * time.Millisecond, comp
}

func (m *TemperatureModel) clampTemp(t float64) float64 {
	if t < m.cfg.TempMin {
		return m.cfg.TempMin
	}
	if t > m.cfg.TempMax {
		return m.cfg.TempMax
	}
	return t
}
