package logic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parse errors. Every rejected line leaves any previously stored recipe untouched.
var (
	ErrSeparatorCount = errors.New("wrong separator count")
	ErrBadField       = errors.New("missing or non-numeric field")
	ErrChannelRange   = errors.New("channel out of range")
	ErrVolumeRange    = errors.New("volume must be positive")
	ErrTestDisabled   = errors.New("test commands disabled")
)

// ResetCommand clears a controller fault.
const ResetCommand = "RESET"

// LineKind classifies an inbound line.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineRecipe
	LineTest
	LineReset
)

func (k LineKind) String() string {
	switch k {
	case LineRecipe:
		return "recipe"
	case LineTest:
		return "test"
	case LineReset:
		return "reset"
	default:
		return "empty"
	}
}

// Command is the result of parsing one inbound line.
type Command struct {
	Kind LineKind
	// Recipe is set for LineRecipe.
	Recipe Recipe
	// Channel (0-based) and Volume are set for LineTest.
	Channel int
	Volume  float64
}

// ParseLine parses one line of the recipe protocol.
// One separator is a single-channel test command "channel,volume" (channel 1-10);
// nine separators are a full recipe. Anything else is rejected.
func ParseLine(line string, allowTest bool) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Kind: LineEmpty}, nil
	}
	if strings.EqualFold(line, ResetCommand) {
		return Command{Kind: LineReset}, nil
	}

	fields := strings.Split(line, ",")
	switch len(fields) - 1 {
	case 1:
		return parseTest(fields, allowTest)
	case NumChannels - 1:
		return parseRecipe(fields)
	default:
		return Command{}, fmt.Errorf("%w: got %d, want 1 or %d", ErrSeparatorCount, len(fields)-1, NumChannels-1)
	}
}

func parseTest(fields []string, allowTest bool) (Command, error) {
	if !allowTest {
		return Command{}, ErrTestDisabled
	}

	ch, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Command{}, fmt.Errorf("%w: channel %q", ErrBadField, fields[0])
	}
	if ch < 1 || ch > NumChannels {
		return Command{}, fmt.Errorf("%w: %d", ErrChannelRange, ch)
	}

	vol, err := parseVolume(fields[1])
	if err != nil {
		return Command{}, err
	}
	if vol <= 0 {
		return Command{}, fmt.Errorf("%w: %g", ErrVolumeRange, vol)
	}

	return Command{Kind: LineTest, Channel: ch - 1, Volume: ClampVolume(vol)}, nil
}

func parseRecipe(fields []string) (Command, error) {
	var r Recipe
	for i, f := range fields {
		v, err := parseVolume(f)
		if err != nil {
			return Command{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		r[i] = v
	}
	return Command{Kind: LineRecipe, Recipe: r.Clamp()}, nil
}

func parseVolume(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadField)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadField, s)
	}
	return v, nil
}
