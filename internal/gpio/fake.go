package gpio

import (
	"errors"
	"sync"
	"time"
)

// FakeInput is a test double that returns scripted raw levels.
type FakeInput struct {
	mu sync.Mutex

	// Values contains scripted raw levels.
	// Each call to Value() consumes the next one; the last repeats.
	Values []int

	// Func, if set, overrides Values and is called on every read.
	Func func() int

	// ReadError, if set, will be returned by Value()
	ReadError error

	index int
}

// NewFakeInput creates a FakeInput with the given levels.
func NewFakeInput(values ...int) *FakeInput {
	return &FakeInput{Values: values}
}

// Value returns the next scripted level.
func (f *FakeInput) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if f.Func != nil {
		return f.Func(), nil
	}
	if len(f.Values) == 0 {
		return 0, errors.New("no values configured")
	}

	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Set replaces the script with a single repeating level.
func (f *FakeInput) Set(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Values = []int{v}
	f.index = 0
}

// Transition records one level change on a FakeOutput.
type Transition struct {
	At    time.Time
	Value int
}

// FakeOutput is a test double that records every level change.
type FakeOutput struct {
	mu sync.Mutex

	// Now stamps transitions; defaults to time.Now.
	Now func() time.Time

	// OnChange, if set, is called after every successful SetValue.
	OnChange func(v int)

	// WriteError, if set, will be returned by SetValue()
	WriteError error

	value       int
	transitions []Transition
	writes      int
}

// NewFakeOutput creates a FakeOutput stamped by now (nil for time.Now).
func NewFakeOutput(now func() time.Time) *FakeOutput {
	if now == nil {
		now = time.Now
	}
	return &FakeOutput{Now: now}
}

// SetValue records the level. Repeated writes of the same level are not transitions.
func (f *FakeOutput) SetValue(v int) error {
	f.mu.Lock()
	if f.WriteError != nil {
		err := f.WriteError
		f.mu.Unlock()
		return err
	}
	f.writes++
	changed := v != f.value
	f.value = v
	if changed {
		now := time.Now
		if f.Now != nil {
			now = f.Now
		}
		f.transitions = append(f.transitions, Transition{At: now(), Value: v})
	}
	hook := f.OnChange
	f.mu.Unlock()

	if hook != nil {
		hook(v)
	}
	return nil
}

// Level returns the current level.
func (f *FakeOutput) Level() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Transitions returns a copy of the recorded level changes.
func (f *FakeOutput) Transitions() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transition, len(f.transitions))
	copy(out, f.transitions)
	return out
}

// Writes returns the number of successful SetValue calls.
func (f *FakeOutput) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// HighDuration returns the time between the first rising and the following falling edge.
// Returns false if the line never completed a high pulse.
func (f *FakeOutput) HighDuration() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, tr := range f.transitions {
		if tr.Value != 1 {
			continue
		}
		for _, next := range f.transitions[i+1:] {
			if next.Value == 0 {
				return next.At.Sub(tr.At), true
			}
		}
		return 0, false
	}
	return 0, false
}

// FakeChip hands out fake lines keyed by offset.
type FakeChip struct {
	Inputs  map[int]*FakeInput
	Outputs map[int]*FakeOutput
	Closed  bool
	now     func() time.Time
}

// NewFakeChip creates a FakeChip whose outputs are stamped by now.
func NewFakeChip(now func() time.Time) *FakeChip {
	return &FakeChip{
		Inputs:  make(map[int]*FakeInput),
		Outputs: make(map[int]*FakeOutput),
		now:     now,
	}
}

// Input returns the fake input at offset, creating an inactive (high) one if needed.
func (c *FakeChip) Input(offset int) (Input, error) {
	in, ok := c.Inputs[offset]
	if !ok {
		in = NewFakeInput(1)
		c.Inputs[offset] = in
	}
	return in, nil
}

// Output returns the fake output at offset, creating it if needed.
func (c *FakeChip) Output(offset int, initial int) (Output, error) {
	out, ok := c.Outputs[offset]
	if !ok {
		out = NewFakeOutput(c.now)
		out.value = initial
		c.Outputs[offset] = out
	}
	return out, nil
}

// Close marks the chip as closed.
func (c *FakeChip) Close() error {
	c.Closed = true
	return nil
}
