package servo

import "sync"

// FakeServo records every commanded angle.
type FakeServo struct {
	mu sync.Mutex

	// SetError, if set, will be returned by SetAngle()
	SetError error

	angles []int
}

// SetAngle records deg.
func (f *FakeServo) SetAngle(deg int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.angles = append(f.angles, deg)
	return nil
}

// Angles returns a copy of all commanded angles.
func (f *FakeServo) Angles() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.angles))
	copy(out, f.angles)
	return out
}

// Angle returns the last commanded angle, or -1 if never commanded.
func (f *FakeServo) Angle() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.angles) == 0 {
		return -1
	}
	return f.angles[len(f.angles)-1]
}
