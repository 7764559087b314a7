package link

import "sync"

// FakeLink is a test double that records written lines.
type FakeLink struct {
	mu    sync.Mutex
	lines []string

	// WriteError, if set, will be returned by WriteLine()
	WriteError error
}

// NewFakeLink creates a FakeLink.
func NewFakeLink() *FakeLink {
	return &FakeLink{}
}

// WriteLine records line.
func (f *FakeLink) WriteLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.lines = append(f.lines, line)
	return nil
}

// Lines returns a copy of all written lines.
func (f *FakeLink) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

// Count returns how many written lines equal line.
func (f *FakeLink) Count(line string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.lines {
		if l == line {
			n++
		}
	}
	return n
}

// Clear discards recorded lines.
func (f *FakeLink) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = nil
}
