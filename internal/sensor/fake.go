package sensor

import "sync"

// FakeReader returns a fixed reading.
type FakeReader struct {
	mu       sync.Mutex
	Celsius  float64
	Humidity float64
	Err      error
	Reads    int
}

// Read returns the configured values.
func (f *FakeReader) Read() (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.Err != nil {
		return 0, 0, f.Err
	}
	return f.Celsius, f.Humidity, nil
}

// Set changes the reading.
func (f *FakeReader) Set(celsius, humidity float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Celsius, f.Humidity, f.Err = celsius, humidity, err
}
