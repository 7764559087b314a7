package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// IIOReader reads a DHT-family sensor through the Linux IIO interface
// (e.g. /sys/bus/iio/devices/iio:device0 created by the dht11 overlay).
// Values are reported in milli-units.
type IIOReader struct {
	Dir string
}

// Read returns temperature in °C and relative humidity in %.
func (r IIOReader) Read() (float64, float64, error) {
	temp, err := readMilli(filepath.Join(r.Dir, "in_temp_input"))
	if err != nil {
		return 0, 0, err
	}
	hum, err := readMilli(filepath.Join(r.Dir, "in_humidityrelative_input"))
	if err != nil {
		return temp, 0, err
	}
	return temp, hum, nil
}

func readMilli(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return float64(v) / 1000, nil
}
