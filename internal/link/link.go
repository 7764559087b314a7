// Package link carries the line protocol over the primary serial interface.
package link

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// ReadTimeout bounds each blocking read so cancellation is noticed.
const ReadTimeout = 100 * time.Millisecond

// Port is the subset of serial.Port the link needs.
type Port interface {
	io.ReadWriter
	Drain() error
	Close() error
}

// SerialLink reads inbound lines and writes responses on one port.
type SerialLink struct {
	port   Port
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens the named serial port (e.g. /dev/ttyAMA0) at baud, 8N1.
func Open(name string, baud int, logger *zap.Logger) (*SerialLink, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return New(port, logger), nil
}

// New wraps an already open port.
func New(port Port, logger *zap.Logger) *SerialLink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialLink{port: port, logger: logger}
}

// WriteLine writes line terminated by CRLF and waits until it has been transmitted.
func (l *SerialLink) WriteLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.port.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if err := l.port.Drain(); err != nil {
		return fmt.Errorf("serial drain: %w", err)
	}
	l.logger.Debug("line sent", zap.String("line", line))
	return nil
}

// Run reads the port and delivers complete lines to out until ctx is done.
// A read timeout yields zero bytes and is not an error.
func (l *SerialLink) Run(ctx context.Context, out chan<- string) error {
	buf := make([]byte, 256)
	var sp Splitter

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := l.port.Read(buf)
		for _, line := range sp.Feed(buf[:n]) {
			l.logger.Debug("line received", zap.String("line", line))
			select {
			case out <- line:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

// Close closes the port.
func (l *SerialLink) Close() error {
	return l.port.Close()
}

// MaxLine caps a line without terminator; longer input is discarded.
const MaxLine = 512

// Splitter cuts a byte stream into lines terminated by CR, LF or CRLF.
// Empty lines are dropped.
type Splitter struct {
	buf      []byte
	overflow bool
}

// Feed consumes p and returns the lines it completed.
func (s *Splitter) Feed(p []byte) []string {
	var lines []string
	for _, b := range p {
		if b == '\r' || b == '\n' {
			if len(s.buf) > 0 && !s.overflow {
				lines = append(lines, string(s.buf))
			}
			s.buf = s.buf[:0]
			s.overflow = false
			continue
		}
		if len(s.buf) >= MaxLine {
			s.overflow = true
			continue
		}
		s.buf = append(s.buf, b)
	}
	return lines
}
