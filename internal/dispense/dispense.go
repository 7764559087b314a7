// Package dispense drives the apparatus: pump channels, the positioning stage,
// the sniff bank and the job state machine that sequences them.
// A single goroutine owns all of it; blocking phases yield cooperatively.
package dispense

import (
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
)

// EventSink receives controller events (MQTT in production).
type EventSink interface {
	Publish(event logic.Event) error
}

// LineWriter writes one response line on the primary interface.
type LineWriter interface {
	WriteLine(line string) error
}

// SampleSource supplies the latest temperature sample.
type SampleSource interface {
	Latest(now time.Time) logic.TemperatureSample
}

// ProductionReporter is told how a submitted production ended; err is nil on
// completion. Report must not block the control loop.
type ProductionReporter interface {
	Report(p logic.Production, err error)
}
