package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/mqtt"
	"github.com/sweeney/scent-dispenser/internal/status"
	"go.uber.org/zap"
)

// shutdownSignal is the cancellation cause recorded when a signal arrives.
type shutdownSignal struct {
	sig os.Signal
}

func (s shutdownSignal) Error() string { return "received " + s.sig.String() }

// signalName maps the cancellation cause to the SHUTDOWN reason.
func signalName(cause error) string {
	var s shutdownSignal
	if !errors.As(cause, &s) {
		return "UNKNOWN"
	}
	switch s.sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// watchSignals cancels ctx with a shutdownSignal cause on the first signal.
func watchSignals(ctx context.Context, cancel context.CancelCauseFunc, sig <-chan os.Signal) error {
	select {
	case s := <-sig:
		cancel(shutdownSignal{sig: s})
	case <-ctx.Done():
	}
	return nil
}

// publishSystem sends a lifecycle event carrying the current status snapshot.
func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, event, reason string, at time.Time, retained bool, logger *zap.Logger) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  at,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := publisher.PublishSystem(ev); err != nil {
		logger.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
		return
	}
	logger.Info("published system event", zap.String("event", event), zap.String("reason", reason))
}

// runSystemEvents publishes STARTUP, then a HEARTBEAT whenever one is due on
// tick, and SHUTDOWN with the signal name once ctx is done.
func runSystemEvents(ctx context.Context, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, logger *zap.Logger) error {
	publishSystem(publisher, mqttStatus, tracker, "STARTUP", "", now(), true, logger)
	hb := logic.NewHeartbeat(now())

	for {
		select {
		case <-ctx.Done():
			reason := signalName(context.Cause(ctx))
			publishSystem(publisher, mqttStatus, tracker, "SHUTDOWN", reason, now(), true, logger)
			return nil

		case <-tick:
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			data := hb.Check(now(), heartbeat, snap.JobsCompleted, snap.JobsFaulted, snap.Sniffs)
			if data == nil {
				continue
			}
			logger.Info("heartbeat",
				zap.Duration("uptime", data.Uptime),
				zap.Int("jobs_completed", data.JobsCompleted),
				zap.Int("jobs_faulted", data.JobsFaulted),
			)
			publishSystem(publisher, mqttStatus, tracker, "HEARTBEAT", "", data.Timestamp, false, logger)
		}
	}
}
