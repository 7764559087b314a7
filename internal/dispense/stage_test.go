package dispense

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStageMoveDownAndUp(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.stage.MoveToLimit(ctx, Down); err != nil {
		t.Fatalf("move down: %v", err)
	}
	if r.pos != r.travel {
		t.Errorf("expected pos %d, got %d", r.travel, r.pos)
	}
	if r.dir.Level() != 1 {
		t.Error("direction should be high for down")
	}

	if err := r.stage.MoveToLimit(ctx, Up); err != nil {
		t.Fatalf("move up: %v", err)
	}
	if r.pos != 0 {
		t.Errorf("expected pos 0, got %d", r.pos)
	}
}

func TestStageAlreadyAtLimit(t *testing.T) {
	r := newRig(t)

	if err := r.stage.MoveToLimit(context.Background(), Up); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.step.Writes() != 0 {
		t.Error("no step pulses expected when already at the limit")
	}
}

func TestStageBoundedWhenLimitNeverCloses(t *testing.T) {
	r := newRig(t)
	r.stall = true

	start := r.clock.Now()
	err := r.stage.MoveToLimit(context.Background(), Down)
	if !errors.Is(err, ErrLimitNotReached) {
		t.Fatalf("expected ErrLimitNotReached, got %v", err)
	}
	// 500 steps of 1ms pulse + 1ms interval
	if got := r.clock.Now().Sub(start); got != time.Second {
		t.Errorf("expected 1s of stepping, got %v", got)
	}
}

func TestStageCancelled(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())

	steps := 0
	r.stage.SetYield(func() {
		steps++
		if steps == 10 {
			cancel()
		}
	})

	err := r.stage.MoveToLimit(ctx, Down)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.pos != 10 {
		t.Errorf("expected to stop after 10 steps, pos=%d", r.pos)
	}
}

func TestStageYieldsEveryStep(t *testing.T) {
	r := newRig(t)
	yields := 0
	r.stage.SetYield(func() { yields++ })

	r.stage.MoveToLimit(context.Background(), Down)
	if yields != r.travel {
		t.Errorf("expected %d yields, got %d", r.travel, yields)
	}
}

func TestStageLimitReadError(t *testing.T) {
	r := newRig(t)
	r.bottom.ReadError = errors.New("line gone")

	if err := r.stage.MoveToLimit(context.Background(), Down); err == nil {
		t.Error("expected limit read error")
	}
}

func TestDirectionString(t *testing.T) {
	if Up.String() != "up" || Down.String() != "down" {
		t.Errorf("unexpected strings %q %q", Up, Down)
	}
}
