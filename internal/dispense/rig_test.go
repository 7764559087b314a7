package dispense

import (
	"sync"
	"testing"
	"time"

	"github.com/sweeney/scent-dispenser/internal/gpio"
	"github.com/sweeney/scent-dispenser/internal/link"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/sensor"
	"github.com/sweeney/scent-dispenser/internal/servo"
	"github.com/sweeney/scent-dispenser/internal/status"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var rigStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// eventLog records published events.
type eventLog struct {
	mu     sync.Mutex
	events []logic.Event
}

func (l *eventLog) Publish(e logic.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) all() []logic.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]logic.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) ofType(t logic.EventType) []logic.Event {
	var out []logic.Event
	for _, e := range l.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type report struct {
	production logic.Production
	err        error
}

// reportLog records production outcomes.
type reportLog struct {
	mu      sync.Mutex
	reports []report
}

func (l *reportLog) Report(p logic.Production, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, report{production: p, err: err})
}

func (l *reportLog) all() []report {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]report, len(l.reports))
	copy(out, l.reports)
	return out
}

// rig simulates the apparatus: the stepper position drives the limit switches.
type rig struct {
	t       *testing.T
	clock   *FakeClock
	pumps   [logic.NumChannels]*gpio.FakeOutput
	dir     *gpio.FakeOutput
	step    *gpio.FakeOutput
	top     *gpio.FakeInput
	bottom  *gpio.FakeInput
	bottle  *gpio.FakeInput
	sniffIn [logic.NumChannels]*gpio.FakeInput
	sniffSv [logic.NumChannels]*servo.FakeServo
	cover   *servo.FakeServo
	link    *link.FakeLink
	events  *eventLog
	tracker *status.Tracker
	holder  *sensor.Holder
	inbox   chan string
	subs    chan logic.Submission
	reports *reportLog
	logs    *observer.ObservedLogs

	pumpBank *PumpBank
	stage    *Stage
	sniffs   *SniffBank
	ctrl     *Controller

	pos    int
	travel int
	stall  bool
}

func testControllerConfig() Config {
	return Config{
		AllowTest:        true,
		PollInterval:     time.Millisecond,
		CoverHold:        500 * time.Millisecond,
		CoverOpenAngle:   90,
		CoverClosedAngle: 0,
		DispenseMargin:   time.Second,
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		t:       t,
		clock:   NewFakeClock(rigStart),
		cover:   &servo.FakeServo{},
		link:    link.NewFakeLink(),
		events:  &eventLog{},
		tracker: status.NewTracker(rigStart, status.Config{}),
		holder:  sensor.NewHolder(0),
		inbox:   make(chan string, 16),
		subs:    make(chan logic.Submission, 16),
		reports: &reportLog{},
		travel:  200,
	}

	var pumpOuts [logic.NumChannels]gpio.Output
	var sensors [logic.NumChannels]gpio.Input
	var servos [logic.NumChannels]servo.Servo
	for i := 0; i < logic.NumChannels; i++ {
		r.pumps[i] = gpio.NewFakeOutput(r.clock.Now)
		pumpOuts[i] = r.pumps[i]
		r.sniffIn[i] = gpio.NewFakeInput(1)
		sensors[i] = r.sniffIn[i]
		r.sniffSv[i] = &servo.FakeServo{}
		servos[i] = r.sniffSv[i]
	}

	r.dir = gpio.NewFakeOutput(r.clock.Now)
	r.step = gpio.NewFakeOutput(r.clock.Now)
	r.step.OnChange = func(v int) {
		if v != 1 || r.stall {
			return
		}
		if r.dir.Level() == 1 {
			r.pos++
		} else {
			r.pos--
		}
	}
	r.top = gpio.NewFakeInput()
	r.top.Func = func() int {
		if r.pos <= 0 {
			return 0
		}
		return 1
	}
	r.bottom = gpio.NewFakeInput()
	r.bottom.Func = func() int {
		if r.pos >= r.travel {
			return 0
		}
		return 1
	}
	r.bottle = gpio.NewFakeInput(0)

	r.pumpBank = NewPumpBank(pumpOuts)
	r.stage = NewStage(StageConfig{
		MaxSteps:     500,
		PulseWidth:   time.Millisecond,
		StepInterval: time.Millisecond,
	}, r.dir, r.step, r.top, r.bottom, r.clock)
	r.sniffs = NewSniffBank(SniffConfig{
		Timing: logic.SniffTiming{
			Debounce:       50 * time.Millisecond,
			RetriggerGuard: 3 * time.Second,
			Hold:           2 * time.Second,
		},
		OpenAngle: 90,
		RestAngle: 0,
	}, sensors, servos, r.events, zap.NewNop())

	core, logs := observer.New(zapcore.DebugLevel)
	r.logs = logs

	r.holder.Set(logic.TemperatureSample{Celsius: 28.4, Humidity: 40, Time: rigStart, Valid: true})

	ids := 0
	r.ctrl = NewController(testControllerConfig(), Deps{
		Pumps:       r.pumpBank,
		Stage:       r.stage,
		Sniffs:      r.sniffs,
		Cover:       r.cover,
		Bottle:      r.bottle,
		Model:       logic.NewTemperatureModel(testModelConfig()),
		Samples:     r.holder,
		Link:        r.link,
		Events:      r.events,
		Tracker:     r.tracker,
		Clock:       r.clock,
		Inbox:       r.inbox,
		Submissions: r.subs,
		Reporter:    r.reports,
		Logger:      zap.New(core),
		NewID: func() string {
			ids++
			return "job-" + string(rune('0'+ids))
		},
	})
	return r
}

func testModelConfig() logic.ModelConfig {
	cfg := logic.ModelConfig{
		TempMin:     24.0,
		TempMax:     32.8,
		PumpTimeMin: 100 * time.Millisecond,
	}
	for i := range cfg.Channels {
		cfg.Channels[i] = logic.ChannelConfig{
			BaseRateMsPerMl:        1200,
			MaxCompensationMsPerMl: -150,
		}
	}
	return cfg
}

func (r *rig) pumpPulse(ch int) time.Duration {
	r.t.Helper()
	d, ok := r.pumps[ch].HighDuration()
	if !ok {
		r.t.Fatalf("channel %d never completed a pulse", ch+1)
	}
	return d
}

func (r *rig) eventTypes() []logic.EventType {
	var out []logic.EventType
	for _, e := range r.events.all() {
		if e.Type != logic.EventSniff {
			out = append(out, e.Type)
		}
	}
	return out
}

// states returns the sequence of state transitions logged by the controller.
func (r *rig) states() []logic.JobState {
	var out []logic.JobState
	for _, e := range r.logs.FilterMessage("state").All() {
		if to, ok := e.ContextMap()["to"].(string); ok {
			out = append(out, logic.JobState(to))
		}
	}
	return out
}
