package dispense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sweeney/scent-dispenser/internal/gpio"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/servo"
	"github.com/sweeney/scent-dispenser/internal/status"
	"go.uber.org/zap"
)

var (
	// ErrBusy rejects a recipe or test command while the apparatus is occupied.
	ErrBusy = errors.New("controller busy")
	// ErrDispenseOverrun is returned when pumps are still running past the longest planned duration.
	ErrDispenseOverrun = errors.New("dispense overran")

	errReplaced = errors.New("recipe replaced before the job started")
)

// Config holds controller timing and cover positions.
type Config struct {
	AllowTest        bool
	PollInterval     time.Duration
	CoverHold        time.Duration
	CoverOpenAngle   int
	CoverClosedAngle int
	DispenseMargin   time.Duration
}

// Deps wires the controller to its hardware and collaborators.
type Deps struct {
	Pumps   *PumpBank
	Stage   *Stage
	Sniffs  *SniffBank
	Cover   servo.Servo
	Bottle  gpio.Input
	Model   *logic.TemperatureModel
	Samples SampleSource
	Link    LineWriter
	Events  EventSink
	Tracker *status.Tracker
	Clock   Clock
	Inbox   <-chan string
	Logger  *zap.Logger
	// Submissions carries lines from the HTTP API; Reporter hears how their productions end.
	Submissions <-chan logic.Submission
	Reporter    ProductionReporter
	// NewID generates job ids; defaults to random UUIDs.
	NewID func() string
}

// Controller is the job state machine. All methods must be called from one goroutine.
type Controller struct {
	cfg     Config
	pumps   *PumpBank
	stage   *Stage
	sniffs  *SniffBank
	cover   servo.Servo
	bottle  gpio.Input
	model   *logic.TemperatureModel
	samples SampleSource
	link    LineWriter
	events  EventSink
	tracker *status.Tracker
	clock   Clock
	inbox   <-chan string
	subs    <-chan logic.Submission
	report  ProductionReporter
	logger  *zap.Logger
	newID   func() string

	state     logic.JobState
	jobID     string
	recipe    logic.Recipe
	armed     bool
	fault     string
	completed int
	faulted   int

	// production belongs to the armed recipe when it came from the API.
	production logic.Production
}

// NewController creates a controller in IDLE.
func NewController(cfg Config, d Deps) *Controller {
	c := &Controller{
		cfg:     cfg,
		pumps:   d.Pumps,
		stage:   d.Stage,
		sniffs:  d.Sniffs,
		cover:   d.Cover,
		bottle:  d.Bottle,
		model:   d.Model,
		samples: d.Samples,
		link:    d.Link,
		events:  d.Events,
		tracker: d.Tracker,
		clock:   d.Clock,
		inbox:   d.Inbox,
		subs:    d.Submissions,
		report:  d.Reporter,
		logger:  d.Logger,
		newID:   d.NewID,
		state:   logic.JobIdle,
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.tracker == nil {
		c.tracker = status.NewTracker(c.clock.Now(), status.Config{})
	}
	return c
}

// State returns the current job state.
func (c *Controller) State() logic.JobState { return c.state }

// Recipe returns the stored recipe and whether it is armed.
func (c *Controller) Recipe() (logic.Recipe, bool) { return c.recipe, c.armed }

// Fault returns the reason for the current FAULT state.
func (c *Controller) Fault() string { return c.fault }

// JobsCompleted returns the number of jobs that emitted the completion token.
func (c *Controller) JobsCompleted() int { return c.completed }

// JobsFaulted returns the number of jobs that ended in FAULT.
func (c *Controller) JobsFaulted() int { return c.faulted }

// Home parks pumps, servos and cover, then drives the stage to the top limit.
// A homing failure leaves the controller in FAULT.
func (c *Controller) Home(ctx context.Context) error {
	c.stage.SetYield(func() { c.yield(ctx) })
	c.setState(logic.JobMovingUp)

	if err := c.pumps.StopAll(); err != nil {
		c.logger.Error("stop pumps failed", zap.Error(err))
	}
	if err := c.sniffs.Rest(); err != nil {
		c.logger.Warn("sniff servos rest failed", zap.Error(err))
	}
	if err := c.cover.SetAngle(c.cfg.CoverClosedAngle); err != nil {
		c.logger.Warn("close cover failed", zap.Error(err))
	}

	if err := c.stage.MoveToLimit(ctx, Up); err != nil {
		if ctx.Err() != nil {
			c.setState(logic.JobIdle)
			return err
		}
		err = fmt.Errorf("homing: %w", err)
		c.enterFault(err)
		return err
	}

	c.logger.Info("stage homed")
	c.setState(logic.JobIdle)
	return nil
}

// Run services inbound lines and control ticks until ctx is done.
func (c *Controller) Run(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-c.inbox:
			if !ok {
				c.inbox = nil
				continue
			}
			c.HandleLine(ctx, line)
		case sub, ok := <-c.subs:
			if !ok {
				c.subs = nil
				continue
			}
			c.HandleSubmission(ctx, sub)
		case <-tick:
			c.Step(ctx)
		}
	}
}

// Step runs one control cycle: service the sniff bank, then start a job
// if a recipe is armed and a bottle is present. A started job runs to its end
// before Step returns.
func (c *Controller) Step(ctx context.Context) {
	now := c.clock.Now()
	c.sniffs.Service(now)
	c.tracker.SetSniffs(c.sniffs.Counts())
	c.tracker.SetSample(c.samples.Latest(now))

	if c.state != logic.JobIdle || !c.armed {
		return
	}

	present, err := gpio.ActiveLow(c.bottle)
	if err != nil {
		c.logger.Debug("bottle sensor read failed", zap.Error(err))
		return
	}
	if !present {
		return
	}

	c.runJob(ctx)
}

// HandleLine processes one line from the primary interface.
func (c *Controller) HandleLine(ctx context.Context, line string) {
	c.handle(ctx, line, logic.Production{})
}

// HandleSubmission processes a line from the HTTP API. A recipe that is
// rejected or replaced before its job runs is reported as failed.
func (c *Controller) HandleSubmission(ctx context.Context, sub logic.Submission) {
	c.handle(ctx, sub.Line, sub.Production)
}

func (c *Controller) handle(ctx context.Context, line string, prod logic.Production) {
	cmd, err := logic.ParseLine(line, c.cfg.AllowTest)
	if err != nil {
		c.logger.Info("line rejected", zap.String("line", line), zap.Error(err))
		c.respond("[ERR] " + err.Error())
		c.publish(logic.EventRecipeRejected, -1, err.Error())
		c.reportProduction(prod, err)
		return
	}

	switch cmd.Kind {
	case logic.LineEmpty:
	case logic.LineReset:
		c.reset()
	case logic.LineRecipe:
		if err := c.checkIdle(); err != nil {
			c.reject(err)
			c.reportProduction(prod, err)
			return
		}
		replaced := c.armed
		if replaced {
			c.reportProduction(c.production, errReplaced)
		}
		c.recipe = cmd.Recipe
		c.armed = true
		c.production = prod
		c.tracker.SetRecipe(c.recipe, true)
		c.publish(logic.EventRecipeAccepted, -1, c.recipe.Format())
		c.logger.Info("recipe armed", zap.String("recipe", c.recipe.Format()), zap.Bool("replaced", replaced))
		if replaced {
			c.respond("[OK] recipe replaced")
		} else {
			c.respond("[OK] recipe armed")
		}
	case logic.LineTest:
		if err := c.checkIdle(); err != nil {
			c.reject(err)
			return
		}
		c.testDispense(ctx, cmd.Channel, cmd.Volume)
	}
}

func (c *Controller) checkIdle() error {
	switch c.state {
	case logic.JobIdle:
		return nil
	case logic.JobFault:
		return fmt.Errorf("%w: fault (%s), send RESET", ErrBusy, c.fault)
	default:
		return fmt.Errorf("%w: %s", ErrBusy, c.state)
	}
}

func (c *Controller) reject(err error) {
	c.logger.Info("command rejected", zap.Error(err))
	c.respond("[BUSY] " + err.Error())
	c.publish(logic.EventRecipeRejected, -1, err.Error())
}

func (c *Controller) reset() {
	switch c.state {
	case logic.JobFault:
		c.logger.Info("fault cleared", zap.String("fault", c.fault))
		c.fault = ""
		c.setState(logic.JobIdle)
		c.publish(logic.EventReset, -1, "")
		c.respond("[OK] reset")
	case logic.JobIdle:
		c.respond("[OK] idle")
	default:
		c.respond("[BUSY] " + fmt.Errorf("%w: %s", ErrBusy, c.state).Error())
	}
}

func (c *Controller) runJob(ctx context.Context) {
	c.jobID = c.production.ID
	if c.jobID == "" {
		c.jobID = c.newID()
	}
	c.stage.SetYield(func() { c.yield(ctx) })
	recipe := c.recipe

	c.logger.Info("job started", zap.String("job_id", c.jobID), zap.String("recipe", recipe.Format()))
	c.publish(logic.EventJobStarted, -1, recipe.Format())

	c.setState(logic.JobMovingDown)
	if err := c.stage.MoveToLimit(ctx, Down); err != nil {
		c.endJob(ctx, err)
		return
	}
	if err := c.cover.SetAngle(c.cfg.CoverOpenAngle); err != nil {
		c.endJob(ctx, fmt.Errorf("open cover: %w", err))
		return
	}
	if err := c.wait(ctx, c.cfg.CoverHold); err != nil {
		c.endJob(ctx, err)
		return
	}
	c.setState(logic.JobAtBottom)

	c.setState(logic.JobDispensing)
	now := c.clock.Now()
	sample := c.samples.Latest(now)
	c.tracker.SetSample(sample)

	var longest time.Duration
	for ch, vol := range recipe {
		if vol <= 0 {
			continue
		}
		d, comp := c.model.Duration(ch, vol, sample)
		c.logCompensation(comp)
		if err := c.pumps.Start(ch, now, d); err != nil {
			c.endJob(ctx, err)
			return
		}
		c.publish(logic.EventChannelOn, ch, d.String())
		if d > longest {
			longest = d
		}
	}
	if err := c.dispense(ctx, longest); err != nil {
		c.endJob(ctx, err)
		return
	}

	c.setState(logic.JobMovingUp)
	if err := c.cover.SetAngle(c.cfg.CoverClosedAngle); err != nil {
		c.endJob(ctx, fmt.Errorf("close cover: %w", err))
		return
	}
	if err := c.stage.MoveToLimit(ctx, Up); err != nil {
		c.endJob(ctx, err)
		return
	}

	if err := c.link.WriteLine(logic.CompletionToken); err != nil {
		c.logger.Error("write completion token failed", zap.Error(err))
	}

	c.completed++
	c.tracker.JobCompleted(c.clock.Now())
	c.publish(logic.EventJobCompleted, -1, "")
	c.logger.Info("job completed", zap.String("job_id", c.jobID))

	c.reportProduction(c.production, nil)
	c.clearRecipe()
	c.jobID = ""
	c.setState(logic.JobIdle)
}

// testDispense runs one channel without moving the stage.
func (c *Controller) testDispense(ctx context.Context, ch int, vol float64) {
	now := c.clock.Now()
	sample := c.samples.Latest(now)
	d, comp := c.model.Duration(ch, vol, sample)
	c.logCompensation(comp)

	c.setState(logic.JobDispensing)
	c.publish(logic.EventTestDispense, ch, fmt.Sprintf("%gml %dms", vol, comp.FinalMs))

	if err := c.pumps.Start(ch, now, d); err != nil {
		c.endTest(ctx, err)
		return
	}
	c.publish(logic.EventChannelOn, ch, d.String())
	if err := c.dispense(ctx, d); err != nil {
		c.endTest(ctx, err)
		return
	}

	c.setState(logic.JobIdle)
	c.respond(fmt.Sprintf("[OK] test channel %d %dms", ch+1, comp.FinalMs))
}

// dispense polls the pump bank until every channel has reached its deadline.
func (c *Controller) dispense(ctx context.Context, longest time.Duration) error {
	limit := longest + c.cfg.DispenseMargin
	deadline := c.clock.Now().Add(limit)

	for {
		now := c.clock.Now()
		stopped, running, err := c.pumps.PollAll(now)
		for _, ch := range stopped {
			c.publish(logic.EventChannelOff, ch, "")
		}
		c.tracker.SetRunning(c.pumps.Running())
		if err != nil {
			return err
		}
		if running == 0 {
			return nil
		}
		if now.After(deadline) {
			return fmt.Errorf("%w: %d channels running after %s", ErrDispenseOverrun, running, limit)
		}

		c.yield(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		c.clock.Sleep(c.cfg.PollInterval)
	}
}

// wait blocks for d while yielding.
func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	end := c.clock.Now().Add(d)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := c.clock.Now()
		if !now.Before(end) {
			return nil
		}
		c.yield(ctx)

		step := c.cfg.PollInterval
		if rem := end.Sub(now); step <= 0 || rem < step {
			step = rem
		}
		c.clock.Sleep(step)
	}
}

// yield services the sniff bank and drains pending lines while a blocking phase runs.
// Recipes and test commands drained here are rejected as busy.
func (c *Controller) yield(ctx context.Context) {
	c.sniffs.Service(c.clock.Now())
	c.tracker.SetSniffs(c.sniffs.Counts())

	for {
		select {
		case line, ok := <-c.inbox:
			if !ok {
				c.inbox = nil
				return
			}
			c.HandleLine(ctx, line)
		case sub, ok := <-c.subs:
			if !ok {
				c.subs = nil
				return
			}
			c.HandleSubmission(ctx, sub)
		default:
			return
		}
	}
}

// endJob stops the pumps and either aborts (ctx done) or enters FAULT.
// The job's recipe is discarded and its production reported as failed.
func (c *Controller) endJob(ctx context.Context, err error) {
	err = c.haltPumps(err)
	c.reportProduction(c.production, err)
	c.clearRecipe()

	if ctx.Err() != nil {
		c.logger.Warn("job aborted", zap.String("job_id", c.jobID), zap.Error(err))
		c.abort(err)
		return
	}
	c.enterFault(err)
}

// endTest ends a failed test dispense like endJob, but a recipe armed
// before the test stays armed.
func (c *Controller) endTest(ctx context.Context, err error) {
	err = c.haltPumps(err)
	if ctx.Err() != nil {
		c.logger.Warn("test dispense aborted", zap.Error(err))
		c.abort(err)
		return
	}
	c.enterFault(err)
}

func (c *Controller) haltPumps(err error) error {
	if stopErr := c.pumps.StopAll(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	c.tracker.SetRunning(c.pumps.Running())
	return err
}

func (c *Controller) abort(err error) {
	if coverErr := c.cover.SetAngle(c.cfg.CoverClosedAngle); coverErr != nil {
		c.logger.Warn("close cover failed", zap.Error(coverErr))
	}
	c.publish(logic.EventJobAborted, -1, err.Error())
	c.jobID = ""
	c.setState(logic.JobIdle)
}

func (c *Controller) enterFault(err error) {
	if coverErr := c.cover.SetAngle(c.cfg.CoverClosedAngle); coverErr != nil {
		c.logger.Warn("close cover failed", zap.Error(coverErr))
	}

	reason := err.Error()
	c.fault = reason
	c.faulted++
	c.logger.Error("fault", zap.String("job_id", c.jobID), zap.Error(err))
	c.respond("[FAULT] " + reason)
	c.publish(logic.EventJobFault, -1, reason)
	c.tracker.JobFaulted(reason, c.clock.Now())

	c.jobID = ""
	c.setState(logic.JobFault)
}

func (c *Controller) setState(s logic.JobState) {
	if s != c.state {
		c.logger.Debug("state", zap.String("from", string(c.state)), zap.String("to", string(s)))
	}
	c.state = s
	c.tracker.SetJob(s, c.jobID)
}

func (c *Controller) clearRecipe() {
	c.recipe = logic.Recipe{}
	c.armed = false
	c.production = logic.Production{}
	c.tracker.SetRecipe(c.recipe, false)
}

func (c *Controller) reportProduction(p logic.Production, err error) {
	if p.IsZero() || c.report == nil {
		return
	}
	c.logger.Info("production finished", zap.String("production_id", p.ID), zap.NamedError("reason", err))
	c.report.Report(p, err)
}

func (c *Controller) respond(line string) {
	if err := c.link.WriteLine(line); err != nil {
		c.logger.Warn("write response failed", zap.String("line", line), zap.Error(err))
	}
}

func (c *Controller) publish(t logic.EventType, ch int, detail string) {
	if c.events == nil {
		return
	}
	ev := logic.Event{
		Timestamp: c.clock.Now(),
		Type:      t,
		JobID:     c.jobID,
		Channel:   ch,
		Detail:    detail,
	}
	if err := c.events.Publish(ev); err != nil {
		c.logger.Warn("publish event failed", zap.String("type", string(t)), zap.Error(err))
	}
}

func (c *Controller) logCompensation(comp logic.Compensation) {
	c.logger.Debug("temperature compensation",
		zap.Int("channel", comp.Channel+1),
		zap.Bool("valid", comp.Valid),
		zap.Float64("raw_temp", comp.RawTemp),
		zap.Float64("clamped_temp", comp.ClampedTemp),
		zap.Float64("delta_ms", comp.DeltaMs),
		zap.Uint32("final_ms", comp.FinalMs))
}
