// Command scent-dispenser drives the scent mixing apparatus: it accepts recipes
// on the primary serial line and over HTTP, runs dispense jobs and publishes
// controller events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sweeney/scent-dispenser/internal/calibration"
	"github.com/sweeney/scent-dispenser/internal/config"
	"github.com/sweeney/scent-dispenser/internal/dispense"
	"github.com/sweeney/scent-dispenser/internal/link"
	"github.com/sweeney/scent-dispenser/internal/logic"
	"github.com/sweeney/scent-dispenser/internal/mqtt"
	"github.com/sweeney/scent-dispenser/internal/sensor"
	"github.com/sweeney/scent-dispenser/internal/status"
	"github.com/sweeney/scent-dispenser/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	inboxSize       = 16
	heartbeatCheck  = time.Second
	shutdownTimeout = 5 * time.Second
)

type options struct {
	configPath        string
	printState        bool
	dumpConfig        bool
	calibrateChannel  int
	calibrateDuration time.Duration
	calibrateRuns     int
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "/etc/scent-dispenser/config.yaml", "Config file (missing file uses defaults)")
	debug := flag.Bool("debug", false, "Development logging at debug level")
	flag.BoolVar(&o.printState, "print-state", false, "Print sensor and limit switch state and exit")
	flag.BoolVar(&o.dumpConfig, "dump-config", false, "Print the effective config as YAML and exit")
	flag.IntVar(&o.calibrateChannel, "calibrate-channel", 0, "Run pump calibration on channel 1-10 and exit")
	flag.DurationVar(&o.calibrateDuration, "calibrate-duration", 10*time.Second, "Pump run time per calibration run")
	flag.IntVar(&o.calibrateRuns, "calibrate-runs", 1, "Number of calibration runs to average")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(o, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(o options, logger *zap.Logger) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.dumpConfig {
		return cfg.Dump(os.Stdout)
	}

	hw, err := openHardware(cfg.Hardware, openRealChip, openRealServo)
	if err != nil {
		return fmt.Errorf("init hardware: %w", err)
	}
	defer hw.Close()

	reader := sensor.IIOReader{Dir: cfg.Sensor.IIODir}
	if o.printState {
		hw.printState(os.Stdout, reader.Read)
		return nil
	}

	pumps := dispense.NewPumpBank(hw.pumps)

	if o.calibrateChannel != 0 {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		s := &calibration.Session{
			Pumps:  pumps,
			Clock:  dispense.SystemClock{},
			Poll:   cfg.Controller.PollInterval,
			In:     os.Stdin,
			Out:    os.Stdout,
			Logger: logger,
		}
		_, _, err := s.Calibrate(ctx, o.calibrateChannel-1, o.calibrateDuration, o.calibrateRuns)
		return err
	}

	return serve(cfg, hw, pumps, reader, logger)
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Broker:         cfg.MQTT.Broker,
		SerialPort:     cfg.Serial.Port,
		HTTPAddr:       cfg.Web.Addr,
		HeartbeatMs:    cfg.Heartbeat.Interval.Milliseconds(),
		PollMs:         cfg.Controller.PollInterval.Milliseconds(),
		TempMin:        cfg.Model.TempMin,
		TempMax:        cfg.Model.TempMax,
		TestCommands:   cfg.Controller.TestCommands,
		IngredientsMap: cfg.Ingredients,
	}
}

// wiring is everything newController needs besides the config and hardware.
type wiring struct {
	pumps   *dispense.PumpBank
	samples dispense.SampleSource
	link    dispense.LineWriter
	events  dispense.EventSink
	tracker *status.Tracker
	clock   dispense.Clock
	inbox   <-chan string
	logger  *zap.Logger

	submissions <-chan logic.Submission
	reporter    dispense.ProductionReporter
}

func newController(cfg *config.Config, hw *hardware, w wiring) *dispense.Controller {
	stage := dispense.NewStage(dispense.StageConfig{
		MaxSteps:     cfg.Stage.MaxSteps,
		PulseWidth:   cfg.Stage.PulseWidth,
		StepInterval: cfg.Stage.StepInterval,
	}, hw.dir, hw.step, hw.top, hw.bottom, w.clock)

	sniffs := dispense.NewSniffBank(dispense.SniffConfig{
		Timing:    cfg.SniffTiming(),
		OpenAngle: cfg.Sniff.OpenAngle,
		RestAngle: cfg.Sniff.RestAngle,
	}, hw.sniffInputs, hw.sniffServos, w.events, w.logger.Named("sniff"))

	return dispense.NewController(dispense.Config{
		AllowTest:        cfg.Controller.TestCommands,
		PollInterval:     cfg.Controller.PollInterval,
		CoverHold:        cfg.Controller.CoverHold,
		CoverOpenAngle:   cfg.Controller.CoverOpenAngle,
		CoverClosedAngle: cfg.Controller.CoverClosedAngle,
		DispenseMargin:   cfg.Controller.DispenseMargin,
	}, dispense.Deps{
		Pumps:   w.pumps,
		Stage:   stage,
		Sniffs:  sniffs,
		Cover:   hw.cover,
		Bottle:  hw.bottle,
		Model:   logic.NewTemperatureModel(cfg.LogicModel()),
		Samples: w.samples,
		Link:    w.link,
		Events:  w.events,
		Tracker: w.tracker,
		Clock:   w.clock,
		Inbox:   w.inbox,
		Logger:  w.logger.Named("controller"),

		Submissions: w.submissions,
		Reporter:    w.reporter,
	})
}

func serve(cfg *config.Config, hw *hardware, pumps *dispense.PumpBank, reader sensor.Reader, logger *zap.Logger) error {
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:             cfg.MQTT.Broker,
		ClientID:           cfg.MQTT.ClientID,
		Topic:              cfg.MQTT.Topic,
		SystemTopic:        cfg.MQTT.SystemTopic,
		BufferSize:         cfg.MQTT.BufferSize,
		Logger:             logger.Named("mqtt"),
		OnConnectionChange: tracker.SetMQTTConnected,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	serial, err := link.Open(cfg.Serial.Port, cfg.Serial.Baud, logger.Named("link"))
	if err != nil {
		return fmt.Errorf("init serial: %w", err)
	}
	defer serial.Close()

	holder := sensor.NewHolder(cfg.Sensor.MaxAge)
	sampler := sensor.NewSampler(reader, holder, cfg.Sensor.Period, time.Now, logger.Named("sensor"))

	inbox := make(chan string, inboxSize)
	submissions := make(chan logic.Submission, inboxSize)
	callbacks := web.NewCallbacks(nil, logger.Named("callback"))
	ctrl := newController(cfg, hw, wiring{
		pumps:   pumps,
		samples: holder,
		link:    serial,
		events:  publisher,
		tracker: tracker,
		clock:   dispense.SystemClock{},
		inbox:   inbox,
		logger:  logger,

		submissions: submissions,
		reporter:    callbacks,
	})

	var srv *web.Server
	if cfg.Web.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv, err = web.New(web.Options{
			Addr:        cfg.Web.Addr,
			Tracker:     tracker,
			Inbox:       submissions,
			Ingredients: cfg.Ingredients,
			Limits: web.Limits{
				MinIngredients: cfg.API.MinIngredients,
				MaxIngredients: cfg.API.MaxIngredients,
				MinTotalMl:     cfg.API.MinTotalMl,
				MaxTotalMl:     cfg.API.MaxTotalMl,
			},
			WSInterval: cfg.Web.WSInterval,
			Logger:     logger.Named("web"),
		})
		if err != nil {
			return fmt.Errorf("init web: %w", err)
		}
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return watchSignals(gctx, cancel, sigCh) })
	g.Go(func() error { return serial.Run(gctx, inbox) })
	g.Go(func() error { return sampler.Run(gctx) })

	g.Go(func() error {
		ticker := time.NewTicker(heartbeatCheck)
		defer ticker.Stop()
		return runSystemEvents(gctx, publisher, publisher, tracker, cfg.Heartbeat.Interval, time.Now, ticker.C, logger)
	})

	g.Go(func() error {
		if err := ctrl.Home(gctx); err != nil {
			logger.Error("homing failed, send RESET once cleared", zap.Error(err))
		}
		ticker := time.NewTicker(cfg.Controller.TickInterval)
		defer ticker.Stop()
		err := ctrl.Run(gctx, ticker.C)
		if stopErr := pumps.StopAll(); stopErr != nil {
			logger.Error("stop pumps failed", zap.Error(stopErr))
		}
		return err
	})

	if srv != nil {
		g.Go(func() error {
			logger.Info("http server listening", zap.String("addr", cfg.Web.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	logger.Info("started",
		zap.String("serial", cfg.Serial.Port),
		zap.String("broker", cfg.MQTT.Broker),
		zap.Duration("heartbeat", cfg.Heartbeat.Interval),
		zap.Bool("test_commands", cfg.Controller.TestCommands),
	)

	err = g.Wait()

	wctx, wcancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer wcancel()
	if werr := callbacks.Wait(wctx); werr != nil {
		logger.Warn("production callbacks still pending", zap.Error(werr))
	}

	logger.Info("stopped", zap.String("reason", signalName(context.Cause(ctx))))
	return err
}
