// go-jaw: talking skull daemon
// Moves a servo jaw in time with vocal tracks or a live microphone
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/config"
	"github.com/teslashibe/go-jaw/internal/health"
	"github.com/teslashibe/go-jaw/internal/jaw"
	"github.com/teslashibe/go-jaw/internal/metrics"
	"github.com/teslashibe/go-jaw/internal/playback"
	"github.com/teslashibe/go-jaw/internal/prop"
	"github.com/teslashibe/go-jaw/internal/sensor"
	"github.com/teslashibe/go-jaw/internal/server"
	"github.com/teslashibe/go-jaw/internal/servo"
	"github.com/teslashibe/go-jaw/internal/status"
	"github.com/teslashibe/go-jaw/internal/trigger"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", config.DefaultPath, "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use mock servo, sensor and outputs (for testing)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-jaw %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	store, err := config.NewStore(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		store = config.NewStaticStore(config.Default())
	}
	cfg := store.Snapshot()

	logCfg := cfg.Logging
	if *debug {
		logCfg.Level = "debug"
	}

	logger := setupLogger(logCfg)
	slog.SetDefault(logger)

	logger.Info("starting go-jaw",
		"version", version,
		"config", *configPath,
		"trigger", cfg.Prop.Trigger,
		"source", cfg.Audio.Source,
	)

	if err := run(cfg, store, logger); err != nil {
		logger.Error("go-jaw stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("go-jaw stopped")
}

func run(cfg *config.Config, store *config.Store, logger *slog.Logger) error {
	policy, err := cfg.Policy()
	if err != nil {
		return fmt.Errorf("invalid trigger settings: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	tracker := status.NewTracker(policy.Kind.String(), status.DefaultTrackerConfig(), logger)
	checker := health.NewChecker(version, logger)

	store.OnReload(func(old, updated *config.Config) {
		m.ConfigReloaded()
		if old.Prop.Trigger != updated.Prop.Trigger || old.Prop.Delay != updated.Prop.Delay {
			logger.Warn("trigger settings change applies after restart",
				"trigger", updated.Prop.Trigger,
				"delay", updated.Prop.Delay,
			)
		}
	})
	store.Watch()

	// Audio device
	device, err := openDevice(cfg.Audio.Backend, logger)
	if err != nil {
		return err
	}
	defer device.Close()

	// Jaw actuator
	servoCfg := servo.Config{
		Driver:     cfg.Servo.Driver,
		Pin:        cfg.Servo.Pin,
		Channel:    cfg.Servo.MaestroChannel,
		MinPulseUs: cfg.Servo.MinPulseUs,
		MaxPulseUs: cfg.Servo.MaxPulseUs,
	}
	var act jaw.Actuator
	if *useMock {
		logger.Info("using mock actuator")
		act = servo.NewMock()
	} else {
		act = servo.NewActuatorWithFallback(servoCfg, logger)
	}

	logger.Info("actuator ready",
		"type", act.Name(),
		"healthy", act.Healthy(),
	)

	checker.Register("actuator", func() (bool, string) {
		return act.Healthy(), act.Name()
	})
	checker.SetComponent("audio", true, device.Name())

	// Motion sensor
	var motion trigger.Sensor
	if policy.Kind == trigger.SensorEdge {
		if *useMock {
			motion = sensor.NewMockSensor()
		} else {
			pir, err := sensor.NewPIR(cfg.Pins.PIR, logger)
			if err != nil {
				act.Close()
				return fmt.Errorf("motion sensor: %w", err)
			}
			motion = pir
		}
	}

	cycles := prop.New(policy.Kind, prop.Deps{
		Store:      store,
		Device:     device,
		Actuator:   act,
		Eyes:       openOutput("eyes", cfg.Prop.Eyes, logger),
		TriggerOut: openOutput("trigger-out", cfg.Prop.TriggerOut, logger),
		Recorder:   m,
		Observers:  []playback.Observer{tracker, m},
	}, logger)

	controller := trigger.NewController(policy, cycles, motion, nil, logger).
		WithObserver(phaseObservers{tracker, m}).
		WithPollInterval(cfg.Audio.PollInterval)

	srv := server.New(cfg.Server, server.Deps{
		Tracker: tracker,
		Health:  checker,
		Metrics: m,
		Store:   store,
	}, logger)

	if cfg.Server.Enabled {
		printStartupBanner(cfg, version)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// An immediate controller returns after its single cycle
		defer cancel()
		return controller.Run(gctx)
	})
	g.Go(func() error {
		return ignoreCanceled(tracker.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(checker.Run(gctx, 5*time.Second))
	})
	if cfg.Server.Enabled {
		g.Go(func() error {
			srv.WSHub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	tracker.Stop()
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// phaseObservers fans phase changes out to several observers
type phaseObservers []trigger.PhaseObserver

func (o phaseObservers) PhaseChanged(p trigger.Phase) {
	for _, obs := range o {
		obs.PhaseChanged(p)
	}
}

func openDevice(backend string, logger *slog.Logger) (audio.Device, error) {
	switch backend {
	case "malgo":
		return audio.NewMalgoDevice(logger)
	case "alsa":
		dev := audio.NewALSADevice(audio.DefaultALSAConfig(), logger)
		if !dev.IsAvailable() {
			return nil, fmt.Errorf("alsa backend: aplay/arecord not found")
		}
		return dev, nil
	case "mock":
		logger.Info("using mock audio device")
		dev := &audio.MockDevice{}
		dev.OpenHook = func(s *audio.MockSink) {
			// Pace writes like a real sound card
			s.OnWrite(func(f audio.Frame) {
				if f.Format.SampleRate > 0 {
					time.Sleep(time.Duration(f.Frames()) * time.Second / time.Duration(f.Format.SampleRate))
				}
			})
		}
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}

func openOutput(name string, cfg config.OutputConfig, logger *slog.Logger) sensor.Output {
	if !cfg.Enabled {
		return sensor.Disabled{}
	}
	if *useMock {
		return sensor.NewMockOutput()
	}

	pin, err := sensor.NewPin(cfg.Pin, logger)
	if err != nil {
		logger.Warn("output unavailable, disabling",
			"output", name,
			"pin", cfg.Pin,
			"error", err,
		)
		return sensor.Disabled{}
	}
	return pin
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	title := color.New(color.FgHiRed, color.Bold)
	dim := color.New(color.Faint)

	fmt.Println()
	title.Println("💀 go-jaw v" + version)
	dim.Printf("   trigger=%s source=%s ambient=%v\n", cfg.Prop.Trigger, cfg.Audio.Source, cfg.Audio.Ambient)
	fmt.Println()
	color.Green("🚀 Running at http://0.0.0.0:%d", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/status          - Current phase and jaw state")
	fmt.Println("   GET  /api/status/history  - Recent phase changes")
	fmt.Println("   GET  /api/config          - Active configuration")
	fmt.Println("   WS   /api/stream          - Real-time status stream")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
