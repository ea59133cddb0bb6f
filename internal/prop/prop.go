// Package prop assembles the playback cycles the trigger controller runs:
// it reads a settings snapshot per cycle, picks a track, drives the jaw and
// switches the prop's eyes and trigger-out lines.
package prop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/clock"
	"github.com/teslashibe/go-jaw/internal/config"
	"github.com/teslashibe/go-jaw/internal/jaw"
	"github.com/teslashibe/go-jaw/internal/playback"
	"github.com/teslashibe/go-jaw/internal/sensor"
	"github.com/teslashibe/go-jaw/internal/servo"
	"github.com/teslashibe/go-jaw/internal/tracks"
	"github.com/teslashibe/go-jaw/internal/trigger"
)

// Source names for audio.source
const (
	SourceFiles      = "files"
	SourceMicrophone = "microphone"
)

// Deps are the long-lived resources a Prop drives. Eyes and TriggerOut
// default to sensor.Disabled; Clock defaults to clock.Real.
type Deps struct {
	Store      *config.Store
	Device     audio.Device
	Actuator   jaw.Actuator
	Eyes       sensor.Output
	TriggerOut sensor.Output
	Clock      clock.Clock
	Recorder   jaw.Recorder
	Observers  []playback.Observer
}

// Prop implements trigger.Cycles
type Prop struct {
	kind   trigger.Kind
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	vocals   *tracks.Library
	ambients *tracks.Library
	seed     uint64

	closeOnce sync.Once
	closeErr  error
}

// New creates a prop for a controller running the given trigger kind
func New(kind trigger.Kind, deps Deps, logger *slog.Logger) *Prop {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Eyes == nil {
		deps.Eyes = sensor.Disabled{}
	}
	if deps.TriggerOut == nil {
		deps.TriggerOut = sensor.Disabled{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Actuator == nil {
		deps.Actuator = servo.Nop{}
	}

	return &Prop{
		kind:   kind,
		deps:   deps,
		logger: logger,
	}
}

// WithSeed makes track selection reproducible
func (p *Prop) WithSeed(seed uint64) *Prop {
	p.seed = seed
	return p
}

// library returns the cached library for dir, rebuilding it when the
// directory or order changed in a reload
func (p *Prop) library(cached **tracks.Library, dir, order string) (*tracks.Library, error) {
	o, err := tracks.ParseOrder(order)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	lib := *cached
	if lib == nil || lib.Dir() != dir || lib.Order() != o {
		lib = tracks.NewLibrary(dir, o)
		if p.seed != 0 {
			lib.WithSeed(p.seed)
		}
		*cached = lib
	}
	return lib, nil
}

// Vocal runs one vocal cycle with the current settings
func (p *Prop) Vocal(ctx context.Context) error {
	cfg := p.deps.Store.Snapshot()

	mapping, err := cfg.Mapping()
	if err != nil {
		return &playback.SetupError{Op: "build mapping", Err: err}
	}

	open, maxDuration, err := p.vocalSource(cfg)
	if err != nil {
		return err
	}

	act := p.deps.Actuator
	if !cfg.Prop.JawEnabled {
		act = servo.Nop{}
	}
	driver := jaw.NewDriver(act, cfg.Range(), cfg.Servo.UpdateInterval, p.logger)
	if p.deps.Recorder != nil {
		driver.WithRecorder(p.deps.Recorder)
	}

	if err := p.pulseTriggerOut(ctx, cfg.Prop.TriggerOut); err != nil {
		driver.Release()
		return err
	}

	p.switchEyes(true)
	if p.kind != trigger.Immediate {
		defer p.switchEyes(false)
	}

	session := playback.NewVocalSession(playback.VocalConfig{
		Mapping:      mapping,
		Range:        cfg.Range(),
		MirrorLeft:   cfg.Audio.OutputChannels == "left",
		BufferFrames: cfg.Audio.BufferSize,
		MaxDuration:  maxDuration,
	}, open, p.deps.Device, driver, audio.Extractor{Filter: cfg.Filter()}, p.deps.Clock, p.logger)
	if obs := fanOut(p.deps.Observers); obs != nil {
		session.WithObserver(obs)
	}

	res, err := session.Run(ctx)
	if err != nil {
		return err
	}

	p.logger.Info("vocal cycle finished",
		"state", res.State,
		"frames", res.Frames,
		"updates", res.Updates,
	)
	return nil
}

// vocalSource picks the opener for this cycle. Microphone capture runs for
// mic_time, or until canceled when the prop starts immediately.
func (p *Prop) vocalSource(cfg *config.Config) (playback.Opener, time.Duration, error) {
	if cfg.Audio.Source == SourceMicrophone {
		format := audio.Format{SampleRate: cfg.Audio.MicSampleRate, Channels: 1}
		open := func() (audio.Source, error) {
			return p.deps.Device.OpenCapture(format, cfg.Audio.BufferSize)
		}
		if p.kind == trigger.Immediate {
			return open, 0, nil
		}
		if cfg.Audio.MicTime <= 0 {
			// Only start mode may capture without a limit
			return nil, 0, &playback.SetupError{
				Op:  "microphone",
				Err: fmt.Errorf("mic_time must be positive, got %v", cfg.Audio.MicTime),
			}
		}
		return open, cfg.Audio.MicTime, nil
	}

	lib, err := p.library(&p.vocals, cfg.Audio.VocalDir, cfg.Audio.Order)
	if err != nil {
		return nil, 0, &playback.SetupError{Op: "vocal tracks", Err: err}
	}
	path, err := lib.Next()
	if err != nil {
		return nil, 0, &playback.SetupError{Op: "pick vocal track", Err: err}
	}

	p.logger.Info("playing vocal track", "path", path)
	return func() (audio.Source, error) {
		return audio.OpenWAV(path)
	}, 0, nil
}

// Ambient plays one ambient track until it ends or the trigger fires
func (p *Prop) Ambient(ctx context.Context, trig playback.Interrupter) error {
	cfg := p.deps.Store.Snapshot()

	lib, err := p.library(&p.ambients, cfg.Audio.AmbientDir, cfg.Audio.Order)
	if err != nil {
		return &playback.SetupError{Op: "ambient tracks", Err: err}
	}
	path, err := lib.Next()
	if err != nil {
		return &playback.SetupError{Op: "pick ambient track", Err: err}
	}

	session := playback.NewAmbientSession(playback.AmbientConfig{
		BufferFrames: cfg.Audio.BufferSize,
		PollInterval: cfg.Audio.PollInterval,
	}, func() (audio.Source, error) {
		return audio.OpenWAV(path)
	}, p.deps.Device, p.logger)

	outcome, err := session.Run(ctx, trig)
	if err != nil {
		return err
	}

	p.logger.Debug("ambient cycle finished", "path", path, "outcome", outcome)
	return nil
}

func (p *Prop) pulseTriggerOut(ctx context.Context, out config.OutputConfig) error {
	if !out.Enabled || out.Pulse <= 0 {
		return nil
	}

	if err := p.deps.TriggerOut.On(); err != nil {
		p.logger.Warn("trigger-out on failed", "error", err)
	}
	err := p.deps.Clock.Sleep(ctx, out.Pulse)
	if offErr := p.deps.TriggerOut.Off(); offErr != nil {
		p.logger.Warn("trigger-out off failed", "error", offErr)
	}
	if err != nil {
		return fmt.Errorf("trigger-out pulse: %w", err)
	}
	return nil
}

func (p *Prop) switchEyes(on bool) {
	var err error
	if on {
		err = p.deps.Eyes.On()
	} else {
		err = p.deps.Eyes.Off()
	}
	if err != nil {
		p.logger.Warn("eyes output failed", "on", on, "error", err)
	}
}

// Close switches off and releases eyes, trigger-out and the actuator, in
// that order. Only the first call acts.
func (p *Prop) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		for _, out := range []struct {
			name string
			out  sensor.Output
		}{
			{"eyes", p.deps.Eyes},
			{"trigger-out", p.deps.TriggerOut},
		} {
			if err := out.out.Off(); err != nil {
				p.logger.Debug("output off failed", "output", out.name, "error", err)
			}
			if err := out.out.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", out.name, err))
			}
		}

		if err := p.deps.Actuator.Release(); err != nil {
			p.logger.Debug("actuator release failed", "error", err)
		}
		if err := p.deps.Actuator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close actuator: %w", err))
		}

		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

var _ trigger.Cycles = (*Prop)(nil)
