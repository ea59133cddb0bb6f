package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-jaw/internal/audio"
)

// DefaultPollInterval bounds the reaction time to a trigger during ambient playback
const DefaultPollInterval = 100 * time.Millisecond

// Outcome is how an ambient session ended
type Outcome int

const (
	Exhausted Outcome = iota
	Interrupted
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Exhausted:
		return "exhausted"
	case Interrupted:
		return "interrupted"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Interrupter is the trigger side of an ambient session
type Interrupter interface {
	// Armed reports whether the trigger condition is met
	Armed() bool
	// Fire records the interruption for the sequencing loop
	Fire()
}

// AmbientConfig is the per-cycle snapshot of ambient settings
type AmbientConfig struct {
	BufferFrames int
	PollInterval time.Duration
}

// AmbientSession plays a background track with no actuation
type AmbientSession struct {
	cfg    AmbientConfig
	open   Opener
	device audio.Device
	logger *slog.Logger

	mu     sync.Mutex
	src    audio.Source
	sink   audio.Sink
	closed bool
}

// NewAmbientSession creates an ambient session
func NewAmbientSession(cfg AmbientConfig, open Opener, device audio.Device, logger *slog.Logger) *AmbientSession {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = DefaultBufferFrames
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &AmbientSession{
		cfg:    cfg,
		open:   open,
		device: device,
		logger: logger,
	}
}

// readFrames caps each read so the trigger is polled at least once per interval
func (a *AmbientSession) readFrames(format audio.Format) int {
	n := a.cfg.BufferFrames
	if format.SampleRate > 0 {
		perPoll := int(int64(format.SampleRate) * int64(a.cfg.PollInterval) / int64(time.Second))
		if perPoll > 0 && perPoll < n {
			n = perPoll
		}
	}
	return n
}

// Run streams until the source is exhausted, the trigger fires or ctx is
// done. A Close from another goroutine ends it with ErrSessionClosed.
func (a *AmbientSession) Run(ctx context.Context, trig Interrupter) (Outcome, error) {
	defer a.Close()

	src, err := a.open()
	if err != nil {
		return Exhausted, &SetupError{Op: "open ambient source", Err: err}
	}
	if !a.attach(func() { a.src = src }) {
		closeQuietly(src, a.logger)
		return Canceled, ErrSessionClosed
	}

	sink, err := a.device.OpenPlayback(src.Format(), a.cfg.BufferFrames)
	if err != nil {
		return Exhausted, &SetupError{Op: "open ambient playback", Err: err}
	}
	if !a.attach(func() { a.sink = sink }) {
		audio.AbortSink(sink)
		return Canceled, ErrSessionClosed
	}

	n := a.readFrames(src.Format())

	for {
		if ctx.Err() != nil {
			return Canceled, ctx.Err()
		}
		if a.isClosed() {
			return Canceled, ErrSessionClosed
		}

		if trig != nil && trig.Armed() {
			trig.Fire()
			a.logger.Info("ambient interrupted by trigger")
			return Interrupted, nil
		}

		frame, err := src.ReadFrame(n)
		if errors.Is(err, io.EOF) {
			a.shutdown(false)
			return Exhausted, nil
		}
		if err != nil {
			a.logger.Warn("ambient stream ended early", "error", &StreamIOError{Op: "read", Err: err})
			return Exhausted, nil
		}

		if err := sink.WriteFrame(frame); err != nil {
			if a.isClosed() {
				return Canceled, ErrSessionClosed
			}
			a.logger.Warn("ambient stream ended early", "error", &StreamIOError{Op: "write", Err: err})
			return Exhausted, nil
		}
	}
}

func (a *AmbientSession) attach(set func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	set()
	return true
}

func (a *AmbientSession) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close stops output at once, dropping queued audio, and closes the source.
// Safe from another goroutine; only the first call acts.
func (a *AmbientSession) Close() {
	a.shutdown(true)
}

func (a *AmbientSession) shutdown(abort bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	src, sink := a.src, a.sink
	a.mu.Unlock()

	if sink != nil {
		var err error
		if abort {
			err = audio.AbortSink(sink)
		} else {
			err = sink.Close()
		}
		if err != nil {
			a.logger.Warn("closing ambient output failed", "error", err)
		}
	}
	if src != nil {
		closeQuietly(src, a.logger)
	}
}
