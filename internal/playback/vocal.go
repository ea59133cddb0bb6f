package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/clock"
	"github.com/teslashibe/go-jaw/internal/jaw"
)

// State is a vocal session lifecycle state
type State int

const (
	Idle State = iota
	Streaming
	Draining
	Closed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DefaultBufferFrames is the number of sample frames pulled per read
const DefaultBufferFrames = 1024

// Opener opens the source for one session
type Opener func() (audio.Source, error)

// Observer sees every processed vocal frame
type Observer interface {
	VocalFrame(loudness audio.Loudness, target float64, applied bool)
}

// VocalConfig is the per-cycle snapshot of vocal settings
type VocalConfig struct {
	Mapping      jaw.Mapping
	Range        jaw.Range
	MirrorLeft   bool          // copy left over right before output
	BufferFrames int           // sample frames per read
	MaxDuration  time.Duration // capture limit; 0 runs until exhausted or canceled
}

// VocalResult summarizes a finished session
type VocalResult struct {
	State     State
	Frames    int
	Updates   int
	StreamErr error
}

// VocalSession streams one vocal track through the jaw pipeline
type VocalSession struct {
	cfg       VocalConfig
	open      Opener
	device    audio.Device
	driver    *jaw.Driver
	extractor audio.Extractor
	clock     clock.Clock
	observer  Observer
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	src    audio.Source
	sink   audio.Sink
	closed bool
}

// NewVocalSession creates an idle session. The driver is released when the
// session closes.
func NewVocalSession(cfg VocalConfig, open Opener, device audio.Device, driver *jaw.Driver, extractor audio.Extractor, clk clock.Clock, logger *slog.Logger) *VocalSession {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = DefaultBufferFrames
	}

	return &VocalSession{
		cfg:       cfg,
		open:      open,
		device:    device,
		driver:    driver,
		extractor: extractor,
		clock:     clk,
		logger:    logger,
	}
}

// WithObserver attaches a frame observer
func (s *VocalSession) WithObserver(o Observer) *VocalSession {
	s.observer = o
	return s
}

// State returns the current lifecycle state
func (s *VocalSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *VocalSession) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Run plays the session to completion. Open failures return a *SetupError;
// cancellation returns ctx.Err() after the close path has run. A Close from
// another goroutine aborts the session with ErrSessionClosed. Stream I/O
// errors end the session early and are reported in the result only.
func (s *VocalSession) Run(ctx context.Context) (VocalResult, error) {
	defer s.Close()

	src, err := s.open()
	if err != nil {
		s.setState(Closed)
		return VocalResult{State: Closed}, &SetupError{Op: "open source", Err: err}
	}
	if !s.attach(func() { s.src = src }) {
		closeQuietly(src, s.logger)
		return s.abort(VocalResult{}, ErrSessionClosed)
	}

	sink, err := s.device.OpenPlayback(src.Format(), s.cfg.BufferFrames)
	if err != nil {
		s.setState(Closed)
		return VocalResult{State: Closed}, &SetupError{Op: "open playback", Err: err}
	}
	if !s.attach(func() { s.sink = sink }) {
		audio.AbortSink(sink)
		return s.abort(VocalResult{}, ErrSessionClosed)
	}

	s.setState(Streaming)
	res := s.stream(ctx, src, sink)

	if ctx.Err() != nil {
		return s.abort(res, ctx.Err())
	}
	if s.isClosed() {
		return s.abort(res, ErrSessionClosed)
	}

	s.setState(Draining)
	s.shutdown(false)
	s.setState(Closed)
	res.State = Closed
	return res, nil
}

// attach stores a freshly opened handle unless the session is already closed
func (s *VocalSession) attach(set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	set()
	return true
}

func (s *VocalSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *VocalSession) abort(res VocalResult, err error) (VocalResult, error) {
	s.shutdown(true)
	s.setState(Aborted)
	res.State = Aborted
	return res, err
}

func (s *VocalSession) stream(ctx context.Context, src audio.Source, sink audio.Sink) VocalResult {
	var res VocalResult
	start := s.clock.Now()
	filtered := s.cfg.Mapping.Filtered()

	for {
		if ctx.Err() != nil || s.isClosed() {
			return res
		}

		now := s.clock.Now()
		if s.cfg.MaxDuration > 0 && now.Sub(start) >= s.cfg.MaxDuration {
			return res
		}

		frame, err := src.ReadFrame(s.cfg.BufferFrames)
		if errors.Is(err, io.EOF) {
			return res
		}
		if err != nil {
			res.StreamErr = &StreamIOError{Op: "read", Err: err}
			s.logger.Warn("vocal stream ended early", "error", res.StreamErr)
			return res
		}

		loudness := s.extractor.Extract(frame, filtered, now)
		target := jaw.Map(loudness, s.cfg.Mapping, s.cfg.Range)
		applied := s.driver.MaybeUpdate(target, now)
		if applied {
			res.Updates++
		}
		if s.observer != nil {
			s.observer.VocalFrame(loudness, target, applied)
		}

		out := frame
		if s.cfg.MirrorLeft {
			out = audio.MirrorLeft(frame)
		}
		if err := sink.WriteFrame(out); err != nil {
			if s.isClosed() {
				return res
			}
			res.StreamErr = &StreamIOError{Op: "write", Err: err}
			s.logger.Warn("vocal stream ended early", "error", res.StreamErr)
			return res
		}
		res.Frames++
	}
}

// Close aborts the session: queued output is dropped, the source is closed
// and the jaw released. Safe to call more than once and from another
// goroutine, including before Run has opened anything; only the first call
// acts.
func (s *VocalSession) Close() {
	s.shutdown(true)
}

// shutdown closes whatever has been opened so far. With abort unset the
// sink plays out its queued audio first.
func (s *VocalSession) shutdown(abort bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	src, sink := s.src, s.sink
	s.mu.Unlock()

	if sink != nil {
		var err error
		if abort {
			err = audio.AbortSink(sink)
		} else {
			err = sink.Close()
		}
		if err != nil {
			s.logger.Warn("closing vocal output failed", "error", err)
		}
	}
	if src != nil {
		closeQuietly(src, s.logger)
	}
	if s.driver != nil {
		s.driver.Release()
	}
}

func closeQuietly(src audio.Source, logger *slog.Logger) {
	if err := src.Close(); err != nil {
		logger.Debug("closing source failed", "error", err)
	}
}
