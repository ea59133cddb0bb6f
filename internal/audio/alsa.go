package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Playback latency bounds. aplay keeps at most alsaBufferTime in the sound
// card buffer and WriteFrame keeps at most one lead of audio queued ahead
// of real time, so the jaw stays in step with what is heard.
const (
	alsaBufferTime = 100 * time.Millisecond
	alsaMinLead    = 50 * time.Millisecond
)

// ALSAConfig holds the command-line tools used for playback and capture
type ALSAConfig struct {
	PlaybackCmd string // default: "aplay"
	CaptureCmd  string // default: "arecord"
}

// DefaultALSAConfig returns the alsa-utils defaults found on Raspberry Pi OS
func DefaultALSAConfig() ALSAConfig {
	return ALSAConfig{
		PlaybackCmd: "aplay",
		CaptureCmd:  "arecord",
	}
}

// ALSADevice streams raw PCM through aplay/arecord child processes.
// It needs no cgo and works wherever alsa-utils is installed.
type ALSADevice struct {
	cfg    ALSAConfig
	logger *slog.Logger

	// Stats
	framesPlayed   atomic.Uint64
	framesCaptured atomic.Uint64
	playbackErrors atomic.Uint64
	captureErrors  atomic.Uint64
}

// NewALSADevice creates a new exec-based device
func NewALSADevice(cfg ALSAConfig, logger *slog.Logger) *ALSADevice {
	if logger == nil {
		logger = slog.Default()
	}

	return &ALSADevice{
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the backend name
func (d *ALSADevice) Name() string {
	return "alsa"
}

// IsAvailable checks if the playback and capture commands are installed
func (d *ALSADevice) IsAvailable() bool {
	if _, err := exec.LookPath(d.cfg.PlaybackCmd); err != nil {
		return false
	}
	_, err := exec.LookPath(d.cfg.CaptureCmd)
	return err == nil
}

func pcmArgs(format Format, bufferFrames int) []string {
	args := []string{
		"-f", "S16_LE",
		"-r", strconv.Itoa(format.SampleRate),
		"-c", strconv.Itoa(format.Channels),
		"-t", "raw",
		"-q",
	}
	if bufferFrames > 0 {
		args = append(args, "--period-size="+strconv.Itoa(bufferFrames))
	}
	return args
}

// playbackLead is how far ahead of real time WriteFrame may run
func playbackLead(format Format, bufferFrames int) time.Duration {
	lead := alsaMinLead
	if format.SampleRate > 0 {
		if p := 2 * framesDuration(int64(bufferFrames), format.SampleRate); p > lead {
			lead = p
		}
	}
	return lead
}

func framesDuration(frames int64, rate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// OpenPlayback starts aplay reading raw PCM from a pipe
func (d *ALSADevice) OpenPlayback(format Format, bufferFrames int) (Sink, error) {
	args := append(pcmArgs(format, bufferFrames),
		"--buffer-time="+strconv.FormatInt(alsaBufferTime.Microseconds(), 10))
	cmd := exec.Command(d.cfg.PlaybackCmd, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.playbackErrors.Add(1)
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		d.playbackErrors.Add(1)
		return nil, fmt.Errorf("start playback: %w", err)
	}

	d.logger.Debug("playback process started",
		"cmd", d.cfg.PlaybackCmd,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
	)

	lead := playbackLead(format, bufferFrames)
	return &alsaSink{
		dev:          d,
		cmd:          cmd,
		stdin:        stdin,
		pace:         newPacer(format.SampleRate, lead),
		drainTimeout: lead + alsaBufferTime + time.Second,
	}, nil
}

// OpenCapture starts arecord writing raw PCM to a pipe
func (d *ALSADevice) OpenCapture(format Format, bufferFrames int) (Source, error) {
	cmd := exec.Command(d.cfg.CaptureCmd, pcmArgs(format, bufferFrames)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.captureErrors.Add(1)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		d.captureErrors.Add(1)
		return nil, fmt.Errorf("start capture: %w", err)
	}

	d.logger.Debug("capture process started",
		"cmd", d.cfg.CaptureCmd,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
	)

	return &alsaSource{dev: d, cmd: cmd, stdout: stdout, format: format}, nil
}

// Close is a no-op; every stream owns its own process
func (d *ALSADevice) Close() error {
	return nil
}

// ALSAStats contains device statistics
type ALSAStats struct {
	FramesPlayed   uint64 `json:"frames_played"`
	FramesCaptured uint64 `json:"frames_captured"`
	PlaybackErrors uint64 `json:"playback_errors"`
	CaptureErrors  uint64 `json:"capture_errors"`
}

// Stats returns device statistics
func (d *ALSADevice) Stats() ALSAStats {
	return ALSAStats{
		FramesPlayed:   d.framesPlayed.Load(),
		FramesCaptured: d.framesCaptured.Load(),
		PlaybackErrors: d.playbackErrors.Load(),
		CaptureErrors:  d.captureErrors.Load(),
	}
}

// pacer holds writes back so that no more than lead of audio is queued
// ahead of real time
type pacer struct {
	rate  int
	lead  time.Duration
	now   func() time.Time
	sleep func(time.Duration)

	start   time.Time
	written int64
}

func newPacer(rate int, lead time.Duration) *pacer {
	return &pacer{rate: rate, lead: lead, now: time.Now, sleep: time.Sleep}
}

// wait blocks until frames more can be queued within the lead
func (p *pacer) wait(frames int) {
	if p.rate <= 0 {
		return
	}

	now := p.now()
	queued := p.start.Add(framesDuration(p.written, p.rate)).Sub(now)
	if p.written == 0 || queued < 0 {
		// First write or an underrun: restart the playback clock
		p.start = now
		p.written = 0
		queued = 0
	}

	if ahead := queued + framesDuration(int64(frames), p.rate) - p.lead; ahead > 0 {
		p.sleep(ahead)
	}
	p.written += int64(frames)
}

type alsaSink struct {
	dev   *ALSADevice
	cmd   *exec.Cmd
	stdin io.WriteCloser
	pace  *pacer

	drainTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *alsaSink) WriteFrame(frame Frame) error {
	s.pace.wait(frame.Frames())
	if _, err := s.stdin.Write(EncodePCM16(frame.Samples)); err != nil {
		s.dev.playbackErrors.Add(1)
		return fmt.Errorf("write playback: %w", err)
	}
	s.dev.framesPlayed.Add(1)
	return nil
}

// Close closes stdin and lets aplay play out what it has queued. aplay is
// killed if it has not finished within the drain timeout.
func (s *alsaSink) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case err := <-done:
			if err != nil {
				s.closeErr = fmt.Errorf("playback wait: %w", err)
			}
		case <-time.After(s.drainTimeout):
			s.dev.logger.Warn("playback did not drain, killing",
				"cmd", s.dev.cfg.PlaybackCmd,
				"timeout", s.drainTimeout,
			)
			s.closeErr = kill(s.cmd)
			<-done
		}
	})
	return s.closeErr
}

// Abort kills aplay, dropping whatever is still queued
func (s *alsaSink) Abort() error {
	s.closeOnce.Do(func() {
		killErr := kill(s.cmd)
		s.stdin.Close()
		s.closeErr = errors.Join(killErr, reap(s.cmd))
	})
	return s.closeErr
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", cmd.Path, err)
	}
	return nil
}

// reap waits for a killed child. Death by our own signal is expected and
// not reported.
func reap(cmd *exec.Cmd) error {
	err := cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wait %s: %w", cmd.Path, err)
	}
	return nil
}

type alsaSource struct {
	dev    *ALSADevice
	cmd    *exec.Cmd
	stdout io.ReadCloser
	format Format

	closeOnce sync.Once
	closeErr  error
}

func (s *alsaSource) Format() Format {
	return s.format
}

func (s *alsaSource) ReadFrame(maxFrames int) (Frame, error) {
	buf := make([]byte, maxFrames*s.format.BytesPerFrame())

	n, err := io.ReadFull(s.stdout, buf)
	n -= n % s.format.BytesPerFrame()
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, io.EOF
		}
		s.dev.captureErrors.Add(1)
		return Frame{}, fmt.Errorf("read capture: %w", err)
	}

	s.dev.framesCaptured.Add(1)
	return Frame{Samples: DecodePCM16(buf[:n]), Format: s.format}, nil
}

// Close stops arecord. A capture process that failed on its own reports its
// exit status here.
func (s *alsaSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(kill(s.cmd), reap(s.cmd))
		if s.closeErr != nil {
			s.dev.captureErrors.Add(1)
			s.closeErr = fmt.Errorf("capture close: %w", s.closeErr)
		}
	})
	return s.closeErr
}
