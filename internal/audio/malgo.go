package audio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// drainTimeout bounds how long Close waits for queued playback to finish
const drainTimeout = 2 * time.Second

// MalgoDevice opens miniaudio playback and capture streams on the default device
type MalgoDevice struct {
	logger *slog.Logger
	ctx    *malgo.AllocatedContext

	mu     sync.Mutex
	closed bool
}

// NewMalgoDevice initializes a miniaudio context with realtime callback priority
func NewMalgoDevice(logger *slog.Logger) (*MalgoDevice, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	logger.Info("malgo audio device initialized")

	return &MalgoDevice{logger: logger, ctx: ctx}, nil
}

// Name returns the backend name
func (d *MalgoDevice) Name() string {
	return "malgo"
}

// OpenPlayback starts an output stream fed by WriteFrame
func (d *MalgoDevice) OpenPlayback(format Format, bufferFrames int) (Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	s := &malgoSink{
		format: format,
		// Allow two periods of queued audio before WriteFrame blocks
		limit: 2 * bufferFrames * format.BytesPerFrame(),
	}
	s.cond = sync.NewCond(&s.mu)

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(format.Channels)
	devCfg.SampleRate = uint32(format.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(bufferFrames)

	device, err := malgo.InitDevice(d.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	s.device = device
	return s, nil
}

// OpenCapture starts an input stream read through ReadFrame
func (d *MalgoDevice) OpenCapture(format Format, bufferFrames int) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	s := &malgoSource{
		format: format,
		// Keep at most one second of unread capture
		limit: format.SampleRate * format.BytesPerFrame(),
	}
	s.cond = sync.NewCond(&s.mu)

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(format.Channels)
	devCfg.SampleRate = uint32(format.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(bufferFrames)

	device, err := malgo.InitDevice(d.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	s.device = device
	return s, nil
}

// Close releases the miniaudio context
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	err := d.ctx.Uninit()
	d.ctx.Free()

	d.logger.Info("malgo audio device closed")
	return err
}

type malgoSink struct {
	device *malgo.Device
	format Format
	limit  int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool

	closeOnce sync.Once
}

// onData runs on the audio thread; it never blocks on the writer
func (s *malgoSink) onData(out, _ []byte, _ uint32) {
	s.mu.Lock()
	n := copy(out, s.buf)
	s.buf = s.buf[:copy(s.buf, s.buf[n:])]
	s.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}

	s.cond.Broadcast()
}

func (s *malgoSink) WriteFrame(frame Frame) error {
	data := EncodePCM16(frame.Samples)

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed && len(s.buf) > 0 && len(s.buf)+len(data) > s.limit {
		s.cond.Wait()
	}
	if s.closed {
		return ErrClosed
	}

	s.buf = append(s.buf, data...)
	return nil
}

func (s *malgoSink) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *malgoSink) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(drainTimeout)
		for s.pending() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		s.mu.Lock()
		s.closed = true
		s.buf = nil
		s.mu.Unlock()
		s.cond.Broadcast()

		s.device.Uninit()
	})
	return nil
}

type malgoSource struct {
	device *malgo.Device
	format Format
	limit  int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool

	closeOnce sync.Once
}

func (s *malgoSource) onData(_, in []byte, _ uint32) {
	s.mu.Lock()
	if !s.closed {
		s.buf = append(s.buf, in...)
		if over := len(s.buf) - s.limit; over > 0 {
			// Reader fell behind; drop the oldest audio
			over += (s.format.BytesPerFrame() - over%s.format.BytesPerFrame()) % s.format.BytesPerFrame()
			s.buf = s.buf[:copy(s.buf, s.buf[over:])]
		}
	}
	s.mu.Unlock()

	s.cond.Broadcast()
}

func (s *malgoSource) Format() Format {
	return s.format
}

func (s *malgoSource) ReadFrame(maxFrames int) (Frame, error) {
	want := maxFrames * s.format.BytesPerFrame()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed && len(s.buf) < want {
		s.cond.Wait()
	}
	if s.closed {
		return Frame{}, io.EOF
	}

	samples := DecodePCM16(s.buf[:want])
	s.buf = s.buf[:copy(s.buf, s.buf[want:])]

	return Frame{Samples: samples, Format: s.format}, nil
}

func (s *malgoSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cond.Broadcast()

		s.device.Uninit()
	})
	return nil
}
