package audio

import (
	"fmt"
	"io"
	"sync"
)

// MockSource replays a fixed list of frames, for tests and dry runs
type MockSource struct {
	mu      sync.Mutex
	format  Format
	frames  []Frame
	next    int
	failAt  int
	failErr error
	closes  int
}

// NewMockSource creates a source that yields frames then io.EOF
func NewMockSource(format Format, frames ...Frame) *MockSource {
	return &MockSource{format: format, frames: frames, failAt: -1}
}

// NewToneSource creates a mock source of n constant-amplitude frames
func NewToneSource(format Format, n, framesPerBuffer int, amplitude int16) *MockSource {
	frames := make([]Frame, n)
	for i := range frames {
		samples := make([]int16, framesPerBuffer*format.Channels)
		for j := range samples {
			if j%2 == 0 {
				samples[j] = amplitude
			} else {
				samples[j] = -amplitude
			}
		}
		frames[i] = Frame{Samples: samples, Format: format}
	}
	return NewMockSource(format, frames...)
}

// FailAt makes the read of frame index i return err
func (m *MockSource) FailAt(i int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = i
	m.failErr = err
}

// ReadFrame returns the next queued frame
func (m *MockSource) ReadFrame(maxFrames int) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closes > 0 {
		return Frame{}, ErrClosed
	}
	if m.next == m.failAt {
		m.next++
		return Frame{}, m.failErr
	}
	if m.next >= len(m.frames) {
		return Frame{}, io.EOF
	}

	f := m.frames[m.next]
	m.next++
	return f, nil
}

// Format returns the configured format
func (m *MockSource) Format() Format {
	return m.format
}

// Close records the close
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Reads returns how many frames have been consumed
func (m *MockSource) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Closes returns how many times Close was called
func (m *MockSource) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MockSink records written frames
type MockSink struct {
	mu      sync.Mutex
	frames  []Frame
	closes  int
	failErr error
	onWrite func(Frame)
}

// NewMockSink creates an empty sink
func NewMockSink() *MockSink {
	return &MockSink{}
}

// SetError makes every subsequent write fail
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// OnWrite registers a hook run after every successful write
func (m *MockSink) OnWrite(fn func(Frame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

// WriteFrame stores the frame
func (m *MockSink) WriteFrame(frame Frame) error {
	m.mu.Lock()
	if m.closes > 0 {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	m.frames = append(m.frames, frame)
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return nil
}

// Close records the close
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Frames returns a copy of the written frames
func (m *MockSink) Frames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

// Closes returns how many times Close was called
func (m *MockSink) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MockDevice hands out pre-built sources and sinks
type MockDevice struct {
	mu       sync.Mutex
	Sinks    []*MockSink
	Captures []*MockSource
	OpenErr  error

	// OpenHook runs on every new playback sink
	OpenHook func(*MockSink)
}

// Name returns "mock"
func (d *MockDevice) Name() string {
	return "mock"
}

// OpenPlayback returns a fresh MockSink
func (d *MockDevice) OpenPlayback(format Format, bufferFrames int) (Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := NewMockSink()
	d.Sinks = append(d.Sinks, s)
	if d.OpenHook != nil {
		d.OpenHook(s)
	}
	return s, nil
}

// OpenCapture returns the next queued capture source
func (d *MockDevice) OpenCapture(format Format, bufferFrames int) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if len(d.Captures) == 0 {
		return nil, fmt.Errorf("no capture source queued")
	}
	s := d.Captures[0]
	d.Captures = d.Captures[1:]
	return s, nil
}

// Close is a no-op
func (d *MockDevice) Close() error {
	return nil
}
