package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-jaw/internal/audio"
)

type fakeTrigger struct {
	mu    sync.Mutex
	armed bool
	fires int
}

func (f *fakeTrigger) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *fakeTrigger) Fire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fires++
}

func (f *fakeTrigger) arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = true
}

func newAmbient(src *audio.MockSource, device *audio.MockDevice) *AmbientSession {
	open := func() (audio.Source, error) { return src, nil }
	return NewAmbientSession(AmbientConfig{}, open, device, testLogger())
}

func TestAmbientSession_Exhausted(t *testing.T) {
	src := audio.NewToneSource(stereo, 4, 256, 500)
	device := &audio.MockDevice{}
	trig := &fakeTrigger{}

	outcome, err := newAmbient(src, device).Run(context.Background(), trig)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != Exhausted {
		t.Errorf("outcome = %v, want exhausted", outcome)
	}
	if trig.fires != 0 {
		t.Error("exhaustion must not signal an interrupt")
	}
	if got := len(device.Sinks[0].Frames()); got != 4 {
		t.Errorf("wrote %d frames, want 4", got)
	}
	if src.Closes() != 1 || device.Sinks[0].Closes() != 1 {
		t.Error("streams should be closed once")
	}
}

func TestAmbientSession_Interrupted(t *testing.T) {
	src := audio.NewToneSource(stereo, 100, 256, 500)
	trig := &fakeTrigger{}
	device := &audio.MockDevice{OpenHook: func(s *audio.MockSink) {
		n := 0
		s.OnWrite(func(audio.Frame) {
			n++
			if n == 2 {
				trig.arm()
			}
		})
	}}

	outcome, err := newAmbient(src, device).Run(context.Background(), trig)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != Interrupted {
		t.Errorf("outcome = %v, want interrupted", outcome)
	}
	if trig.fires != 1 {
		t.Errorf("fires = %d, want 1", trig.fires)
	}
	if got := len(device.Sinks[0].Frames()); got != 2 {
		t.Errorf("wrote %d frames, want 2", got)
	}
	if device.Sinks[0].Closes() != 1 {
		t.Error("sink should be closed")
	}
}

func TestAmbientSession_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := audio.NewToneSource(stereo, 10, 256, 500)
	outcome, err := newAmbient(src, &audio.MockDevice{}).Run(ctx, &fakeTrigger{})
	if !errors.Is(err, context.Canceled) || outcome != Canceled {
		t.Errorf("got %v, %v", outcome, err)
	}
	if src.Closes() != 1 {
		t.Error("source should be closed")
	}
}

func TestAmbientSession_SetupError(t *testing.T) {
	open := func() (audio.Source, error) { return nil, errors.New("empty dir") }
	sess := NewAmbientSession(AmbientConfig{}, open, &audio.MockDevice{}, testLogger())

	_, err := sess.Run(context.Background(), nil)
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Errorf("expected SetupError, got %v", err)
	}
}

func TestAmbientSession_ReadFrames(t *testing.T) {
	tests := []struct {
		name   string
		buffer int
		poll   time.Duration
		rate   int
		want   int
	}{
		{"buffer smaller than poll", 1024, 100 * time.Millisecond, 44100, 1024},
		{"poll caps large buffer", 8192, 100 * time.Millisecond, 44100, 4410},
		{"unknown rate", 2048, 100 * time.Millisecond, 0, 2048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAmbientSession(AmbientConfig{BufferFrames: tt.buffer, PollInterval: tt.poll}, nil, nil, nil)
			got := a.readFrames(audio.Format{SampleRate: tt.rate, Channels: 2})
			if got != tt.want {
				t.Errorf("readFrames = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAmbientSession_CloseBeforeRun(t *testing.T) {
	src := audio.NewToneSource(stereo, 4, 256, 500)
	device := &audio.MockDevice{}
	sess := newAmbient(src, device)

	sess.Close()
	outcome, err := sess.Run(context.Background(), &fakeTrigger{})

	if !errors.Is(err, ErrSessionClosed) || outcome != Canceled {
		t.Fatalf("Run = %v, %v; want canceled, ErrSessionClosed", outcome, err)
	}
	if src.Closes() != 1 {
		t.Errorf("source closes = %d, want 1", src.Closes())
	}
	if len(device.Sinks) != 0 {
		t.Error("no playback should be opened after close")
	}
}

func TestAmbientSession_CloseDuringRun(t *testing.T) {
	src := audio.NewToneSource(stereo, 50, 256, 500)
	device := &audio.MockDevice{}
	sess := newAmbient(src, device)

	device.OpenHook = func(s *audio.MockSink) {
		n := 0
		s.OnWrite(func(audio.Frame) {
			n++
			if n == 2 {
				sess.Close()
			}
		})
	}

	outcome, err := sess.Run(context.Background(), &fakeTrigger{})
	if !errors.Is(err, ErrSessionClosed) || outcome != Canceled {
		t.Fatalf("Run = %v, %v; want canceled, ErrSessionClosed", outcome, err)
	}
	if got := len(device.Sinks[0].Frames()); got != 2 {
		t.Errorf("wrote %d frames, want 2", got)
	}
	if src.Closes() != 1 || device.Sinks[0].Closes() != 1 {
		t.Error("close path must run exactly once")
	}
}
