package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/clock"
	"github.com/teslashibe/go-jaw/internal/jaw"
	"github.com/teslashibe/go-jaw/internal/servo"
)

var stereo = audio.Format{SampleRate: 44100, Channels: 2}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type vocalFixture struct {
	src    *audio.MockSource
	device *audio.MockDevice
	act    *servo.Mock
	clock  *clock.Fake
	sess   *VocalSession
}

func newVocalFixture(t *testing.T, src *audio.MockSource, cfg VocalConfig) *vocalFixture {
	t.Helper()

	f := &vocalFixture{
		src:    src,
		device: &audio.MockDevice{},
		act:    servo.NewMock(),
		clock:  clock.NewFake(time.Unix(0, 0)),
	}

	if cfg.Range == (jaw.Range{}) {
		cfg.Range = jaw.Range{MinAngle: 0, MaxAngle: 90}
	}
	if cfg.Mapping.Thresholds == nil {
		cfg.Mapping = jaw.Mapping{Style: jaw.SingleThreshold, Thresholds: []int{1000}}
	}

	driver := jaw.NewDriver(f.act, cfg.Range, jaw.DefaultUpdateInterval, testLogger())
	open := func() (audio.Source, error) { return f.src, nil }
	f.sess = NewVocalSession(cfg, open, f.device, driver, audio.Extractor{}, f.clock, testLogger())
	return f
}

// pace advances the fake clock on every output write
func (f *vocalFixture) pace(t *testing.T, d time.Duration, also func(n int)) {
	t.Helper()

	// The sink only exists after Run opens it, so hook the device instead
	f.device.OpenHook = func(s *audio.MockSink) {
		n := 0
		s.OnWrite(func(audio.Frame) {
			n++
			f.clock.Advance(d)
			if also != nil {
				also(n)
			}
		})
	}
}

func TestVocalSession_PlaysToCompletion(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 5, 256, 3000), VocalConfig{MirrorLeft: true})
	f.pace(t, 25*time.Millisecond, nil)

	res, err := f.sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.State != Closed || f.sess.State() != Closed {
		t.Errorf("State = %v, want closed", res.State)
	}
	if res.Frames != 5 || res.Updates != 5 {
		t.Errorf("Frames=%d Updates=%d, want 5/5", res.Frames, res.Updates)
	}

	for i, p := range f.act.Positions() {
		if p != 1 {
			t.Errorf("position[%d] = %v, want 1 (fully open)", i, p)
		}
	}

	if f.act.Releases() != 1 {
		t.Errorf("Releases = %d, want 1", f.act.Releases())
	}
	if f.src.Closes() != 1 {
		t.Errorf("source Closes = %d, want 1", f.src.Closes())
	}

	sink := f.device.Sinks[0]
	if sink.Closes() != 1 {
		t.Errorf("sink Closes = %d, want 1", sink.Closes())
	}
	for _, fr := range sink.Frames() {
		if fr.Samples[0] != fr.Samples[1] {
			t.Fatalf("right channel not mirrored: %v", fr.Samples[:2])
		}
	}
}

func TestVocalSession_RateLimited(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 10, 256, 3000), VocalConfig{})
	f.pace(t, 10*time.Millisecond, nil)

	res, err := f.sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Updates at 0, 20, 40, 60, 80 ms
	if res.Frames != 10 || res.Updates != 5 {
		t.Errorf("Frames=%d Updates=%d, want 10/5", res.Frames, res.Updates)
	}
}

func TestVocalSession_NoMirror(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 1, 4, 3000), VocalConfig{})

	if _, err := f.sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	fr := f.device.Sinks[0].Frames()[0]
	if fr.Samples[0] == fr.Samples[1] {
		t.Error("stereo output should be passed through unchanged")
	}
}

func TestVocalSession_StreamErrorDrains(t *testing.T) {
	src := audio.NewToneSource(stereo, 5, 256, 3000)
	src.FailAt(2, errors.New("xrun"))
	f := newVocalFixture(t, src, VocalConfig{})

	res, err := f.sess.Run(context.Background())
	if err != nil {
		t.Fatalf("stream errors should not be returned, got %v", err)
	}

	var ioErr *StreamIOError
	if !errors.As(res.StreamErr, &ioErr) || ioErr.Op != "read" {
		t.Errorf("StreamErr = %v, want read StreamIOError", res.StreamErr)
	}
	if res.Frames != 2 || res.State != Closed {
		t.Errorf("Frames=%d State=%v", res.Frames, res.State)
	}
	if f.act.Releases() != 1 {
		t.Errorf("Releases = %d, want 1", f.act.Releases())
	}
}

func TestVocalSession_WriteErrorDrains(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 5, 256, 3000), VocalConfig{})
	f.device.OpenHook = func(s *audio.MockSink) { s.SetError(errors.New("unplugged")) }

	res, err := f.sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ioErr *StreamIOError
	if !errors.As(res.StreamErr, &ioErr) || ioErr.Op != "write" {
		t.Errorf("StreamErr = %v, want write StreamIOError", res.StreamErr)
	}
	if res.Frames != 0 {
		t.Errorf("Frames = %d", res.Frames)
	}
}

func TestVocalSession_SetupErrors(t *testing.T) {
	t.Run("source", func(t *testing.T) {
		f := newVocalFixture(t, nil, VocalConfig{})
		driver := jaw.NewDriver(f.act, jaw.Range{MaxAngle: 90}, 0, testLogger())
		open := func() (audio.Source, error) { return nil, errors.New("no such file") }
		sess := NewVocalSession(VocalConfig{}, open, f.device, driver, audio.Extractor{}, f.clock, testLogger())

		_, err := sess.Run(context.Background())
		var setupErr *SetupError
		if !errors.As(err, &setupErr) {
			t.Fatalf("expected SetupError, got %v", err)
		}
		if f.act.Releases() != 1 {
			t.Errorf("Releases = %d, want 1", f.act.Releases())
		}
	})

	t.Run("playback", func(t *testing.T) {
		f := newVocalFixture(t, audio.NewToneSource(stereo, 1, 4, 0), VocalConfig{})
		f.device.OpenErr = errors.New("device busy")

		_, err := f.sess.Run(context.Background())
		var setupErr *SetupError
		if !errors.As(err, &setupErr) || setupErr.Op != "open playback" {
			t.Fatalf("expected playback SetupError, got %v", err)
		}
		if f.src.Closes() != 1 {
			t.Errorf("source should be closed once, got %d", f.src.Closes())
		}
		if f.act.Releases() != 1 {
			t.Errorf("Releases = %d, want 1", f.act.Releases())
		}
	})
}

func TestVocalSession_CancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newVocalFixture(t, audio.NewToneSource(stereo, 50, 256, 3000), VocalConfig{})
	f.pace(t, 25*time.Millisecond, func(n int) {
		if n == 3 {
			cancel()
		}
	})

	res, err := f.sess.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.State != Aborted || f.sess.State() != Aborted {
		t.Errorf("State = %v, want aborted", res.State)
	}
	if res.Frames != 3 {
		t.Errorf("Frames = %d, want 3", res.Frames)
	}
	if f.act.Releases() != 1 || f.device.Sinks[0].Closes() != 1 {
		t.Error("abort must run the close path exactly once")
	}
}

func TestVocalSession_CloseIdempotent(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 2, 256, 3000), VocalConfig{})

	if _, err := f.sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.sess.Close()
	f.sess.Close()

	if f.act.Releases() != 1 {
		t.Errorf("Releases = %d, want 1", f.act.Releases())
	}
	if f.src.Closes() != 1 || f.device.Sinks[0].Closes() != 1 {
		t.Error("streams closed more than once")
	}
}

func TestVocalSession_CloseBeforeRun(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 5, 256, 3000), VocalConfig{})

	f.sess.Close()
	res, err := f.sess.Run(context.Background())

	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if res.State != Aborted || res.Frames != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if f.src.Closes() != 1 {
		t.Errorf("source closes = %d, want 1", f.src.Closes())
	}
	if len(f.device.Sinks) != 0 {
		t.Error("no playback should be opened after close")
	}
	if len(f.act.Positions()) != 0 || f.act.Releases() != 1 {
		t.Errorf("positions=%d releases=%d, want 0/1", len(f.act.Positions()), f.act.Releases())
	}
}

func TestVocalSession_CloseDuringRun(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 50, 256, 3000), VocalConfig{})

	moved := -1
	f.pace(t, 25*time.Millisecond, func(n int) {
		if n == 2 {
			f.sess.Close()
			moved = len(f.act.Positions())
		}
	})

	res, err := f.sess.Run(context.Background())
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if res.State != Aborted || res.Frames != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := len(f.act.Positions()); got != moved {
		t.Errorf("jaw moved after close: %d positions, %d at close", got, moved)
	}
	if f.act.Releases() != 1 || f.src.Closes() != 1 || f.device.Sinks[0].Closes() != 1 {
		t.Error("close path must run exactly once")
	}
}

func TestVocalSession_MaxDuration(t *testing.T) {
	mic := audio.Format{SampleRate: 48000, Channels: 1}
	f := newVocalFixture(t, audio.NewToneSource(mic, 100, 480, 3000), VocalConfig{
		MaxDuration: 250 * time.Millisecond,
	})
	f.pace(t, 100*time.Millisecond, nil)

	res, err := f.sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Frames start at 0, 100 and 200 ms; the check at 300 ms drains
	if res.Frames != 3 {
		t.Errorf("Frames = %d, want 3", res.Frames)
	}
	if res.State != Closed {
		t.Errorf("State = %v", res.State)
	}
}

type recordingObserver struct {
	loudness []int
	applied  int
}

func (r *recordingObserver) VocalFrame(l audio.Loudness, target float64, applied bool) {
	r.loudness = append(r.loudness, l.Value)
	if applied {
		r.applied++
	}
}

func TestVocalSession_Observer(t *testing.T) {
	f := newVocalFixture(t, audio.NewToneSource(stereo, 3, 64, 700), VocalConfig{})
	obs := &recordingObserver{}
	f.sess.WithObserver(obs)

	if _, err := f.sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(obs.loudness) != 3 {
		t.Fatalf("observed %d frames, want 3", len(obs.loudness))
	}
	for _, v := range obs.loudness {
		if v != 700 {
			t.Errorf("loudness = %d, want 700", v)
		}
	}
	// Clock never advances, so only the first update applies
	if obs.applied != 1 {
		t.Errorf("applied = %d, want 1", obs.applied)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Streaming, "streaming"},
		{Draining, "draining"},
		{Closed, "closed"},
		{Aborted, "aborted"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
