package audio

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeTool writes an executable shell script standing in for aplay/arecord
func fakeTool(t *testing.T, body string) string {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	path := filepath.Join(t.TempDir(), "tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestDefaultALSAConfig(t *testing.T) {
	cfg := DefaultALSAConfig()

	if cfg.PlaybackCmd == "" {
		t.Error("PlaybackCmd should not be empty")
	}
	if cfg.CaptureCmd == "" {
		t.Error("CaptureCmd should not be empty")
	}
}

func TestALSADevice_IsAvailable(t *testing.T) {
	cfg := DefaultALSAConfig()
	cfg.PlaybackCmd = "nonexistent_command_12345"

	dev := NewALSADevice(cfg, nil)
	if dev.IsAvailable() {
		t.Error("IsAvailable should return false for non-existent commands")
	}
}

func TestALSADevice_OpenPlaybackMissingCommand(t *testing.T) {
	cfg := DefaultALSAConfig()
	cfg.PlaybackCmd = "nonexistent_command_12345"

	dev := NewALSADevice(cfg, nil)

	if _, err := dev.OpenPlayback(Format{SampleRate: 16000, Channels: 1}, 512); err == nil {
		t.Fatal("expected error for missing playback command")
	}

	if dev.Stats().PlaybackErrors != 1 {
		t.Errorf("PlaybackErrors = %d, want 1", dev.Stats().PlaybackErrors)
	}
}

func TestALSADevice_OpenCaptureMissingCommand(t *testing.T) {
	cfg := DefaultALSAConfig()
	cfg.CaptureCmd = "nonexistent_command_12345"

	dev := NewALSADevice(cfg, nil)

	if _, err := dev.OpenCapture(Format{SampleRate: 48000, Channels: 1}, 512); err == nil {
		t.Fatal("expected error for missing capture command")
	}

	if dev.Stats().CaptureErrors != 1 {
		t.Errorf("CaptureErrors = %d, want 1", dev.Stats().CaptureErrors)
	}
}

func TestPCMArgs(t *testing.T) {
	args := pcmArgs(Format{SampleRate: 44100, Channels: 2}, 1024)

	want := map[string]bool{"44100": false, "2": false, "--period-size=1024": false}
	for _, a := range args {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("expected argument %q in %v", k, args)
		}
	}
}

func TestPlaybackArgsBufferTime(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	cfg := DefaultALSAConfig()
	cfg.PlaybackCmd = fakeTool(t, `echo "$@" > `+argsFile+`; cat > /dev/null`)

	sink, err := NewALSADevice(cfg, nil).OpenPlayback(Format{SampleRate: 44100, Channels: 2}, 1024)
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("failed to read args: %v", err)
	}
	if !strings.Contains(string(args), "--buffer-time=100000") {
		t.Errorf("expected --buffer-time in %q", args)
	}
}

func TestPacer(t *testing.T) {
	now := time.Unix(0, 0)
	var slept []time.Duration

	p := newPacer(1000, 50*time.Millisecond)
	p.now = func() time.Time { return now }
	p.sleep = func(d time.Duration) {
		slept = append(slept, d)
		now = now.Add(d)
	}

	// 20ms per write at 1kHz: the third write would queue 60ms
	p.wait(20)
	p.wait(20)
	if len(slept) != 0 {
		t.Fatalf("first 40ms should not wait, slept %v", slept)
	}
	p.wait(20)
	if len(slept) != 1 || slept[0] != 10*time.Millisecond {
		t.Fatalf("expected a 10ms wait, got %v", slept)
	}

	// After an underrun the clock restarts instead of bursting to catch up
	now = now.Add(time.Second)
	p.wait(20)
	if len(slept) != 1 {
		t.Errorf("write after underrun should not wait, slept %v", slept)
	}
}

func TestPlaybackLead(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		frames int
		want   time.Duration
	}{
		{"small periods use the floor", Format{SampleRate: 44100, Channels: 2}, 256, alsaMinLead},
		{"two periods", Format{SampleRate: 1000, Channels: 1}, 100, 200 * time.Millisecond},
		{"no rate", Format{}, 1024, alsaMinLead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := playbackLead(tt.format, tt.frames); got != tt.want {
				t.Errorf("playbackLead() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestALSASink_AbortKills(t *testing.T) {
	cfg := DefaultALSAConfig()
	// Stands in for aplay with a long queue: it never exits on its own
	cfg.PlaybackCmd = fakeTool(t, "cat > /dev/null; sleep 30")

	sink, err := NewALSADevice(cfg, nil).OpenPlayback(Format{SampleRate: 8000, Channels: 1}, 256)
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	if err := sink.WriteFrame(Frame{Samples: make([]int16, 256), Format: Format{SampleRate: 8000, Channels: 1}}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	start := time.Now()
	if err := AbortSink(sink); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("abort took %v", elapsed)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close after Abort should be a no-op, got %v", err)
	}
}

func TestALSASink_CloseKillsAfterDrainTimeout(t *testing.T) {
	cfg := DefaultALSAConfig()
	cfg.PlaybackCmd = fakeTool(t, "cat > /dev/null; sleep 30")

	sink, err := NewALSADevice(cfg, nil).OpenPlayback(Format{SampleRate: 8000, Channels: 1}, 256)
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	sink.(*alsaSink).drainTimeout = 50 * time.Millisecond

	start := time.Now()
	sink.Close()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("close took %v", elapsed)
	}
}

func TestALSASource_CloseReportsExitStatus(t *testing.T) {
	cfg := DefaultALSAConfig()
	cfg.CaptureCmd = fakeTool(t, "exit 3")

	dev := NewALSADevice(cfg, nil)
	src, err := dev.OpenCapture(Format{SampleRate: 8000, Channels: 1}, 256)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}

	if _, err := src.ReadFrame(256); err != io.EOF {
		t.Fatalf("ReadFrame() error = %v, want io.EOF", err)
	}

	if err := src.Close(); err == nil {
		t.Error("expected the exit status from Close")
	}
	if dev.Stats().CaptureErrors != 1 {
		t.Errorf("CaptureErrors = %d, want 1", dev.Stats().CaptureErrors)
	}
}

func TestALSASource_CloseKilledIsClean(t *testing.T) {
	cfg := DefaultALSAConfig()
	cfg.CaptureCmd = fakeTool(t, "sleep 30")

	src, err := NewALSADevice(cfg, nil).OpenCapture(Format{SampleRate: 8000, Channels: 1}, 256)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

var (
	_ Device  = (*ALSADevice)(nil)
	_ Device  = (*MalgoDevice)(nil)
	_ Device  = (*MockDevice)(nil)
	_ Source  = (*WAVSource)(nil)
	_ Source  = (*MockSource)(nil)
	_ Sink    = (*MockSink)(nil)
	_ Aborter = (*alsaSink)(nil)
)
