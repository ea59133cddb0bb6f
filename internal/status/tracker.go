// Package status tracks what the prop is doing for the HTTP and websocket
// status surface
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/playback"
	"github.com/teslashibe/go-jaw/internal/trigger"
)

// TrackerConfig configures the status tracker
type TrackerConfig struct {
	PublishInterval time.Duration
	HistorySize     int
}

// DefaultTrackerConfig returns sensible defaults
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PublishInterval: 100 * time.Millisecond, // 10Hz
		HistorySize:     100,
	}
}

// Snapshot is the latest known state of the prop
type Snapshot struct {
	Phase      trigger.Phase `json:"phase"`
	PhaseSince time.Time     `json:"phase_since"`
	Trigger    string        `json:"trigger"`

	VocalCycles   int64 `json:"vocal_cycles"`
	AmbientCycles int64 `json:"ambient_cycles"`

	Loudness  int       `json:"loudness"`
	Target    float64   `json:"target"`
	Applied   bool      `json:"applied"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventKind identifies an Event
type EventKind string

const (
	EventPhase EventKind = "phase"
	EventJaw   EventKind = "jaw"
)

// Event is pushed to subscribers
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot Snapshot  `json:"snapshot"`
}

// PhaseChange is one entry of the phase history
type PhaseChange struct {
	Phase trigger.Phase `json:"phase"`
	At    time.Time     `json:"at"`
}

// Tracker collects phase changes and jaw frames. Phase changes are
// published immediately; jaw frames are coalesced and published by Run.
type Tracker struct {
	cfg    TrackerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	latest   Snapshot
	history  []PhaseChange
	jawDirty bool

	// Metrics
	frames    int64
	updates   int64
	published int64

	// Lifecycle
	cancel context.CancelFunc
	done   chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Event]struct{}
}

// NewTracker creates a tracker for a controller running the named trigger
func NewTracker(triggerName string, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = DefaultTrackerConfig().PublishInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultTrackerConfig().HistorySize
	}

	return &Tracker{
		cfg:     cfg,
		logger:  logger,
		latest:  Snapshot{Trigger: triggerName, Phase: trigger.PhaseWaiting, PhaseSince: time.Now()},
		history: make([]PhaseChange, 0, cfg.HistorySize),
		done:    make(chan struct{}),
		subs:    make(map[chan Event]struct{}),
	}
}

// PhaseChanged records a controller phase transition
func (t *Tracker) PhaseChanged(p trigger.Phase) {
	now := time.Now()

	t.mu.Lock()
	t.latest.Phase = p
	t.latest.PhaseSince = now
	switch p {
	case trigger.PhaseVocal:
		t.latest.VocalCycles++
	case trigger.PhaseAmbient:
		t.latest.AmbientCycles++
	}
	t.appendHistory(PhaseChange{Phase: p, At: now})
	snap := t.latest
	t.mu.Unlock()

	t.logger.Debug("phase changed", "phase", p)
	t.notifySubscribers(Event{Kind: EventPhase, Snapshot: snap})
}

// VocalFrame records a processed frame. Called from the audio goroutine,
// so it only updates state.
func (t *Tracker) VocalFrame(loudness audio.Loudness, target float64, applied bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frames++
	if applied {
		t.updates++
	}
	t.latest.Loudness = loudness.Value
	t.latest.Target = target
	t.latest.Applied = applied
	t.latest.UpdatedAt = loudness.At
	t.jawDirty = true
}

func (t *Tracker) appendHistory(c PhaseChange) {
	t.history = append(t.history, c)

	// Trim history
	if len(t.history) > t.cfg.HistorySize {
		// Shift instead of slice to avoid memory leak
		copy(t.history, t.history[1:])
		t.history = t.history[:t.cfg.HistorySize]
	}
}

// Run publishes coalesced jaw events (blocking, use goroutine)
func (t *Tracker) Run(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(ctx)
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.PublishInterval)
	defer ticker.Stop()

	t.logger.Info("status tracker started",
		"publish_interval", t.cfg.PublishInterval,
	)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("status tracker stopped",
				"frames", t.Stats().Frames,
			)
			return ctx.Err()
		case <-ticker.C:
			t.publishJaw()
		}
	}
}

func (t *Tracker) publishJaw() {
	t.mu.Lock()
	if !t.jawDirty {
		t.mu.Unlock()
		return
	}
	t.jawDirty = false
	t.published++
	snap := t.latest
	t.mu.Unlock()

	t.notifySubscribers(Event{Kind: EventJaw, Snapshot: snap})
}

func (t *Tracker) notifySubscribers(ev Event) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()

	for ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives status events
func (t *Tracker) Subscribe() chan Event {
	ch := make(chan Event, 16) // Buffer to avoid blocking

	t.subsMu.Lock()
	t.subs[ch] = struct{}{}
	t.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (t *Tracker) Unsubscribe(ch chan Event) {
	t.subsMu.Lock()
	if _, exists := t.subs[ch]; exists {
		delete(t.subs, ch)
		close(ch)
	}
	t.subsMu.Unlock()
}

// Latest returns the most recent snapshot
func (t *Tracker) Latest() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// History returns the recent phase changes, oldest first
func (t *Tracker) History() []PhaseChange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PhaseChange, len(t.history))
	copy(out, t.history)
	return out
}

// Stats returns tracker statistics
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.subsMu.RLock()
	subs := len(t.subs)
	t.subsMu.RUnlock()

	return TrackerStats{
		Frames:          t.frames,
		Updates:         t.updates,
		Published:       t.published,
		HistorySize:     len(t.history),
		SubscriberCount: subs,
		Phase:           t.latest.Phase,
		VocalCycles:     t.latest.VocalCycles,
		AmbientCycles:   t.latest.AmbientCycles,
	}
}

// TrackerStats contains tracker statistics
type TrackerStats struct {
	Frames          int64         `json:"frames"`
	Updates         int64         `json:"updates"`
	Published       int64         `json:"published"`
	HistorySize     int           `json:"history_size"`
	SubscriberCount int           `json:"subscriber_count"`
	Phase           trigger.Phase `json:"phase"`
	VocalCycles     int64         `json:"vocal_cycles"`
	AmbientCycles   int64         `json:"ambient_cycles"`
}

// Stop stops the tracker gracefully
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}

	// Close all subscriber channels
	t.subsMu.Lock()
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
	t.subsMu.Unlock()
}

// Ensure Tracker satisfies the observer interfaces
var (
	_ trigger.PhaseObserver = (*Tracker)(nil)
	_ playback.Observer     = (*Tracker)(nil)
)
