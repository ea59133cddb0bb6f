// Package metrics exposes jaw and trigger activity as Prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/jaw"
	"github.com/teslashibe/go-jaw/internal/playback"
	"github.com/teslashibe/go-jaw/internal/trigger"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	actuatorUpdates  prometheus.Counter
	actuatorSkipped  prometheus.Counter
	actuatorFailures prometheus.Counter
	jawTarget        prometheus.Gauge
	loudness         prometheus.Histogram
	vocalFrames      prometheus.Counter
	phaseEntries     *prometheus.CounterVec
	phase            *prometheus.GaugeVec
	configReloads    prometheus.Counter
}

var phases = []trigger.Phase{
	trigger.PhaseWaiting,
	trigger.PhaseAmbient,
	trigger.PhaseVocal,
	trigger.PhaseCooldown,
	trigger.PhaseStopped,
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		actuatorUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "go_jaw_actuator_updates_total",
			Help: "Jaw position commands sent to the actuator",
		}),
		actuatorSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "go_jaw_actuator_skipped_total",
			Help: "Jaw targets dropped by the update rate limit",
		}),
		actuatorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "go_jaw_actuator_failures_total",
			Help: "Actuator commands that returned an error",
		}),
		jawTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "go_jaw_target_angle_degrees",
			Help: "Last jaw target angle",
		}),
		loudness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "go_jaw_frame_loudness",
			Help:    "Mean absolute sample value of vocal frames",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		vocalFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "go_jaw_vocal_frames_total",
			Help: "Audio frames processed by vocal sessions",
		}),
		phaseEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "go_jaw_phase_entries_total",
			Help: "Times the trigger controller entered each phase",
		}, []string{"phase"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "go_jaw_phase",
			Help: "Current trigger controller phase (1 = active)",
		}, []string{"phase"}),
		configReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "go_jaw_config_reloads_total",
			Help: "Successful configuration reloads",
		}),
	}

	m.registry.MustRegister(
		m.actuatorUpdates,
		m.actuatorSkipped,
		m.actuatorFailures,
		m.jawTarget,
		m.loudness,
		m.vocalFrames,
		m.phaseEntries,
		m.phase,
		m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, p := range phases {
		m.phase.WithLabelValues(string(p)).Set(0)
	}

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ActuatorUpdated records an issued jaw command
func (m *Metrics) ActuatorUpdated(target float64) {
	if m == nil {
		return
	}
	m.actuatorUpdates.Inc()
	m.jawTarget.Set(target)
}

// ActuatorSkipped records a rate-limited target
func (m *Metrics) ActuatorSkipped() {
	if m == nil {
		return
	}
	m.actuatorSkipped.Inc()
}

// ActuatorFailed records a failed actuator command
func (m *Metrics) ActuatorFailed() {
	if m == nil {
		return
	}
	m.actuatorFailures.Inc()
}

// VocalFrame records one processed vocal frame
func (m *Metrics) VocalFrame(loudness audio.Loudness, target float64, applied bool) {
	if m == nil {
		return
	}
	m.vocalFrames.Inc()
	m.loudness.Observe(float64(loudness.Value))
}

// PhaseChanged records a controller phase transition
func (m *Metrics) PhaseChanged(p trigger.Phase) {
	if m == nil {
		return
	}
	m.phaseEntries.WithLabelValues(string(p)).Inc()
	for _, other := range phases {
		v := 0.0
		if other == p {
			v = 1
		}
		m.phase.WithLabelValues(string(other)).Set(v)
	}
}

// ConfigReloaded records a successful configuration reload
func (m *Metrics) ConfigReloaded() {
	if m == nil {
		return
	}
	m.configReloads.Inc()
}

// Ensure Metrics satisfies the observer interfaces
var (
	_ jaw.Recorder          = (*Metrics)(nil)
	_ playback.Observer     = (*Metrics)(nil)
	_ trigger.PhaseObserver = (*Metrics)(nil)
)
