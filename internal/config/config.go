// Package config provides configuration management for go-jaw
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-jaw/internal/audio"
	"github.com/teslashibe/go-jaw/internal/jaw"
	"github.com/teslashibe/go-jaw/internal/trigger"
)

// DefaultPath is where the daemon looks for its config file
const DefaultPath = "/etc/go-jaw/config.yaml"

// Config is the root configuration structure
type Config struct {
	Servo      ServoConfig      `mapstructure:"servo" json:"servo"`
	Controller ControllerConfig `mapstructure:"controller" json:"controller"`
	Audio      AudioConfig      `mapstructure:"audio" json:"audio"`
	Prop       PropConfig       `mapstructure:"prop" json:"prop"`
	Pins       PinsConfig       `mapstructure:"pins" json:"pins"`
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" json:"logging"`
}

// ServoConfig configures the jaw actuator
type ServoConfig struct {
	Driver         string        `mapstructure:"driver" json:"driver"` // pwm, maestro, mock
	Pin            string        `mapstructure:"pin" json:"pin"`
	MaestroChannel int           `mapstructure:"maestro_channel" json:"maestro_channel"`
	MinPulseUs     float64       `mapstructure:"min_pulse_us" json:"min_pulse_us"`
	MaxPulseUs     float64       `mapstructure:"max_pulse_us" json:"max_pulse_us"`
	MinAngle       float64       `mapstructure:"min_angle" json:"min_angle"`
	MaxAngle       float64       `mapstructure:"max_angle" json:"max_angle"`
	UpdateInterval time.Duration `mapstructure:"update_interval" json:"update_interval"`
}

// ControllerConfig configures the loudness to jaw mapping
type ControllerConfig struct {
	Style          int     `mapstructure:"style" json:"style"` // 0 threshold, 1 multi-level, 2 filtered multi-level
	Threshold      int     `mapstructure:"threshold" json:"threshold"`
	Levels         []int   `mapstructure:"levels" json:"levels"`
	FilteredLevels []int   `mapstructure:"filtered_levels" json:"filtered_levels"`
	FilterLowHz    float64 `mapstructure:"filter_low_hz" json:"filter_low_hz"`
	FilterHighHz   float64 `mapstructure:"filter_high_hz" json:"filter_high_hz"`
}

// AudioConfig configures the audio backend and track sources
type AudioConfig struct {
	Backend        string        `mapstructure:"backend" json:"backend"` // malgo, alsa, mock
	Source         string        `mapstructure:"source" json:"source"`   // files, microphone
	BufferSize     int           `mapstructure:"buffer_size" json:"buffer_size"`
	MicTime        time.Duration `mapstructure:"mic_time" json:"mic_time"`
	MicSampleRate  int           `mapstructure:"mic_sample_rate" json:"mic_sample_rate"`
	OutputChannels string        `mapstructure:"output_channels" json:"output_channels"` // left, both
	Ambient        bool          `mapstructure:"ambient" json:"ambient"`
	VocalDir       string        `mapstructure:"vocal_dir" json:"vocal_dir"`
	AmbientDir     string        `mapstructure:"ambient_dir" json:"ambient_dir"`
	Order          string        `mapstructure:"order" json:"order"` // random, sequential
	PollInterval   time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
}

// PropConfig configures triggering and the prop's extra outputs
type PropConfig struct {
	Trigger    string        `mapstructure:"trigger" json:"trigger"` // start, timer, pir
	Delay      time.Duration `mapstructure:"delay" json:"delay"`
	JawEnabled bool          `mapstructure:"jaw_enabled" json:"jaw_enabled"`
	Eyes       OutputConfig  `mapstructure:"eyes" json:"eyes"`
	TriggerOut OutputConfig  `mapstructure:"trigger_out" json:"trigger_out"`
}

// OutputConfig configures one digital output
type OutputConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	Pin     string        `mapstructure:"pin" json:"pin"`
	Pulse   time.Duration `mapstructure:"pulse" json:"pulse,omitempty"`
}

// PinsConfig names the input pins
type PinsConfig struct {
	PIR string `mapstructure:"pir" json:"pir"`
}

// ServerConfig configures the HTTP status server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" json:"enabled"`
	Port            int           `mapstructure:"port" json:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" json:"graceful_timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Servo: ServoConfig{
			Driver:         "pwm",
			Pin:            "GPIO18",
			MaestroChannel: 0,
			MinPulseUs:     500,
			MaxPulseUs:     2500,
			MinAngle:       0,
			MaxAngle:       45,
			UpdateInterval: jaw.DefaultUpdateInterval,
		},
		Controller: ControllerConfig{
			Style:          0,
			Threshold:      2500,
			Levels:         []int{500, 1500, 3000},
			FilteredLevels: []int{200, 800, 2000},
			FilterLowHz:    300,
			FilterHighHz:   3000,
		},
		Audio: AudioConfig{
			Backend:        "malgo",
			Source:         "files",
			BufferSize:     1024,
			MicTime:        30 * time.Second,
			MicSampleRate:  48000,
			OutputChannels: "both",
			Ambient:        false,
			VocalDir:       "/var/lib/go-jaw/vocals",
			AmbientDir:     "/var/lib/go-jaw/ambient",
			Order:          "random",
			PollInterval:   100 * time.Millisecond,
		},
		Prop: PropConfig{
			Trigger:    "start",
			Delay:      10 * time.Second,
			JawEnabled: true,
			Eyes:       OutputConfig{Enabled: false, Pin: "GPIO17"},
			TriggerOut: OutputConfig{Enabled: false, Pin: "GPIO22", Pulse: 500 * time.Millisecond},
		},
		Pins: PinsConfig{
			PIR: "GPIO4",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            9010,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// newViper creates a viper instance with defaults, file and env overrides
func newViper(path string) *viper.Viper {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Missing file is okay, we have defaults
			slog.Warn("config file not read, using defaults", "path", path, "error", err)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOJAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	return decode(newViper(path))
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Servo defaults
	v.SetDefault("servo.driver", d.Servo.Driver)
	v.SetDefault("servo.pin", d.Servo.Pin)
	v.SetDefault("servo.maestro_channel", d.Servo.MaestroChannel)
	v.SetDefault("servo.min_pulse_us", d.Servo.MinPulseUs)
	v.SetDefault("servo.max_pulse_us", d.Servo.MaxPulseUs)
	v.SetDefault("servo.min_angle", d.Servo.MinAngle)
	v.SetDefault("servo.max_angle", d.Servo.MaxAngle)
	v.SetDefault("servo.update_interval", "20ms")

	// Controller defaults
	v.SetDefault("controller.style", d.Controller.Style)
	v.SetDefault("controller.threshold", d.Controller.Threshold)
	v.SetDefault("controller.levels", d.Controller.Levels)
	v.SetDefault("controller.filtered_levels", d.Controller.FilteredLevels)
	v.SetDefault("controller.filter_low_hz", d.Controller.FilterLowHz)
	v.SetDefault("controller.filter_high_hz", d.Controller.FilterHighHz)

	// Audio defaults
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.source", d.Audio.Source)
	v.SetDefault("audio.buffer_size", d.Audio.BufferSize)
	v.SetDefault("audio.mic_time", "30s")
	v.SetDefault("audio.mic_sample_rate", d.Audio.MicSampleRate)
	v.SetDefault("audio.output_channels", d.Audio.OutputChannels)
	v.SetDefault("audio.ambient", d.Audio.Ambient)
	v.SetDefault("audio.vocal_dir", d.Audio.VocalDir)
	v.SetDefault("audio.ambient_dir", d.Audio.AmbientDir)
	v.SetDefault("audio.order", d.Audio.Order)
	v.SetDefault("audio.poll_interval", "100ms")

	// Prop defaults
	v.SetDefault("prop.trigger", d.Prop.Trigger)
	v.SetDefault("prop.delay", "10s")
	v.SetDefault("prop.jaw_enabled", d.Prop.JawEnabled)
	v.SetDefault("prop.eyes.enabled", d.Prop.Eyes.Enabled)
	v.SetDefault("prop.eyes.pin", d.Prop.Eyes.Pin)
	v.SetDefault("prop.trigger_out.enabled", d.Prop.TriggerOut.Enabled)
	v.SetDefault("prop.trigger_out.pin", d.Prop.TriggerOut.Pin)
	v.SetDefault("prop.trigger_out.pulse", "500ms")

	// Pin defaults
	v.SetDefault("pins.pir", d.Pins.PIR)

	// Server defaults
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := c.Mapping(); err != nil {
		return err
	}

	if _, err := c.Policy(); err != nil {
		return err
	}

	switch c.Servo.Driver {
	case "pwm", "maestro", "mock":
	default:
		return fmt.Errorf("servo.driver must be pwm, maestro or mock, got %q", c.Servo.Driver)
	}

	if c.Servo.MinPulseUs <= 0 || c.Servo.MaxPulseUs <= c.Servo.MinPulseUs {
		return fmt.Errorf("servo pulse range invalid: %v..%v us", c.Servo.MinPulseUs, c.Servo.MaxPulseUs)
	}

	if c.Servo.UpdateInterval <= 0 {
		return fmt.Errorf("servo.update_interval must be positive, got %v", c.Servo.UpdateInterval)
	}

	switch c.Audio.Backend {
	case "malgo", "alsa", "mock":
	default:
		return fmt.Errorf("audio.backend must be malgo, alsa or mock, got %q", c.Audio.Backend)
	}

	switch c.Audio.Source {
	case "files", "microphone":
	default:
		return fmt.Errorf("audio.source must be files or microphone, got %q", c.Audio.Source)
	}

	switch c.Audio.OutputChannels {
	case "left", "both":
	default:
		return fmt.Errorf("audio.output_channels must be left or both, got %q", c.Audio.OutputChannels)
	}

	switch c.Audio.Order {
	case "random", "sequential":
	default:
		return fmt.Errorf("audio.order must be random or sequential, got %q", c.Audio.Order)
	}

	if c.Audio.BufferSize < 64 || c.Audio.BufferSize > 16384 {
		return fmt.Errorf("audio.buffer_size must be between 64 and 16384, got %d", c.Audio.BufferSize)
	}

	if c.Audio.Source == "microphone" && c.Audio.MicTime <= 0 {
		return fmt.Errorf("audio.mic_time must be positive for microphone input, got %v", c.Audio.MicTime)
	}

	if c.Audio.MicSampleRate < 8000 {
		return fmt.Errorf("audio.mic_sample_rate too low: %d", c.Audio.MicSampleRate)
	}

	return nil
}

// Mapping returns the loudness mapping selected by controller.style
func (c *Config) Mapping() (jaw.Mapping, error) {
	switch jaw.Style(c.Controller.Style) {
	case jaw.SingleThreshold:
		return jaw.NewMapping(jaw.SingleThreshold, c.Controller.Threshold)
	case jaw.MultiLevelRaw:
		return jaw.NewMapping(jaw.MultiLevelRaw, c.Controller.Levels...)
	case jaw.MultiLevelFiltered:
		return jaw.NewMapping(jaw.MultiLevelFiltered, c.Controller.FilteredLevels...)
	default:
		return jaw.Mapping{}, fmt.Errorf("controller.style must be 0, 1 or 2, got %d", c.Controller.Style)
	}
}

// Range returns the jaw travel
func (c *Config) Range() jaw.Range {
	return jaw.Range{MinAngle: c.Servo.MinAngle, MaxAngle: c.Servo.MaxAngle}
}

// Filter returns the band-pass filter used by the filtered mapping style
func (c *Config) Filter() audio.BandPass {
	return audio.BandPass{LowHz: c.Controller.FilterLowHz, HighHz: c.Controller.FilterHighHz}
}

// Policy returns the trigger policy
func (c *Config) Policy() (trigger.Policy, error) {
	kind, err := trigger.ParseKind(c.Prop.Trigger)
	if err != nil {
		return trigger.Policy{}, err
	}

	p := trigger.Policy{
		Kind:    kind,
		Delay:   c.Prop.Delay,
		Ambient: c.Audio.Ambient,
	}
	if err := p.Validate(); err != nil {
		return trigger.Policy{}, err
	}
	return p, nil
}
