package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReloadCallback is run after a new configuration has been swapped in
type ReloadCallback func(old, updated *Config)

// Store holds the live configuration. Readers take a snapshot at the start
// of each playback cycle; a reload never changes a snapshot already taken.
type Store struct {
	path   string
	v      *viper.Viper
	logger *slog.Logger

	current atomic.Pointer[Config]

	mu        sync.Mutex
	callbacks []ReloadCallback

	reloads    atomic.Int64
	failures   atomic.Int64
	lastReload atomic.Int64 // unix nanos
}

// NewStore loads and validates the configuration at path
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := newViper(path)
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Store{path: path, v: v, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

// NewStaticStore wraps a fixed configuration that never reloads
func NewStaticStore(cfg *Config) *Store {
	s := &Store{logger: slog.Default()}
	s.current.Store(cfg)
	return s
}

// Snapshot returns the current configuration. Callers must not modify it.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// OnReload registers a callback for successful reloads
func (s *Store) OnReload(cb ReloadCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Watch reloads the configuration whenever the file changes
func (s *Store) Watch() {
	if s.v == nil || s.path == "" {
		return
	}

	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s.logger.Info("config file changed", "path", e.Name, "op", e.Op.String())
		if err := s.Reload(); err != nil {
			s.logger.Warn("config reload rejected, keeping previous settings", "error", err)
		}
	})
	s.v.WatchConfig()

	s.logger.Info("watching config file", "path", s.path)
}

// Reload re-reads the file and swaps in the result if it validates
func (s *Store) Reload() error {
	if s.v == nil {
		return fmt.Errorf("static config cannot be reloaded")
	}

	if s.path != "" {
		if err := s.v.ReadInConfig(); err != nil {
			s.failures.Add(1)
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(s.v)
	if err != nil {
		s.failures.Add(1)
		return err
	}
	if err := cfg.Validate(); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("invalid config: %w", err)
	}

	old := s.current.Swap(cfg)
	s.reloads.Add(1)
	s.lastReload.Store(time.Now().UnixNano())

	s.mu.Lock()
	callbacks := append([]ReloadCallback(nil), s.callbacks...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, cfg)
	}

	s.logger.Info("config reloaded")
	return nil
}

// Stats returns reload statistics
func (s *Store) Stats() StoreStats {
	stats := StoreStats{
		Path:     s.path,
		Reloads:  s.reloads.Load(),
		Failures: s.failures.Load(),
	}
	if ns := s.lastReload.Load(); ns != 0 {
		stats.LastReload = time.Unix(0, ns)
	}
	return stats
}

// StoreStats contains reload statistics
type StoreStats struct {
	Path       string    `json:"path"`
	Reloads    int64     `json:"reloads"`
	Failures   int64     `json:"failures"`
	LastReload time.Time `json:"last_reload,omitempty"`
}
