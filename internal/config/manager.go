package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alnah/go-pdfrender/internal/logging"
)

// watchDebounce groups the burst of events editors emit on save.
const watchDebounce = 200 * time.Millisecond

// Manager owns the live configuration. Renders take a Snapshot and keep it
// for their whole lifetime; Update, Reset and file reloads only affect
// renders started afterwards.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	defaults Config
	logger   *slog.Logger
	onChange []func(Config)
	overlay  func(*Config) []string
}

// NewManager returns a Manager holding a normalized copy of cfg.
// A nil cfg means DefaultConfig. Normalization warnings are logged.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{
		cfg:      cloneConfig(*cfg),
		defaults: *DefaultConfig(),
		logger:   logging.OrDiscard(logger),
	}
	for _, w := range m.cfg.Normalize() {
		m.logger.Warn("config value adjusted", "warning", w)
	}
	return m
}

// Snapshot returns a copy of the current configuration.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneConfig(m.cfg)
}

// Update applies fn to a copy of the configuration, normalizes the result
// and swaps it in. It returns the normalization warnings.
func (m *Manager) Update(fn func(*Config)) []string {
	m.mu.Lock()
	next := cloneConfig(m.cfg)
	fn(&next)
	warnings := next.Normalize()
	m.cfg = next
	listeners := append([]func(Config){}, m.onChange...)
	m.mu.Unlock()

	for _, w := range warnings {
		m.logger.Warn("config value adjusted", "warning", w)
	}
	m.notify(listeners, next)
	return warnings
}

// Reset restores the default configuration.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.cfg = cloneConfig(m.defaults)
	listeners := append([]func(Config){}, m.onChange...)
	snap := cloneConfig(m.cfg)
	m.mu.Unlock()

	m.notify(listeners, snap)
}

// OnChange registers fn to be called with the new configuration after every
// Update, Reset or reload.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) notify(listeners []func(Config), cfg Config) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("config listener panicked", "panic", fmt.Sprint(r))
				}
			}()
			fn(cloneConfig(cfg))
		}()
	}
}

// SetOverlay registers fn to be applied on top of every reloaded file,
// before normalization. Callers use it to keep environment and flag
// overrides above the file. fn returns warnings to log.
func (m *Manager) SetOverlay(fn func(*Config) []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = fn
}

// Reload reads path, applies the overlay and replaces the whole
// configuration with the result. On error the current configuration is kept.
func (m *Manager) Reload(path string) error {
	cfg, warnings, err := LoadFile(path)
	if err != nil {
		return err
	}

	m.mu.RLock()
	overlay := m.overlay
	m.mu.RUnlock()
	if overlay != nil {
		warnings = append(warnings, overlay(cfg)...)
		warnings = append(warnings, cfg.Normalize()...)
	}
	for _, w := range warnings {
		m.logger.Warn("config value adjusted", "path", path, "warning", w)
	}

	m.mu.Lock()
	m.cfg = *cfg
	listeners := append([]func(Config){}, m.onChange...)
	m.mu.Unlock()

	m.logger.Info("config reloaded", "path", path)
	m.notify(listeners, *cfg)
	return nil
}

// Watch reloads path whenever it changes until ctx is cancelled.
// The parent directory is watched so atomic renames by editors are seen.
// Watch blocks; run it in its own goroutine.
func (m *Manager) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := m.Reload(abs); err != nil {
				m.logger.Warn("config reload failed", "path", abs, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

// cloneConfig copies c. Config holds only value fields.
func cloneConfig(c Config) Config {
	return c
}
