package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"templatebot/pkg/logx"
)

// Editors write in bursts; wait this long after the last event.
const reloadDebounce = 250 * time.Millisecond

// ConfigManager holds the active config and, while Watch runs, replaces it
// whenever the file changes to a config that parses, validates and differs.
type ConfigManager struct {
	path   string
	getenv func(string) string

	mu  sync.RWMutex
	cfg *Config

	updates chan *Config

	log      logx.Logger
	validate func(*Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:    path,
		getenv:  os.Getenv,
		updates: make(chan *Config, 1),
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator sets the check a reloaded config must pass before it is
// committed. Call before Watch.
func (m *ConfigManager) SetValidator(fn func(*Config) error) { m.validate = fn }

// Parse reads the file with the environment overlaid, without committing.
func (m *ConfigManager) Parse() (*Config, error) {
	return readConfig(m.path, m.getenv)
}

// Load parses and commits the config.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Updates yields configs committed by Watch. It holds at most one pending
// config; a newer one replaces it, so a slow reader only sees the latest.
func (m *ConfigManager) Updates() <-chan *Config { return m.updates }

func (m *ConfigManager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// offer is only called from the Watch goroutine.
func (m *ConfigManager) offer(cfg *Config) {
	for {
		select {
		case m.updates <- cfg:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// Watch follows the config file until ctx ends. It returns an error only
// when the watcher cannot be set up or dies.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors and deploy tools replace the file.
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("path", m.path))

	pending := time.NewTimer(reloadDebounce)
	pending.Stop()
	defer pending.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watch: event stream closed")
			}
			if ev.Op == fsnotify.Chmod || !strings.EqualFold(filepath.Base(ev.Name), name) {
				continue
			}
			pending.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watch: error stream closed")
			}
			m.log.Warn("config watch error", logx.Err(err))
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				pending.Reset(reloadDebounce)
			}
		case <-pending.C:
			m.reload()
		}
	}
}

func (m *ConfigManager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload failed; keeping current", logx.Err(err))
		return
	}
	if changed, _, _ := SummarizeConfigChange(m.Get(), cfg); len(changed) == 0 {
		m.log.Debug("config file touched without changes")
		return
	}
	if m.validate != nil {
		if err := m.validate(cfg); err != nil {
			m.log.Warn("config rejected; keeping current", logx.Err(err))
			return
		}
	}
	m.commit(cfg)
	m.offer(cfg)
}
