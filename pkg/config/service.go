package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/types"
)

// reloadDebounce absorbs the create/write event bursts editors and atomic
// renames produce before re-reading the file.
const reloadDebounce = 500 * time.Millisecond

// Service owns the service-wide reconciliation configuration. It loads the
// configuration from a JSON file, serves it to callers, persists updates,
// and optionally watches the file for out-of-band edits.
//
// All methods are safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	path    string
	current types.ReconciliationConfig

	onChange []func(types.ReconciliationConfig)

	watcher *fsnotify.Watcher
	reload  *time.Timer
	stopCh  chan struct{}
	running bool
}

// NewService creates a Service backed by the JSON file at path. The file is
// not touched until Load or Update is called.
func NewService(path string) *Service {
	return &Service{path: path, current: Default()}
}

// Load reads the configuration file. A missing file is not an error: the
// defaults stay in effect and are returned. A present but invalid file is
// rejected so a typo cannot silently reconfigure running jobs.
func (s *Service) Load() (types.ReconciliationConfig, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		logger := log.WithComponent("config")
		logger.Debug().
			Str("path", s.path).
			Msg("No configuration file, using defaults")
		return s.Current(), nil
	}
	if err != nil {
		return types.ReconciliationConfig{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return types.ReconciliationConfig{}, fmt.Errorf("failed to parse config %s: %w", s.path, err)
	}
	if err := ValidateErr(cfg); err != nil {
		return types.ReconciliationConfig{}, err
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	logger := log.WithComponent("config")
	logger.Info().
		Str("path", s.path).
		Int("max_reconciliation_days", cfg.MaxReconciliationDays).
		Int("stability_period_days", cfg.StabilityPeriodDays).
		Msg("Configuration loaded")
	return cfg, nil
}

// Current returns the configuration currently in effect.
func (s *Service) Current() types.ReconciliationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates cfg, persists it, and makes it the current
// configuration. Jobs already running keep their captured copy; only jobs
// started after the update see the new values.
func (s *Service) Update(cfg types.ReconciliationConfig) error {
	if err := ValidateErr(cfg); err != nil {
		return err
	}
	if err := s.persist(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = cfg
	callbacks := append([]func(types.ReconciliationConfig){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}

	logger := log.WithComponent("config")
	logger.Info().
		Str("path", s.path).
		Msg("Configuration updated")
	return nil
}

// OnChange registers fn to run after every accepted configuration change,
// whether it came through Update or the file watcher. Register before
// calling Watch.
func (s *Service) OnChange(fn func(types.ReconciliationConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// persist writes cfg to the configured path via a temp file and rename, so
// a crash mid-write cannot leave a truncated configuration behind.
func (s *Service) persist(cfg types.ReconciliationConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Watch starts a filesystem watcher on the configuration file's directory
// and reloads on writes, with debouncing. A reload that fails validation is
// logged and discarded; the previous configuration stays in effect.
func (s *Service) Watch() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory, not the file: atomic renames replace the inode
	// and a watch on the old file would go stale after the first update.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		s.mu.Unlock()
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		s.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.watcher = watcher
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.watchLoop()

	logger := log.WithComponent("config")
	logger.Info().
		Str("path", s.path).
		Msg("Watching configuration file for changes")
	return nil
}

func (s *Service) watchLoop() {
	logger := log.WithComponent("config")
	for {
		select {
		case <-s.stopCh:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.scheduleReload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

// scheduleReload arms (or re-arms) the debounce timer.
func (s *Service) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reload != nil {
		s.reload.Stop()
	}
	s.reload = time.AfterFunc(reloadDebounce, func() {
		prev := s.Current()
		cfg, err := s.Load()
		if err != nil {
			logger := log.WithComponent("config")
			logger.Error().
				Err(err).
				Str("path", s.path).
				Msg("Config reload rejected, keeping previous configuration")
			return
		}
		if cfg == prev {
			return
		}

		s.mu.Lock()
		callbacks := append([]func(types.ReconciliationConfig){}, s.onChange...)
		s.mu.Unlock()
		for _, fn := range callbacks {
			fn(cfg)
		}

		logger := log.WithComponent("config")
		logger.Info().
			Str("path", s.path).
			Msg("Configuration reloaded from file change")
	})
}

// Close stops the watcher. Safe to call when Watch was never started.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)
	if s.reload != nil {
		s.reload.Stop()
		s.reload = nil
	}
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return err
		}
		s.watcher = nil
	}
	return nil
}
