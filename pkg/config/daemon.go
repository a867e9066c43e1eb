package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Daemon holds the settle daemon's own settings, as opposed to the
// reconciliation tunables that govern jobs. It is read once at startup from
// a YAML file and never hot-reloaded.
type Daemon struct {
	// DataDir is where the bolt database and reconciliation config live.
	DataDir string `yaml:"dataDir"`

	// ConfigPath overrides the reconciliation config location. Empty means
	// <dataDir>/reconciliation.json.
	ConfigPath string `yaml:"configPath"`

	// Listen is the ops HTTP address serving health and metrics.
	Listen string `yaml:"listen"`

	Log       LogSettings       `yaml:"log"`
	Scheduler SchedulerSettings `yaml:"scheduler"`
	Batch     BatchSettings     `yaml:"batch"`
	Storage   StorageSettings   `yaml:"storage"`
	Monitor   MonitorSettings   `yaml:"monitor"`
}

type LogSettings struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type SchedulerSettings struct {
	// IntervalMinutes is how often the scheduler scans for due work.
	IntervalMinutes int `yaml:"intervalMinutes"`
}

type BatchSettings struct {
	MaxConcurrent     int `yaml:"maxConcurrent"`
	JobTimeoutMinutes int `yaml:"jobTimeoutMinutes"`
	MaxRetries        int `yaml:"maxRetries"`
}

type StorageSettings struct {
	CacheSize          int `yaml:"cacheSize"`
	BatchWindowSeconds int `yaml:"batchWindowSeconds"`
}

type MonitorSettings struct {
	RetentionDays int `yaml:"retentionDays"`
}

// DefaultDaemon returns the settings used when no daemon config file is
// given.
func DefaultDaemon() Daemon {
	return Daemon{
		DataDir: "/var/lib/settle",
		Listen:  ":9464",
		Log:     LogSettings{Level: "info", JSON: true},
		Scheduler: SchedulerSettings{
			IntervalMinutes: 15,
		},
		Batch: BatchSettings{
			MaxConcurrent:     4,
			JobTimeoutMinutes: 5,
			MaxRetries:        2,
		},
		Storage: StorageSettings{
			CacheSize:          1024,
			BatchWindowSeconds: 5,
		},
		Monitor: MonitorSettings{
			RetentionDays: 90,
		},
	}
}

// LoadDaemon reads the YAML daemon config at path, layered over
// DefaultDaemon. An empty path returns the defaults untouched; a named but
// unreadable or malformed file is an error.
func LoadDaemon(path string) (Daemon, error) {
	d := DefaultDaemon()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Daemon{}, fmt.Errorf("failed to read daemon config: %w", err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Daemon{}, fmt.Errorf("failed to parse daemon config %s: %w", path, err)
	}
	if err := d.check(); err != nil {
		return Daemon{}, err
	}
	return d, nil
}

func (d Daemon) check() error {
	if d.DataDir == "" {
		return fmt.Errorf("daemon config: dataDir is required")
	}
	if d.Scheduler.IntervalMinutes < 1 {
		return fmt.Errorf("daemon config: scheduler.intervalMinutes must be at least 1")
	}
	if d.Batch.MaxConcurrent < 1 {
		return fmt.Errorf("daemon config: batch.maxConcurrent must be at least 1")
	}
	if d.Storage.CacheSize < 1 {
		return fmt.Errorf("daemon config: storage.cacheSize must be at least 1")
	}
	return nil
}

// SchedulerInterval returns the scan cadence as a duration.
func (d Daemon) SchedulerInterval() time.Duration {
	return time.Duration(d.Scheduler.IntervalMinutes) * time.Minute
}

// JobTimeout returns the per-job batch timeout as a duration.
func (d Daemon) JobTimeout() time.Duration {
	return time.Duration(d.Batch.JobTimeoutMinutes) * time.Minute
}

// BatchWindow returns the storage write-coalescing window as a duration.
func (d Daemon) BatchWindow() time.Duration {
	return time.Duration(d.Storage.BatchWindowSeconds) * time.Second
}
