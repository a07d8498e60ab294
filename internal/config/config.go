package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Queue         QueueConfig         `toml:"queue"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Worker        WorkerConfig        `toml:"worker"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds project-level settings
type GeneralConfig struct {
	ProjectRoot  string `toml:"project_root"`
	TicketsDir   string `toml:"tickets_dir"`
	DatabasePath string `toml:"database_path"`
}

// QueueConfig holds commit queue and lock settings
type QueueConfig struct {
	DatabasePath    string        `toml:"database_path"`
	LockPath        string        `toml:"lock_path"`
	LockTimeout     time.Duration `toml:"lock_timeout"`
	PollInterval    time.Duration `toml:"poll_interval"`
	StaleAfter      time.Duration `toml:"stale_after"`
	RetainCompleted int           `toml:"retain_completed"`
	MaxRetries      int           `toml:"max_retries"`
	BackoffUnit     time.Duration `toml:"backoff_unit"`
}

// SchedulerConfig holds batch sizing settings. Workers of zero selects
// automatic sizing from the hardware.
type SchedulerConfig struct {
	Workers    int `toml:"workers"`
	MinWorkers int `toml:"min_workers"`
	MaxWorkers int `toml:"max_workers"`
}

// WorkerConfig holds settings for ticket worker processes
type WorkerConfig struct {
	Command  string   `toml:"command"`
	Args     []string `toml:"args"`
	PoolAddr string   `toml:"pool_addr"`
	Slots    int      `toml:"slots"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	appDir := filepath.Join(home, ".ticket-orchestrator")
	return &Config{
		General: GeneralConfig{
			ProjectRoot:  "",
			TicketsDir:   "tickets",
			DatabasePath: filepath.Join(appDir, "orchestrator.db"),
		},
		Queue: QueueConfig{
			DatabasePath:    filepath.Join(appDir, "queue.db"),
			LockPath:        filepath.Join(appDir, "commit.lock"),
			LockTimeout:     30 * time.Second,
			PollInterval:    500 * time.Millisecond,
			RetainCompleted: 50,
			MaxRetries:      3,
			BackoffUnit:     time.Second,
		},
		Scheduler: SchedulerConfig{
			Workers:    0,
			MinWorkers: 1,
			MaxWorkers: 8,
		},
		Worker: WorkerConfig{
			Command:  "claude",
			PoolAddr: "ws://127.0.0.1:8080/api/workers/ws",
			Slots:    2,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Queue.DatabasePath = ExpandPath(cfg.Queue.DatabasePath)
	cfg.Queue.LockPath = ExpandPath(cfg.Queue.LockPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects settings that
// cannot work.
func (c *Config) Validate() error {
	if c.Queue.LockTimeout <= 0 {
		c.Queue.LockTimeout = 30 * time.Second
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 500 * time.Millisecond
	}
	if c.Queue.StaleAfter < 0 {
		return fmt.Errorf("queue.stale_after must not be negative")
	}
	if c.Queue.RetainCompleted < 0 {
		return fmt.Errorf("queue.retain_completed must not be negative")
	}
	if c.Queue.BackoffUnit <= 0 {
		c.Queue.BackoffUnit = time.Second
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must not be negative")
	}
	if c.Scheduler.MinWorkers <= 0 {
		c.Scheduler.MinWorkers = 1
	}
	if c.Scheduler.MaxWorkers <= 0 {
		c.Scheduler.MaxWorkers = 8
	}
	if c.Scheduler.MinWorkers > c.Scheduler.MaxWorkers {
		return fmt.Errorf("scheduler.min_workers (%d) exceeds max_workers (%d)",
			c.Scheduler.MinWorkers, c.Scheduler.MaxWorkers)
	}
	return nil
}

// Save writes the configuration as TOML, creating parent directories
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// TicketsPath resolves the tickets directory against the project root
func (c *Config) TicketsPath() string {
	if filepath.IsAbs(c.General.TicketsDir) {
		return c.General.TicketsDir
	}
	return filepath.Join(c.General.ProjectRoot, c.General.TicketsDir)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ticket-orchestrator", "config.toml")
}
