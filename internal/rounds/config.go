package rounds

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// RoundConfig represents a scheduled orchestration round
type RoundConfig struct {
	Name             string        `toml:"name"`
	Cron             string        `toml:"cron"`
	MaxTickets       int           `toml:"max_tickets"`
	Workers          int           `toml:"workers"` // 0 selects the worker count automatically
	MaxDuration      time.Duration `toml:"max_duration"`
	NotifyOnComplete bool          `toml:"notify_on_complete"`
}

// ScheduleConfig holds all round configurations
type ScheduleConfig struct {
	Rounds []RoundConfig `toml:"round"`
}

// Validate checks if the config is valid
func (c *RoundConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("round name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.MaxTickets <= 0 {
		c.MaxTickets = 10 // Default
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 4 * time.Hour // Default
	}
	return nil
}

// LoadScheduleConfig loads round configuration from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Validate all rounds
	for i := range cfg.Rounds {
		if err := cfg.Rounds[i].Validate(); err != nil {
			return nil, fmt.Errorf("round %d: %w", i, err)
		}
	}

	return &cfg, nil
}
