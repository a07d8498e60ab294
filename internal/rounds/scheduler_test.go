package rounds

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestRoundConfig_Validate(t *testing.T) {
	cfg := RoundConfig{
		Name:        "overnight",
		Cron:        "0 22 * * *",
		MaxTickets:  10,
		MaxDuration: 8 * time.Hour,
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config should not error: %v", err)
	}

	cfg.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Empty name should error")
	}

	cfg.Name = "overnight"
	cfg.Workers = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Negative workers should error")
	}
}

func TestRoundConfig_ValidateDefaults(t *testing.T) {
	cfg := RoundConfig{Name: "hourly", Cron: "0 * * * *"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxTickets != 10 {
		t.Errorf("MaxTickets = %d, want default 10", cfg.MaxTickets)
	}
	if cfg.MaxDuration != 4*time.Hour {
		t.Errorf("MaxDuration = %v, want default 4h", cfg.MaxDuration)
	}
}

func TestScheduler_NextRun(t *testing.T) {
	cfg := RoundConfig{
		Name:       "test",
		Cron:       "0 22 * * *", // 10 PM daily
		MaxTickets: 5,
	}

	sched, err := NewScheduler([]RoundConfig{cfg})
	if err != nil {
		t.Fatal(err)
	}

	next := sched.NextRun("test")
	if next.IsZero() {
		t.Error("NextRun should return a time")
	}

	// Should be in the future
	if !next.After(time.Now()) {
		t.Error("NextRun should be in the future")
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	cfg := RoundConfig{
		Name:        "test",
		Cron:        "* * * * *", // Every minute
		MaxTickets:  5,
		MaxDuration: time.Hour,
	}

	sched, err := NewScheduler([]RoundConfig{cfg})
	if err != nil {
		t.Fatal(err)
	}

	// Mark as last run a minute ago
	sched.lastRun["test"] = time.Now().Add(-2 * time.Minute)

	if !sched.ShouldRun("test") {
		t.Error("Should run after cron interval passed")
	}
}

func TestScheduler_OverlapSuppressed(t *testing.T) {
	cfg := RoundConfig{
		Name:       "test",
		Cron:       "* * * * *",
		MaxTickets: 5,
	}

	sched, err := NewScheduler([]RoundConfig{cfg})
	if err != nil {
		t.Fatal(err)
	}
	sched.lastRun["test"] = time.Now().Add(-2 * time.Minute)

	sched.MarkRunning("test")
	if sched.ShouldRun("test") {
		t.Error("Round already running must not start again")
	}

	sched.MarkComplete("test")
	if sched.running["test"] {
		t.Error("MarkComplete should clear the running flag")
	}
}

func TestLoadScheduleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.toml")
	content := `
[[round]]
name = "overnight"
cron = "0 22 * * *"
max_tickets = 8
workers = 2
max_duration = "6h"
notify_on_complete = true

[[round]]
name = "hourly"
cron = "0 * * * *"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadScheduleConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Rounds) != 2 {
		t.Fatalf("Rounds = %d, want 2", len(cfg.Rounds))
	}

	overnight := cfg.Rounds[0]
	if overnight.Name != "overnight" || overnight.MaxTickets != 8 || overnight.Workers != 2 {
		t.Errorf("overnight round = %+v", overnight)
	}
	if overnight.MaxDuration != 6*time.Hour {
		t.Errorf("MaxDuration = %v, want 6h", overnight.MaxDuration)
	}
	if !overnight.NotifyOnComplete {
		t.Error("NotifyOnComplete should be true")
	}

	// Defaults filled for the sparse round.
	if cfg.Rounds[1].MaxTickets != 10 {
		t.Errorf("hourly MaxTickets = %d, want default 10", cfg.Rounds[1].MaxTickets)
	}
}

func TestLoadScheduleConfig_Missing(t *testing.T) {
	cfg, err := LoadScheduleConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Rounds) != 0 {
		t.Errorf("missing file should yield empty config, got %d rounds", len(cfg.Rounds))
	}
}
