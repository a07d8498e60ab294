package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/ticket-orchestrator/internal/workerclient"
)

var (
	configPath string
	serverURL  string
	workerID   string
	slots      int
	command    string
	repoDir    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ticket-worker",
		Short: "Remote ticket worker that connects to an orchestrator",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "Orchestrator WebSocket URL")
	rootCmd.Flags().StringVar(&workerID, "id", "", "Worker ID")
	rootCmd.Flags().IntVar(&slots, "slots", 2, "Maximum concurrent tickets")
	rootCmd.Flags().StringVar(&command, "command", "", "Worker command to run per ticket")
	rootCmd.Flags().StringVar(&repoDir, "dir", "", "Working tree the worker edits")

	rootCmd.AddCommand(newServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Config defines the ticket-worker configuration file format
type Config struct {
	Server struct {
		URL string `toml:"url"`
	} `toml:"server"`
	Worker struct {
		ID      string   `toml:"id"`
		Slots   int      `toml:"slots"`
		Command string   `toml:"command"`
		Args    []string `toml:"args"`
	} `toml:"worker"`
	Repo struct {
		Dir string `toml:"dir"`
	} `toml:"repo"`
}

// Default config file locations (checked in order)
var defaultConfigPaths = []string{
	"/etc/ticket-worker/config.toml",
	"/etc/ticket-worker.toml",
}

func run(cmd *cobra.Command, args []string) error {
	// Workers stage and enqueue through git
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git is required but not found in PATH")
	}

	var cfg Config

	cfgPath := configPath
	if cfgPath == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
				break
			}
		}
	}

	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return fmt.Errorf("reading config %s: %w", cfgPath, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", cfgPath, err)
		}
		fmt.Printf("Loaded config from %s\n", cfgPath)
	}

	// CLI flags override config (only if explicitly set)
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if workerID != "" {
		cfg.Worker.ID = workerID
	}
	if cmd.Flags().Changed("slots") {
		cfg.Worker.Slots = slots
	}
	if command != "" {
		cfg.Worker.Command = command
	}
	if repoDir != "" {
		cfg.Repo.Dir = repoDir
	}

	// Defaults
	if cfg.Worker.Slots == 0 {
		cfg.Worker.Slots = 2
	}
	if cfg.Worker.ID == "" {
		hostname, _ := os.Hostname()
		cfg.Worker.ID = hostname
	}
	if cfg.Worker.Command == "" {
		cfg.Worker.Command = "claude"
	}
	if cfg.Repo.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determining working tree: %w", err)
		}
		cfg.Repo.Dir = wd
	}

	worker, err := workerclient.NewWorker(workerclient.Config{
		ServerURL: cfg.Server.URL,
		WorkerID:  cfg.Worker.ID,
		Slots:     cfg.Worker.Slots,
		Command:   cfg.Worker.Command,
		Args:      cfg.Worker.Args,
		Dir:       cfg.Repo.Dir,
	})
	if err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}

	// Handle shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		worker.Stop()
	}()

	fmt.Printf("Starting worker %s connecting to %s (slots=%d)...\n",
		cfg.Worker.ID, cfg.Server.URL, cfg.Worker.Slots)

	// Run with automatic reconnection (blocks until stopped)
	return worker.RunWithReconnect()
}
