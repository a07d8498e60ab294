package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/ticket-orchestrator/internal/config"
	"github.com/hochfrequenz/ticket-orchestrator/internal/rounds"
)

var scheduleFile string

func init() {
	roundsCmd := &cobra.Command{
		Use:   "rounds",
		Short: "Manage scheduled rounds",
	}
	roundsCmd.PersistentFlags().StringVar(&scheduleFile, "schedule", "", "rounds config file path")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured rounds and their next run",
		RunE:  runRoundsList,
	}

	runCmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Run one configured round now",
		Args:  cobra.ExactArgs(1),
		RunE:  runRoundsRun,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run rounds on their cron schedules until stopped",
		RunE:  runRoundsStart,
	}

	roundsCmd.AddCommand(listCmd, runCmd, startCmd)
	rootCmd.AddCommand(roundsCmd)
}

func schedulePath() string {
	if scheduleFile != "" {
		return scheduleFile
	}
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return filepath.Join(filepath.Dir(path), "rounds.toml")
}

func runRoundsList(cmd *cobra.Command, args []string) error {
	schedule, err := rounds.LoadScheduleConfig(schedulePath())
	if err != nil {
		return err
	}
	if len(schedule.Rounds) == 0 {
		fmt.Printf("No rounds configured in %s\n", schedulePath())
		return nil
	}

	sched, err := rounds.NewScheduler(schedule.Rounds)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tMAX\tWORKERS\tNEXT RUN")
	for _, rc := range schedule.Rounds {
		workers := fmt.Sprintf("%d", rc.Workers)
		if rc.Workers == 0 {
			workers = "auto"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			rc.Name, rc.Cron, rc.MaxTickets, workers,
			sched.NextRun(rc.Name).Format(time.RFC3339))
	}
	w.Flush()

	return nil
}

func runRoundsRun(cmd *cobra.Command, args []string) error {
	schedule, err := rounds.LoadScheduleConfig(schedulePath())
	if err != nil {
		return err
	}

	var roundCfg *rounds.RoundConfig
	for i := range schedule.Rounds {
		if schedule.Rounds[i].Name == args[0] {
			roundCfg = &schedule.Rounds[i]
			break
		}
	}
	if roundCfg == nil {
		return fmt.Errorf("round %q is not configured in %s", args[0], schedulePath())
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := rounds.NewRunner(app.orch, app.buildDispatcher(), buildNotifier(app.cfg), app.logger)
	summary, err := runner.RunRound(ctx, *roundCfg)
	if err != nil {
		return err
	}

	fmt.Printf("Round %s done: %d scheduled, %d completed, %d failed, %d commits landed\n",
		summary.Round, summary.Scheduled, summary.Completed, summary.Failed, summary.Committed)
	return nil
}

func runRoundsStart(cmd *cobra.Command, args []string) error {
	schedule, err := rounds.LoadScheduleConfig(schedulePath())
	if err != nil {
		return err
	}
	if len(schedule.Rounds) == 0 {
		return fmt.Errorf("no rounds configured in %s", schedulePath())
	}

	sched, err := rounds.NewScheduler(schedule.Rounds)
	if err != nil {
		return err
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	runner := rounds.NewRunner(app.orch, app.buildDispatcher(), buildNotifier(app.cfg), app.logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		fmt.Println("\nStopping round scheduler...")
		sched.Stop()
	}()

	fmt.Printf("Scheduling %d rounds (ctrl+c to stop)\n", len(schedule.Rounds))
	sched.Start(func(rc rounds.RoundConfig) error {
		summary, err := runner.RunRound(context.Background(), rc)
		if err != nil {
			return err
		}
		fmt.Printf("Round %s done: %d completed, %d failed, %d commits landed\n",
			summary.Round, summary.Completed, summary.Failed, summary.Committed)
		return nil
	})

	return nil
}
