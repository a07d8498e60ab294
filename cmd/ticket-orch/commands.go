package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/config"
	"github.com/hochfrequenz/ticket-orchestrator/internal/dispatch"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/gitops"
	"github.com/hochfrequenz/ticket-orchestrator/internal/notify"
	"github.com/hochfrequenz/ticket-orchestrator/internal/observer"
	"github.com/hochfrequenz/ticket-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/ticket-orchestrator/internal/parser"
	"github.com/hochfrequenz/ticket-orchestrator/internal/rounds"
	"github.com/hochfrequenz/ticket-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/ticket-orchestrator/internal/ticketstore"
	"github.com/hochfrequenz/ticket-orchestrator/internal/workerpool"
	"github.com/hochfrequenz/ticket-orchestrator/tui"
	"github.com/hochfrequenz/ticket-orchestrator/web/api"
)

var (
	listState    string
	batchWorkers int
	runWorkers   int
	runMax       int
	servePort    int
)

func init() {
	// sync command
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync tickets from ticket files",
		RunE:  runSync,
	}
	rootCmd.AddCommand(syncCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listState, "state", "", "filter by state")
	rootCmd.AddCommand(listCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// ready command
	readyCmd := &cobra.Command{
		Use:   "ready",
		Short: "Show tickets ready to start and what blocks the rest",
		RunE:  runReady,
	}
	rootCmd.AddCommand(readyCmd)

	// plan command
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show dependency depths and the critical path",
		RunE:  runPlan,
	}
	rootCmd.AddCommand(planCmd)

	// batch command
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Show the next batch without running it",
		RunE:  runBatch,
	}
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "worker count (0 = auto)")
	rootCmd.AddCommand(batchCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one round: resolve, batch, dispatch, drain",
		RunE:  runRun,
	}
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "worker count (0 = auto)")
	runCmd.Flags().IntVar(&runMax, "max", 0, "stop after this many tickets (0 = no budget)")
	rootCmd.AddCommand(runCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the tickets directory and sync on change",
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web API and worker pool endpoint",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on")
	rootCmd.AddCommand(serveCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE:  runConfigInit,
	}
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// app bundles the stores and the orchestrator that most commands need.
// Close releases both databases.
type app struct {
	cfg     *config.Config
	store   *ticketstore.Store
	queue   *commitqueue.Queue
	drainer *commitqueue.Drainer
	orch    *orchestrator.Orchestrator
	logger  *log.Logger
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	for _, path := range []string{cfg.General.DatabasePath, cfg.Queue.DatabasePath, cfg.Queue.LockPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	store, err := ticketstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, err
	}

	queue, err := commitqueue.Open(cfg.Queue.DatabasePath)
	if err != nil {
		store.Close()
		return nil, err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	lock := commitqueue.NewFileLock(cfg.Queue.LockPath, cfg.Queue.LockTimeout, cfg.Queue.PollInterval)
	if cfg.Queue.StaleAfter > 0 {
		lock.SetStaleAfter(cfg.Queue.StaleAfter)
	}

	repo := gitops.New(cfg.General.ProjectRoot)
	drainer := commitqueue.NewDrainer(queue, lock, repo, store, logger, cfg.Queue.RetainCompleted)
	drainer.SetBackoffUnit(cfg.Queue.BackoffUnit)
	drainer.SetNotifier(buildNotifier(cfg))

	orch := orchestrator.New(store, queue, drainer, logger)
	orch.SetWorkerBounds(scheduler.WorkerBounds{
		Min: cfg.Scheduler.MinWorkers,
		Max: cfg.Scheduler.MaxWorkers,
	})

	return &app{
		cfg:     cfg,
		store:   store,
		queue:   queue,
		drainer: drainer,
		orch:    orch,
		logger:  logger,
	}, nil
}

func (a *app) Close() {
	a.queue.Close()
	a.store.Close()
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func (a *app) buildDispatcher() *dispatch.Dispatcher {
	repo := gitops.New(a.cfg.General.ProjectRoot)
	obs := observer.New(30 * time.Minute)
	logDir := filepath.Join(filepath.Dir(a.cfg.General.DatabasePath), "logs")
	return dispatch.NewDispatcher(a.store, repo, a.orch, obs, a.logger, dispatch.Config{
		Command: a.cfg.Worker.Command,
		Args:    a.cfg.Worker.Args,
		Dir:     a.cfg.General.ProjectRoot,
		LogDir:  logDir,
	})
}

func runSync(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	dir := app.cfg.TicketsPath()
	tickets, err := parser.ParseTicketsDir(dir)
	if err != nil {
		return err
	}

	for _, ticket := range tickets {
		if err := app.store.UpsertTicket(ticket); err != nil {
			return fmt.Errorf("upserting %s: %w", ticket.ID, err)
		}
	}

	fmt.Printf("Synced %d tickets from %s\n", len(tickets), dir)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	tickets, err := app.store.ListTickets(ticketstore.ListOptions{
		State: domain.TicketState(listState),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tPRIORITY\tTITLE")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.State, t.Priority, t.Title)
	}
	w.Flush()

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	counts, err := app.store.CountByState()
	if err != nil {
		return err
	}
	depth, err := app.queue.Depth()
	if err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("Tickets: %d total | %d unprocessed | %d in progress | %d completed | %d deferred | %d failed\n",
		total, counts[domain.StateUnprocessed], counts[domain.StateInProgress],
		counts[domain.StateCompleted], counts[domain.StateDeferred], counts[domain.StateFailed])
	fmt.Printf("Commit queue: %d waiting\n", depth)

	return nil
}

func runReady(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ready, blocked, err := app.orch.ResolveReadyWork()
	if err != nil {
		return err
	}

	if len(ready) == 0 {
		fmt.Println("No tickets ready to start")
	} else {
		fmt.Printf("Ready (%d):\n", len(ready))
		for _, id := range ready {
			fmt.Printf("  %s\n", id)
		}
	}

	if len(blocked) > 0 {
		fmt.Printf("Blocked (%d):\n", len(blocked))
		for _, b := range blocked {
			fmt.Printf("  %s waiting on %s\n", b.Ticket.ID, strings.Join(b.WaitingOn, ", "))
		}
	}

	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.orch.CriticalPath()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEPTH")
	for id, depth := range report.Depths {
		fmt.Fprintf(w, "%s\t%d\n", id, depth)
	}
	w.Flush()

	fmt.Printf("Critical path: %s (depth %d)\n", report.CriticalID, report.MaxDepth)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ready, _, err := app.orch.ResolveReadyWork()
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		fmt.Println("No tickets ready to start")
		return nil
	}

	ids, batch, err := app.orch.BuildBatch(ready, batchWorkers)
	if err != nil {
		return err
	}

	fmt.Printf("Next batch (%d workers):\n", batch.Workers)
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}
	for _, d := range batch.Deferred {
		fmt.Printf("  deferred: %s (%s also touches %s)\n", d.TicketID, d.ConflictID, d.Artifact)
	}

	stats := scheduler.Stats(len(ready), batch.Workers)
	fmt.Printf("%d ready tickets need %d batches at %d workers, final batch of %d\n",
		stats.TotalTickets, stats.BatchCount, stats.Workers, stats.FinalBatch)

	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := rounds.NewRunner(app.orch, app.buildDispatcher(), buildNotifier(app.cfg), app.logger)
	summary, err := runner.RunRound(ctx, rounds.RoundConfig{
		Name:       "manual",
		Workers:    runWorkers,
		MaxTickets: runMax,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Round done: %d scheduled, %d completed, %d failed, %d rolled back, %d commits landed\n",
		summary.Scheduled, summary.Completed, summary.Failed, summary.RolledBack, summary.Committed)
	if summary.CommitsFailed > 0 {
		fmt.Printf("%d commits failed, inspect them with: ticket-orch queue --status failed\n", summary.CommitsFailed)
	}

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	dir := app.cfg.TicketsPath()
	watcher, err := observer.NewTicketWatcher(dir, func(changed []string) {
		for _, path := range changed {
			ticket, err := parser.ParseTicketFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				fmt.Printf("Warning: %s: %v\n", path, err)
				continue
			}
			if err := app.store.UpsertTicket(ticket); err != nil {
				fmt.Printf("Warning: upserting %s: %v\n", ticket.ID, err)
				continue
			}
			fmt.Printf("Synced %s from %s\n", ticket.ID, filepath.Base(path))
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher.Start(ctx)
	defer watcher.Stop()

	fmt.Printf("Watching %s for ticket changes (ctrl+c to stop)\n", dir)
	<-ctx.Done()
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	fetch := func() (*tui.Snapshot, error) {
		tickets, err := app.store.ListTickets(ticketstore.ListOptions{})
		if err != nil {
			return nil, err
		}
		ready, blocked, err := app.orch.ResolveReadyWork()
		if err != nil {
			return nil, err
		}
		entries, err := app.queue.List("")
		if err != nil {
			return nil, err
		}
		depth, err := app.queue.Depth()
		if err != nil {
			return nil, err
		}

		snap := &tui.Snapshot{
			Tickets:    tickets,
			Ready:      ready,
			Blocked:    blocked,
			Entries:    entries,
			QueueDepth: depth,
		}
		if report, err := app.orch.CriticalPath(); err == nil {
			snap.CriticalID = report.CriticalID
			snap.MaxDepth = report.MaxDepth
		}
		return snap, nil
	}

	model := tui.NewModel(tui.ModelConfig{Fetch: fetch})
	p := tea.NewProgram(model, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	port := servePort
	if port == 0 {
		port = app.cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", app.cfg.Web.Host, port)

	registry := workerpool.NewRegistry()
	assigner := workerpool.NewAssigner(registry)
	hub := workerpool.NewHub(registry, assigner, app.logger)
	hub.StartHeartbeats(ctx)

	server := api.NewServer(app.store, addr)
	server.SetQueue(app.queue)
	server.SetPlanner(app.orch)
	server.SetWorkerPool(registry, hub)

	dispatcher := app.buildDispatcher()
	dispatcher.SetPool(assigner)
	server.SetRuns(dispatcher.Runs())

	// Ticket file edits show up in the dashboard without a manual sync.
	watcher, err := observer.NewTicketWatcher(app.cfg.TicketsPath(), func(changed []string) {
		for _, path := range changed {
			ticket, err := parser.ParseTicketFile(path)
			if err != nil {
				continue
			}
			if err := app.store.UpsertTicket(ticket); err != nil {
				continue
			}
			server.Broadcast(api.SSEEvent{Type: "ticket", Data: ticket.ID})
		}
	})
	if err == nil {
		watcher.Start(ctx)
		defer watcher.Stop()
	} else {
		app.logger.Printf("ticket watcher disabled: %v", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Starting web API at http://%s\n", addr)
	fmt.Printf("Worker pool endpoint at ws://%s/api/workers/ws\n", addr)
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := config.Save(config.Default(), path); err != nil {
		return err
	}

	fmt.Printf("Wrote default config to %s\n", path)
	fmt.Println("Set general.project_root and general.tickets_dir before syncing.")
	return nil
}
