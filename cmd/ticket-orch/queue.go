package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
)

var (
	enqueueMessage string
	enqueueFiles   []string
	enqueueWorker  string
	retryAttempts  int
	queueStatus    string
	lockForce      bool
)

func init() {
	// enqueue command
	enqueueCmd := &cobra.Command{
		Use:   "enqueue TICKET",
		Short: "Queue a commit for a finished ticket",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnqueue,
	}
	enqueueCmd.Flags().StringVarP(&enqueueMessage, "message", "m", "", "commit message")
	enqueueCmd.Flags().StringSliceVar(&enqueueFiles, "files", nil, "files to stage")
	enqueueCmd.Flags().StringVar(&enqueueWorker, "worker", "", "worker identity (default host-pid)")
	enqueueCmd.MarkFlagRequired("message")
	enqueueCmd.MarkFlagRequired("files")
	rootCmd.AddCommand(enqueueCmd)

	// drain command
	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Commit queued entries until the queue is empty",
		RunE:  runDrain,
	}
	rootCmd.AddCommand(drainCmd)

	// retry command
	retryCmd := &cobra.Command{
		Use:   "retry QUEUE_ID",
		Short: "Re-enter a failed queue entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runRetry,
	}
	retryCmd.Flags().IntVar(&retryAttempts, "max-attempts", 3, "give up after this many attempts")
	rootCmd.AddCommand(retryCmd)

	// queue command
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "List commit queue entries",
		RunE:  runQueue,
	}
	queueCmd.Flags().StringVar(&queueStatus, "status", "", "filter by status (queued, completed, failed)")
	rootCmd.AddCommand(queueCmd)

	// lock command
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Show who holds the commit lock",
		RunE:  runLock,
	}
	lockCmd.Flags().BoolVar(&lockForce, "force-release", false, "remove the lock regardless of holder")
	rootCmd.AddCommand(lockCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	worker := enqueueWorker
	if worker == "" {
		worker = app.orch.Owner()
	}

	queueID, err := app.orch.EnqueueCommit(worker, args[0], enqueueMessage, enqueueFiles)
	if err != nil {
		return err
	}

	fmt.Printf("Queued commit %d for ticket %s\n", queueID, args[0])
	return nil
}

func runDrain(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := app.orch.DrainQueue(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Drained queue: %d committed, %d failed\n", result.Processed, result.Failed)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	queueID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid queue id %q", args[0])
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	newID, err := app.orch.RetryEntry(ctx, queueID, retryAttempts)
	if err != nil {
		return err
	}

	fmt.Printf("Entry %d re-entered the queue as %d\n", queueID, newID)
	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	entries, err := app.queue.List(commitqueue.EntryStatus(queueStatus))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE_ID\tTICKET\tSTATUS\tATTEMPTS\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", e.QueueID, e.TicketID, e.Status, e.Attempts, e.Message)
	}
	w.Flush()

	return nil
}

func runLock(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lock := commitqueue.NewFileLock(cfg.Queue.LockPath, cfg.Queue.LockTimeout, cfg.Queue.PollInterval)

	if lockForce {
		if err := lock.ForceRelease(); err != nil {
			return err
		}
		fmt.Println("Lock released")
		return nil
	}

	owner, acquiredAt, held, err := lock.Holder()
	if err != nil {
		return err
	}
	if !held {
		fmt.Println("Lock is free")
		return nil
	}

	fmt.Printf("Lock held by %s since %s (%s ago)\n",
		owner, acquiredAt.Format(time.RFC3339), time.Since(acquiredAt).Round(time.Second))
	return nil
}
