package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the task processor and periodic sweeps without the HTTP API",
		Example: `  # Long-running worker
  posting worker

  # Run every sweep once, drain the due tasks and exit
  posting worker --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run the sweeps once and drain due tasks, then exit")

	return cmd
}

func runWorker(once bool) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		return drainOnce(ctx, a)
	}

	if err := a.services.Scheduler.Start(); err != nil {
		return err
	}
	a.log.Info().Strs("jobs", a.services.Scheduler.Jobs()).Msg("Worker started")

	// Blocks until the signal context is cancelled
	a.services.Tasks.StartProcessor(ctx)
	a.services.Tasks.StopProcessor()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.services.Scheduler.Stop(stopCtx)
}

// drainOnce runs every sweep and then every due task until the queue is
// empty or only holds tasks scheduled for later
func drainOnce(ctx context.Context, a *app) error {
	a.services.Scheduler.RunAll(ctx)

	total := 0
	for ctx.Err() == nil {
		n, err := a.services.Tasks.RunDue(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		total += n
	}

	a.log.Info().Int("tasks", total).Msg("Worker pass finished")
	return ctx.Err()
}
