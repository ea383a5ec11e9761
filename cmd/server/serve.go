package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/multichannel-posting-api/internal/api"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the task processor and the periodic sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(!skipMigrations)
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on start")

	return cmd
}

func runServe(migrate bool) error {
	a, err := newApp(migrate)
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.log
	log.Info().Msg("Starting multi-channel posting API server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.translator.Health(checkCtx); err != nil {
		log.Warn().Err(err).Msg("Translation gateway is not healthy, translations will be retried")
	}
	cancel()

	// Start background task processor
	go a.services.Tasks.StartProcessor(ctx)
	log.Info().Msg("Background task processor started")

	if err := a.services.Scheduler.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      api.NewRouter(a.services, a.db, a.registry, log),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", a.cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.services.Scheduler.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Scheduler stop failed")
	}
	a.services.Tasks.StopProcessor()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	log.Info().Msg("Server exited gracefully")
	return nil
}
