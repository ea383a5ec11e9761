package main

import (
	"fmt"
	"os"

	"github.com/multichannel-posting-api/internal/config"
	"github.com/multichannel-posting-api/internal/database"
	"github.com/multichannel-posting-api/internal/gateway/botgateway"
	"github.com/multichannel-posting-api/internal/gateway/translation"
	"github.com/multichannel-posting-api/internal/metrics"
	"github.com/multichannel-posting-api/internal/repository"
	"github.com/multichannel-posting-api/internal/service"
	"github.com/multichannel-posting-api/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posting",
		Short: "Multi-channel post orchestrator",
		Long: `Authors a post once, fans it out to every channel of a group,
translates the variants and publishes them through the bot gateway.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newLanguagesCmd())

	return cmd
}

// app is the wiring shared by the serve and worker commands
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	db         *database.DB
	registry   *prometheus.Registry
	translator *translation.Client
	services   *service.Services
}

func newApp(migrate bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if migrate {
		if err := db.RunMigrations(cfg.Server.MigrationsPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	translator := translation.NewClient(cfg.Translation)
	gateways := service.Gateways{
		Bot:        botgateway.NewClient(cfg.BotGateway),
		Translator: translator,
	}
	services := service.NewServices(repository.New(db), gateways, metrics.New(reg), cfg, log)

	return &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		registry:   reg,
		translator: translator,
		services:   services,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}
