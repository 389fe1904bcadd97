package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pytheus/watchdog/internal/api"
	"github.com/pytheus/watchdog/internal/checker"
	"github.com/pytheus/watchdog/internal/config"
	"github.com/pytheus/watchdog/internal/deadman"
	"github.com/pytheus/watchdog/internal/incidents"
	"github.com/pytheus/watchdog/internal/notifications"
	"github.com/pytheus/watchdog/internal/storage"
	"github.com/pytheus/watchdog/internal/triage"
)

func main() {
	configPath := flag.String("config", "watchdog.yaml", "path to configuration file")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "watchdog").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	db, err := storage.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init db")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close db")
		}
	}()

	outcomeRepo := storage.NewOutcomeRepo(db)
	incidentRepo := storage.NewIncidentRepo(db)
	deadmanRepo := storage.NewDeadmanRepo(db)

	dispatcher := notifications.NewDispatcher(cfg.Notifications, log)

	ledger := incidents.NewLedger(incidentRepo, dispatcher, log)
	if err := ledger.Rebuild(); err != nil {
		log.Fatal().Err(err).Msg("failed to rebuild incident index")
	}

	monitor := deadman.NewMonitor(deadmanRepo, ledger, log)
	if err := monitor.Seed(cfg.DeadmanSwitch); err != nil {
		log.Fatal().Err(err).Msg("failed to seed deadman switches")
	}

	confirmer := triage.New(cfg.AI.APIKey, cfg.AI.Model, "", log)
	prober := checker.NewProber(outcomeRepo, ledger, confirmer, cfg.Retry, log)

	scheduler := checker.NewScheduler(prober, monitor, dispatcher, outcomeRepo, cfg.Targets, cfg.Digest, log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &api.Server{
		Outcomes:  outcomeRepo,
		Incidents: incidentRepo,
		Switches:  deadmanRepo,
		Monitor:   monitor,
		Ledger:    ledger,
		Targets:   cfg.Targets,
		BaseURL:   cfg.BaseURL,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.SetupRouter(server),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-sigChan
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	scheduler.Stop()
	log.Info().Msg("server stopped")
}
