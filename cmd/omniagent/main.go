package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/agent"
	"github.com/OmniCloudOrg/OmniAgent/pkg/api"
	"github.com/OmniCloudOrg/OmniAgent/pkg/config"
	"github.com/OmniCloudOrg/OmniAgent/pkg/cpi"
	"github.com/OmniCloudOrg/OmniAgent/pkg/instance"
	"github.com/OmniCloudOrg/OmniAgent/pkg/metrics"
	cruntime "github.com/OmniCloudOrg/OmniAgent/pkg/runtime"
	"github.com/OmniCloudOrg/OmniAgent/pkg/scheduler"
	"github.com/OmniCloudOrg/OmniAgent/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Create configuration from CLI args, config file, and environment
	cfg, err := config.FromArgs()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Setup zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(string(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	// Pretty console output for development
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	// Validate config
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Str("data_dir", cfg.DataDir).
		Str("runtime", cfg.Runtime).
		Str("cpi", cfg.CPIPath).
		Str("version", agent.Version).
		Msg("Starting OmniAgent")

	// Initialize storage
	store, err := storage.New(cfg.StoragePath(), cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer store.Close()

	// Load or generate the persistent agent identity
	ag, err := agent.Load(store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load agent identity")
	}
	log.Info().Str("agent_id", ag.ID).Msg("Agent identity loaded")

	// Initialize container runtime client
	runtimeClient, err := cruntime.New(cfg.Runtime, cfg.Socket, cfg.Network)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize container runtime")
	}
	defer func(runtimeClient cruntime.Client) {
		err := runtimeClient.Close()
		if err != nil {
			log.Error().Err(err).Msg("Error closing container runtime client")
		}
	}(runtimeClient)

	// Initialize instance manager and CPI engine
	manager := instance.NewManager(store, runtimeClient, ag.ID)
	engine := cpi.New(cfg.CPIPath, cpi.WithMaxConcurrent(cfg.MaxConcurrent))

	// Metrics push to the platform is optional
	var pusher *metrics.Pusher
	if cfg.MetricsURL != "" {
		pusher = metrics.NewPusher(cfg.MetricsURL)
		defer pusher.Close()
	}
	collector := metrics.NewCollector(manager, pusher)

	// Initialize and start scheduler (status sync + metrics collection)
	sched := scheduler.New(manager, collector)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Create API server
	apiServer := api.NewServer(manager, store, runtimeClient, engine, ag)

	// Start server
	addr := cfg.Addr()
	server := &http.Server{
		Addr:    addr,
		Handler: apiServer.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		sched.Stop()
		if err := server.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing server")
		}
	}()

	log.Info().Str("addr", addr).Msg("Server started")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}
