package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Bezludnev/parsingCarAvalible/api"
	"github.com/Bezludnev/parsingCarAvalible/config"
	"github.com/Bezludnev/parsingCarAvalible/feed"
	"github.com/Bezludnev/parsingCarAvalible/httputil"
	"github.com/Bezludnev/parsingCarAvalible/logging"
	"github.com/Bezludnev/parsingCarAvalible/scheduler"
	"github.com/Bezludnev/parsingCarAvalible/services"
	"github.com/Bezludnev/parsingCarAvalible/storage"
)

var (
	checkNow = flag.Bool("check", false, "Run one check pass and exit")
	serve    = flag.Bool("serve", true, "Run the HTTP API alongside the daemon")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, logWriter, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		log.Warn().Err(err).Msg("file logging unavailable, console only")
	}
	if logWriter != nil {
		defer logWriter.Close()
	}

	log.Info().Int("filters", len(cfg.Filters)).Msg("starting carwatch")
	for id, filter := range cfg.Filters {
		log.Info().Str("id", id).Str("name", filter.Name).Msg("tracked filter")
	}

	ctx := context.Background()

	var store services.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pgStore.Close()
		log.Info().Str("dsn", maskConnectionString(cfg.DatabaseURL)).Msg("connected to postgres")
		store = pgStore
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (data is lost on exit)")
		store = storage.NewMemoryStore()
	}

	ops, err := storage.NewSQLiteStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open sqlite")
	}
	defer ops.Close()
	log.Info().Str("path", cfg.OpsDBPath).Msg("operational database ready")

	source, err := buildSource(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure snapshot source")
	}

	// Requests buffer on a channel; the drain goroutine is where a real
	// transport adapter would hang. Logging is the built-in transport.
	notifier := services.NewChannelNotifier(cfg.Alerts.QueueSize)
	sink := services.NewLogNotifier(log)

	gate := services.NewTriggerGate(store, notifier, cfg.Alerts.MinDropNotify, log)
	monitor := services.NewMonitorService(store, source, gate, services.MonitorConfig{
		StaleAfter:  cfg.Monitor.StaleAfter,
		BatchLimit:  cfg.Monitor.BatchLimit,
		Concurrency: cfg.Monitor.Concurrency,
	}, log)
	analytics := services.NewAnalyticsService(store, cfg.Monitor.StaleAfter)
	scorer := services.NewScorer(store, services.DesperationConfig{
		HalfLifeDays: cfg.Scoring.HalfLifeDays,
		AgingWeight:  cfg.Scoring.AgingWeight,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for req := range notifier.Requests() {
			if err := sink.Notify(ctx, req); err != nil {
				log.Error().Err(err).Str("dedupe_key", req.DedupeKey).Msg("notification sink failed")
			}
		}
	}()

	sched := scheduler.New(cfg, monitor, analytics, gate, ops, log)

	if *checkNow {
		log.Info().Msg("running one-shot check pass")
		report, err := sched.TriggerNow(ctx, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("check pass failed")
		}
		log.Info().
			Str("pass_id", report.PassID.String()).
			Int("checked", report.Checked).
			Int("changed", report.Changed).
			Int("unavailable", report.Unavailable).
			Int("errors", report.Errors).
			Msg("check pass complete")
		return
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	var server *api.Server
	if *serve {
		server = api.NewServer(cfg.API.Addr, monitor, analytics, scorer, ops, cfg.Filters, log)
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
	}

	log.Info().Msg("daemon running, press ctrl+c to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	sched.Stop()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api shutdown error")
		}
	}
}

func buildSource(cfg *config.Config) (services.SnapshotSource, error) {
	switch {
	case cfg.Feed.URL != "":
		client := httputil.NewFeedClient(cfg.Feed.Timeout, cfg.Feed.Proxy)
		return feed.NewHTTPSource(client, cfg.Feed.URL, cfg.FilterIDs()), nil
	case cfg.Feed.Path != "":
		return feed.NewFileSource(cfg.Feed.Path), nil
	default:
		return nil, fmt.Errorf("either FEED_URL or FEED_PATH must be set")
	}
}

// maskConnectionString masks the password in a connection string for logging.
func maskConnectionString(connStr string) string {
	schemeEnd := strings.Index(connStr, "://")
	if schemeEnd < 0 {
		return connStr
	}
	rest := connStr[schemeEnd+3:]
	atIdx := strings.Index(rest, "@")
	if atIdx < 0 {
		return connStr
	}
	userInfo := rest[:atIdx]
	colonIdx := strings.Index(userInfo, ":")
	if colonIdx < 0 {
		return connStr
	}
	return connStr[:schemeEnd+3] + userInfo[:colonIdx] + ":****" + rest[atIdx:]
}
