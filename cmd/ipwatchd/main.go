package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/sentriq/ipwatch/internal/blocklist"
	"github.com/sentriq/ipwatch/internal/config"
	"github.com/sentriq/ipwatch/internal/detect"
	"github.com/sentriq/ipwatch/internal/findings"
	"github.com/sentriq/ipwatch/internal/geo"
	"github.com/sentriq/ipwatch/internal/logging"
	"github.com/sentriq/ipwatch/internal/ratelimit"
	"github.com/sentriq/ipwatch/internal/report"
	"github.com/sentriq/ipwatch/internal/scan"
	"github.com/sentriq/ipwatch/internal/server"
	"github.com/sentriq/ipwatch/internal/store"
	"github.com/sentriq/ipwatch/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	connString := cfg.Database.Postgres.ConnString()

	// Run database migrations
	logger.Info("running database migrations")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pg, err := store.NewPostgres(context.Background(), connString, cfg.Database.Postgres.Timeout)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()

	// Geolocation provider; events are stored without location when no
	// mmdb is configured.
	var provider geo.Provider = geo.Noop{}
	if cfg.Geo.MMDBPath != "" {
		mm, err := geo.NewMaxMind(cfg.Geo.MMDBPath)
		if err != nil {
			log.Fatalf("Failed to open geolocation database: %v", err)
		}
		provider = geo.NewCached(mm, cfg.Geo.CacheTTL)
	}
	defer provider.Close()

	rules := ratelimit.Rules{
		Anonymous: ratelimit.Rule{Limit: cfg.Limits.Anonymous.Limit, Window: cfg.Limits.Anonymous.Window},
		Authed:    ratelimit.Rule{Limit: cfg.Limits.Authed.Limit, Window: cfg.Limits.Authed.Window},
		Scopes:    make(map[string]ratelimit.Rule, len(cfg.Limits.Scopes)),
	}
	for scope, rc := range cfg.Limits.Scopes {
		rules.Scopes[scope] = ratelimit.Rule{Limit: rc.Limit, Window: rc.Window}
	}

	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		limiter, err = ratelimit.NewRedisLimiter(cfg.Redis.URL, rules)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
	} else {
		limiter = ratelimit.NewMemoryLimiter(rules)
	}
	defer limiter.Close()

	bl := blocklist.New(pg.Blocklist(), cfg.Blocklist.CacheTTL, logger.With("component", "blocklist"))
	tr := tracker.New(bl, limiter, pg.Events(), provider, cfg.Limits.FailOpen,
		logger.With("component", "tracker"))

	detectCfg := detect.Config{
		Window:          cfg.Detect.Window,
		VolumeThreshold: cfg.Detect.VolumeThreshold,
		RateWindow:      cfg.Detect.RateWindow,
		RateThreshold:   cfg.Detect.RateThreshold,
		SensitivePaths:  cfg.Detect.SensitivePaths,
		PathThreshold:   cfg.Detect.PathThreshold,
		GeoMinInterval:  cfg.Detect.GeoMinInterval,
		BurstCount:      cfg.Detect.BurstCount,
		BurstWindow:     cfg.Detect.BurstWindow,
	}
	engine := detect.NewEngine(detectCfg, logger.With("component", "detect"))
	sink := findings.NewSink(pg.Findings(), logger.With("component", "findings"))
	orch := scan.New(pg.Events(), engine, sink, detectCfg, scan.Config{
		Lookback:   cfg.Scan.Lookback,
		Workers:    cfg.Scan.Workers,
		Retention:  cfg.Scan.Retention,
		FindingTTL: cfg.Scan.FindingTTL,
	}, logger.With("component", "scan"))
	reporter := report.New(pg.Events(), pg.Findings())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go orch.Start(ctx, cfg.Scan.Interval)

	handler := server.NewHandler(tr, bl, sink, orch, reporter, logger.With("component", "http"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewMux(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("ipwatchd listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
