package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"topoview/internal/config"
	"topoview/internal/dashboard"
	"topoview/internal/db"
	"topoview/internal/enrichment/rdns"
	"topoview/internal/enrichment/snmp"
	"topoview/internal/httpapi"
	"topoview/internal/inventory"
	"topoview/internal/layout"
	"topoview/internal/metrics"
	"topoview/internal/refresh"
	"topoview/internal/session"
	"topoview/internal/topology"
)

func main() {
	cfg, cfgPath, err := config.Load()
	if err != nil {
		logger := httpapi.NewLogger(envOr("LOG_LEVEL", "info"))
		logger.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)
	if cfgPath != "" {
		logger.Info().Str("path", cfgPath).Msg("config loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var pool *db.Pool
	if cfg.Database.URL != "" {
		p, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	engine := layout.NewEngine(layout.Config{
		MaxIterations:   cfg.Layout.MaxIterations,
		EnergyThreshold: cfg.Layout.EnergyThreshold,
	}, logger, m)
	policy, _ := layout.ParsePolicy(cfg.Layout.Policy)
	sess := session.New(session.Options{
		Engine:   engine,
		Policy:   policy,
		Viewport: cfg.Viewport(),
		Logger:   logger,
	})

	networkID := cfg.Dashboard.NetworkID
	var store *db.SnapshotStore
	if pool != nil {
		store = db.NewSnapshotStore(pool.Queries())
		restoreSnapshot(ctx, logger, store, sess, networkID)
	}

	var worker *refresh.Worker
	if cfg.Dashboard.APIKey != "" {
		worker = newWorker(logger, cfg, sess, store, m)
		go worker.Run(ctx)
	} else {
		logger.Warn().Msg("no dashboard api key configured, serving cached topology only")
	}

	go runLayout(ctx, sess, cfg.Layout.TickInterval.Duration())

	opts := httpapi.Options{View: sess, Metrics: m}
	if pool != nil {
		opts.DB = pool
	}
	if worker != nil {
		opts.Refresher = worker
	}
	h := httpapi.NewHandler(logger, opts)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("topoview listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func newWorker(logger zerolog.Logger, cfg *config.Config, sess *session.Session, store *db.SnapshotStore, m *metrics.Metrics) *refresh.Worker {
	client := dashboard.New(dashboard.Options{
		BaseURL:          cfg.Dashboard.BaseURL,
		APIKey:           cfg.Dashboard.APIKey,
		Timeout:          cfg.Dashboard.Timeout.Duration(),
		MaxAttempts:      cfg.Dashboard.MaxAttempts,
		RetryBaseDelay:   cfg.Dashboard.RetryBaseDelay.Duration(),
		PerPage:          cfg.Dashboard.PerPage,
		InsecureFallback: cfg.Dashboard.InsecureFallback,
		Logger:           logger,
		Recorder:         m,
	})

	opts := refresh.Options{
		NetworkID:      cfg.Dashboard.NetworkID,
		Interval:       cfg.Refresh.Interval.Duration(),
		MaxBackoff:     cfg.Refresh.MaxBackoff.Duration(),
		MaxRuntime:     cfg.Refresh.MaxRuntime.Duration(),
		ClientLookback: cfg.Dashboard.ClientLookback.Duration(),
		Builder:        topology.NewBuilder(topology.Options{Logger: logger}),
	}
	if store != nil {
		opts.Store = store
	}
	if path := cfg.Inventory.SupplementFile; path != "" {
		opts.Supplement = inventory.SupplementFile{Path: path}
	}

	if sc := cfg.Enrichment.SNMP; sc.Enabled {
		// Validate already rejected malformed entries.
		allow, _ := cfg.SNMPAllowlist()
		walker := snmp.NewClient(snmp.Config{
			Community: sc.Community,
			Version:   sc.Version,
			Port:      sc.Port,
			Timeout:   sc.Timeout.Duration(),
			Retries:   sc.Retries,
		})
		opts.Links = snmp.NewDiscoverer(logger, walker, snmp.DiscovererOptions{
			LLDP:      sc.LLDP,
			CDP:       sc.CDP,
			Allowlist: allow,
		})
	}
	if rc := cfg.Enrichment.RDNS; rc.Enabled {
		resolver := rdns.New(logger, rdns.Options{Server: rc.Server, Timeout: rc.Timeout.Duration()})
		logger.Info().Str("server", resolver.Server()).Msg("reverse dns enrichment enabled")
		opts.Names = resolver
	}

	return refresh.New(logger, client, sess, opts, m)
}

// restoreSnapshot shows the cached graph for networkID until the first
// refresh publishes.
func restoreSnapshot(ctx context.Context, logger zerolog.Logger, store *db.SnapshotStore, sess *session.Session, networkID string) {
	if networkID == "" {
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	g, ok, err := store.LoadSnapshot(loadCtx, networkID)
	switch {
	case err != nil:
		logger.Warn().Err(err).Str("network_id", networkID).Msg("failed to load cached topology")
	case ok && sess.Restore(g):
		logger.Info().
			Str("network_id", networkID).
			Int("nodes", len(g.Nodes)).
			Time("generated_at", g.GeneratedAt).
			Msg("showing cached topology until the first refresh")
	}
}

// runLayout advances the layout simulation on a fixed tick until ctx ends.
func runLayout(ctx context.Context, sess *session.Session, tick time.Duration) {
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.Step()
		}
	}
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
