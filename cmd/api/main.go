package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"outreach/internal/approval"
	"outreach/internal/audit"
	"outreach/internal/config"
	"outreach/internal/domain"
	"outreach/internal/engine"
	"outreach/internal/httpapi"
	"outreach/internal/ledger"
	"outreach/internal/logging"
	"outreach/internal/observability"
	"outreach/internal/policy"
	"outreach/internal/providers/adspower"
	"outreach/internal/store/pg"
)

// adsProvider adapts the concrete AdsPower client to the engine's provider
// interface.
type adsProvider struct {
	c *adspower.Client
}

func (p adsProvider) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	return p.c.ListProfiles(ctx)
}

func (p adsProvider) Acquire(ctx context.Context, profileID string) (engine.Session, error) {
	s, err := p.c.Acquire(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func main() {
	_ = godotenv.Load()

	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	if err := db.Ping(ctx); err != nil {
		slog.Error("api db unreachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	store := pg.New(db)
	recorder := audit.NewRecorder(store)

	ads := adspower.NewClient(cfg.AdsPowerEndpoint, cfg.AdsPowerAPIKey, cfg.AdsPowerRPS, cfg.AdsPowerBurst)
	if err := ads.TestConnection(ctx); err != nil {
		// The dashboard side of the API still works without the local
		// agent; only sends require it.
		slog.Warn("adspower agent unreachable at startup", "endpoint", cfg.AdsPowerEndpoint, "err", err)
	}

	usageLedger := ledger.New(store)
	usageLedger.DailyCap = cfg.ProfileDailyCap
	usageLedger.Cooldown = time.Duration(cfg.ProfileCooldownDays) * 24 * time.Hour

	contactPolicy := policy.New(store)
	contactPolicy.Cooldown = time.Duration(cfg.SellerCooldownDays) * 24 * time.Hour

	queue := approval.New(store, contactPolicy, recorder)

	eng := engine.New(store, usageLedger, contactPolicy, adsProvider{c: ads}, recorder)
	eng.PaceMin = time.Duration(cfg.PaceMinMs) * time.Millisecond
	eng.PaceMax = time.Duration(cfg.PaceMaxMs) * time.Millisecond

	s := httpapi.New()
	api := &httpapi.API{
		Store:          store,
		Queue:          queue,
		Engine:         eng,
		AdsPower:       ads,
		Audit:          recorder,
		DailyCap:       cfg.ProfileDailyCap,
		SellerCooldown: contactPolicy.Cooldown,
	}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpapi.Healthz())
	s.Mux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))

	handler := httpapi.Logging(httpapi.Metrics(observability.APIRequests)(s.Mux))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		eng.Stop()
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}
