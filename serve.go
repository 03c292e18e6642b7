package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"mabletask/agent/agent"
	"mabletask/agent/config"
	"mabletask/agent/database"
	"mabletask/agent/handlers"
	"mabletask/agent/logger"
	"mabletask/agent/metrics"
	"mabletask/agent/middleware"
	"mabletask/agent/models"
	"mabletask/agent/store"
	"mabletask/agent/utils"
)

const (
	pageTokenTTL        = 24 * time.Hour
	ledgerFlushInterval = 2 * time.Second
	shutdownTimeout     = 5 * time.Second
	minSweepInterval    = time.Minute
)

var errMissingJWTSecret = errors.New("JWT_SECRET_KEY is required to serve")

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the host bridge HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.ConfigPath)
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Development: cfg.Service.Debug})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runServe(cmd.Context(), cfg, log)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config, log logger.Logger) error {
	if cfg.Service.JWTSecret == "" {
		return errMissingJWTSecret
	}
	if !cfg.Service.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// --- Delivery ledger (ClickHouse, optional) ---
	var (
		ledger *store.Ledger
		stats  *handlers.StatsHandlers
	)
	chClient, err := database.NewClickHouseDB(cfg.Ledger)
	switch {
	case errors.Is(err, database.ErrLedgerDisabled):
		log.Info("Delivery ledger disabled")
	case err != nil:
		return fmt.Errorf("initialize ClickHouse: %w", err)
	default:
		defer chClient.Close()
		ledgerStore := store.NewLedgerStore(chClient, log)
		ledger = store.NewLedger(ledgerStore, cfg.Ledger.BatchSize*10, cfg.Ledger.BatchSize, ledgerFlushInterval, log)
		ledger.Start()
		defer ledger.Stop()
		stats = handlers.NewStatsHandlers(ledgerStore, log)
	}

	// --- Installation registry (Postgres, optional) ---
	var auth middleware.Authenticator = middleware.StaticInstallations{OrgID: cfg.Agent.OrgID, APIKey: cfg.Agent.APIKey}
	dbClient, err := database.NewPostgresDB(cfg.Postgres)
	switch {
	case errors.Is(err, database.ErrRegistryDisabled):
		log.Info("Installation registry disabled, using configured installation", logger.String("org_id", cfg.Agent.OrgID))
	case err != nil:
		return fmt.Errorf("initialize PostgreSQL: %w", err)
	default:
		defer dbClient.Close()
		auth = store.NewInstallStore(dbClient.DB)
	}

	// --- Persistent storage scope (Redis, optional) ---
	redisClient, err := database.NewRedisClient(cfg.Redis)
	switch {
	case errors.Is(err, database.ErrEmptyRedisAddress):
		log.Info("Redis not configured, pages use in-memory storage")
		redisClient = nil
	case err != nil:
		return fmt.Errorf("initialize Redis: %w", err)
	default:
		defer redisClient.Close()
	}

	tokens := utils.NewPageTokens(cfg.Service.JWTSecret, pageTokenTTL, nil)
	pages := handlers.NewPageHandlers(newPageFactory(cfg, redisClient, ledger, log, m), tokens, cfg.Service.PageIdleTimeout, log, m)

	router := handlers.NewRouter(handlers.RouterConfig{
		Pages:      pages,
		Stats:      stats,
		Auth:       auth,
		Tokens:     tokens,
		CORSOrigin: cfg.Service.CORSOrigin,
		Metrics:    promhttp.Handler(),
		Log:        log,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pages.RunSweeper(ctx, max(cfg.Service.PageIdleTimeout/4, minSweepInterval))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Bridge starting", logger.Int("port", cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("bridge failed to start: %w", err)
	case <-ctx.Done():
	}
	log.Info("Shutting down bridge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Bridge forced to shutdown", logger.Error(err))
	}
	pages.Shutdown(shutdownCtx)
	log.Info("Bridge exiting")
	return nil
}

// newPageFactory builds one agent per opened page. Each agent owns its
// delivery dispatcher; a configured ledger mirrors every delivered request.
func newPageFactory(cfg *config.Config, rdb *redis.Client, ledger *store.Ledger, log logger.Logger, m *metrics.Metrics) handlers.PageFactory {
	return func(inst *models.Installation, apiKey, pageID string, req models.OpenPageRequest) (*agent.Agent, error) {
		deps := agent.Deps{
			Log:     log.With(logger.String("page_id", pageID), logger.String("org_id", inst.OrgID)),
			Metrics: m,
		}
		if ledger != nil {
			deps.Ledger = ledger
		}
		if rdb != nil && req.VisitorID != "" {
			if u, err := url.Parse(req.Load.URL); err == nil && u.Hostname() != "" {
				deps.Store = store.NewRedisStore(rdb, u.Hostname(), req.VisitorID)
			}
		}
		return agent.New(cfg.Agent.WithInstallation(apiKey, inst.OrgID), deps)
	}
}
