package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/gatherhq/gather-ui-api/config"
	"github.com/gatherhq/gather-ui-api/internal/observability/statsd"
)

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second

	// bootstrapTimeout bounds the initial session resolution so a stalled
	// identity provider cannot block startup indefinitely.
	bootstrapTimeout = 30 * time.Second
)

// RunConfig carries everything RunWithShutdown needs.
type RunConfig struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildMetricsSink initialises the StatsD client when metrics are enabled.
// Returns nil on failure; metrics are never load-bearing.
func buildMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

// RunWithShutdown assembles the session stack, starts the HTTP server, and
// blocks until a shutdown signal arrives or startup fails.
func RunWithShutdown(cfg *RunConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("run config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metrics statsd.Sink
	if sink := buildMetricsSink(cfg.Config.Observability.Metrics, logger); sink != nil {
		metrics = sink
	}

	stack, err := BuildSessionStack(SessionStackConfig{
		Config:      *cfg.Config,
		DB:          cfg.DB,
		RedisClient: cfg.RedisClient,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer stack.Manager.Close()

	server := NewHTTPServer(&HTTPServerConfig{
		Config: cfg.Config,
		Stack:  stack,
		Logger: logger,
	})

	return superviseServer(serviceCtx, server, func(startCtx context.Context) error {
		bootCtx, bootCancel := context.WithTimeout(startCtx, bootstrapTimeout)
		defer bootCancel()
		if bootErr := stack.Manager.Initialize(bootCtx); bootErr != nil {
			logger.Warn("session bootstrap incomplete, continuing unauthenticated", "error", bootErr)
		}
		return nil
	}, logger)
}

// superviseServer runs the listener, the shutdown watcher, and an optional
// startup task under one errgroup with shared cancellation. A listener
// failure cancels the group, which wakes the watcher and tears the server
// down; it returns once every leg has stopped.
func superviseServer(ctx context.Context, server *http.Server, startup func(context.Context) error, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	if startup != nil {
		g.Go(func() error { return startup(gctx) })
	}

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serveErr)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("shutting down services...", "signal", sig.String())
		case <-gctx.Done():
			// A sibling failed or the parent context ended; stop the
			// listener on the way out.
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancelShutdown()
		return ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  server,
			Logger:  logger,
		})
	})

	return g.Wait()
}
