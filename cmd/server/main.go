package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/orderfeed/internal/adapter/httpserver"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/adapter/postgres"
	"github.com/pscheid92/orderfeed/internal/adapter/websocket"
	"github.com/pscheid92/orderfeed/internal/app"
	"github.com/pscheid92/orderfeed/internal/broadcast"
	"github.com/pscheid92/orderfeed/internal/platform/config"
	"github.com/pscheid92/orderfeed/internal/platform/logging"
	"github.com/pscheid92/orderfeed/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const startupTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, dbMetrics *metrics.DatabaseMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(dbMetrics))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if cfg.RunMigrations {
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	return pool
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	reg := metrics.NewRegistry()
	broadcastMetrics := metrics.NewBroadcastMetrics(reg)
	relayMetrics := metrics.NewRelayMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)
	dbMetrics := metrics.NewDatabaseMetrics(reg)

	pool := setupDB(cfg, dbMetrics)
	defer pool.Close()

	orders := postgres.NewOrderRepo(pool, cfg.OrdersTable)

	registry := broadcast.NewRegistry(broadcastMetrics, broadcast.Options{
		SendBuffer:   cfg.SendBuffer,
		WriteTimeout: cfg.WriteTimeout,
	})
	hub := broadcast.NewHub(registry, broadcastMetrics, clock)
	relay := app.NewRelay(orders, hub, relayMetrics, cfg.BootstrapLimit)

	listener := postgres.NewListener(postgres.Dialer(cfg.DatabaseURL), cfg.NotifyChannel, relay, relayMetrics)
	listenCtx, cancelListen := context.WithTimeout(context.Background(), startupTimeout)
	err := listener.Listen(listenCtx)
	cancelListen()
	if err != nil {
		slog.Error("Failed to start listener", "error", err)
		os.Exit(1)
	}

	monitor := broadcast.NewMonitor(registry, clock, cfg.PingInterval, broadcastMetrics)

	limits := websocket.NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.AcceptRate, cfg.AcceptBurst, clock)
	acceptor := websocket.NewAcceptor(registry, relay, limits,
		websocket.NewCheckOrigin(cfg.Origins(), cfg.IsDevelopment()), broadcastMetrics)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: orders.Ping},
		{Name: "listener", Check: func(context.Context) error {
			if !listener.Connected() {
				return errors.New("listener not connected")
			}
			return nil
		}},
		{Name: "snapshots", Check: func(context.Context) error {
			if relay.BreakerState() == circuitbreaker.OpenState {
				return errors.New("snapshot circuit breaker open")
			}
			return nil
		}},
	}
	srv := httpserver.NewServer(cfg, relay, acceptor, healthChecks, reg, httpMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		registry.CloseAll("server shutting down")
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		pool.Close()
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
