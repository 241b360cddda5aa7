package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"listsync/internal/cache"
	"listsync/internal/config"
	"listsync/internal/controller"
	"listsync/internal/coordination"
	"listsync/internal/database"
	"listsync/internal/lease"
	"listsync/internal/metrics"
	"listsync/internal/queue"
	"listsync/internal/realtime"
	"listsync/internal/repository"
	"listsync/internal/room"
	"listsync/internal/routes"
	"listsync/internal/worker"
	"listsync/pkg/logger"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Warn(context.Background(), "Reading .env failed", "error", err)
	}
	if err := run(); err != nil {
		logger.Error(context.Background(), "Items service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Get()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenAndMigrate(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DBPoolSize)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis is optional unless the lease store or the relay needs it.
	var rdb *redis.Client
	if cfg.LeaseBackend == lease.BackendRedis || cfg.RoomRelay == "redis" {
		if rdb, err = cache.NewClient(ctx, cfg.RedisURL, cfg.RedisPoolSize); err != nil {
			return err
		}
		defer rdb.Close()
	}

	leases, err := lease.New(cfg.LeaseBackend, cfg.LeaseTTL, rdb, db)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Lease store ready", "backend", cfg.LeaseBackend, "ttl", cfg.LeaseTTL)

	registry := room.NewRegistry()
	var out room.Broadcaster = registry
	if cfg.RoomRelay == "redis" {
		relay := room.NewRedisRelay(rdb, cfg.RelayChannel, registry)
		if err := relay.Start(ctx); err != nil {
			return err
		}
		out = relay
	}

	svc := coordination.NewService(repository.NewItems(db), leases)
	disp := coordination.NewDispatcher(svc, registry, out, cfg.MutationLimit)

	promReg := metrics.NewRegistry()
	metrics.Register(promReg)

	checks := []controller.Check{{Name: "database", Ping: db.PingContext}}
	if rdb != nil {
		checks = append(checks, controller.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}
	router := routes.ItemsRouter(
		routes.Auth{JWTSecret: cfg.JWTSecret, InternalToken: cfg.InternalToken},
		controller.NewItems(svc, out),
		realtime.NewServer(registry, disp, cfg.SendBuffer),
		promReg,
		controller.Ready(checks...),
	)
	server := &http.Server{
		Addr:        ":" + cfg.ItemsHTTPPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "HTTP server listening", "port", cfg.ItemsHTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s, ok := leases.(*lease.SQL); ok {
		g.Go(func() error {
			s.Run(gctx, cfg.LeaseSweep)
			return nil
		})
	}
	if len(cfg.KafkaBrokers) > 0 {
		queue.EnsureTopic(gctx, cfg.KafkaBrokers, cfg.KafkaPurgeTopic, cfg.KafkaPartitions)
		w := worker.New(cfg.KafkaBrokers, cfg.KafkaPurgeTopic, svc)
		g.Go(func() error { return w.Run(gctx) })
	} else {
		logger.Info(ctx, "Purge worker disabled (no Kafka brokers)")
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(server, registry, leases)
	})
	return g.Wait()
}

func shutdown(server *http.Server, registry *room.Registry, leases lease.Store) error {
	ctx := context.Background()
	logger.Info(ctx, "Shutting down server")
	registry.Close()
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	if m, ok := leases.(*lease.Memory); ok {
		m.Close()
	}
	logger.Info(ctx, "Server stopped")
	return err
}
