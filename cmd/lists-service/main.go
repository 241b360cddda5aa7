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
	"listsync/internal/database"
	"listsync/internal/metrics"
	"listsync/internal/notifier"
	"listsync/internal/queue"
	"listsync/internal/repository"
	"listsync/internal/routes"
	"listsync/pkg/logger"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Warn(context.Background(), "Reading .env failed", "error", err)
	}
	if err := run(); err != nil {
		logger.Error(context.Background(), "Lists service failed", "error", err)
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

	// The list cache is optional; without Redis every read goes to the database.
	var rdb *redis.Client
	if rdb, err = cache.NewClient(ctx, cfg.RedisURL, cfg.RedisPoolSize); err != nil {
		logger.Warn(ctx, "List cache disabled", "error", err)
	} else {
		defer rdb.Close()
	}

	peer := notifier.New(cfg.ItemsServiceURL,
		notifier.WithAttempts(cfg.NotifyAttempts),
		notifier.WithDelay(cfg.NotifyDelay),
		notifier.WithTimeout(cfg.NotifyTimeout),
		notifier.WithToken(cfg.InternalToken),
	)

	var purges controller.PurgePublisher
	if len(cfg.KafkaBrokers) > 0 {
		queue.EnsureTopic(ctx, cfg.KafkaBrokers, cfg.KafkaPurgeTopic, cfg.KafkaPartitions)
		p := queue.NewPublisher(cfg.KafkaBrokers, cfg.KafkaPurgeTopic)
		defer p.Close()
		purges = p
		logger.Info(ctx, "Purge fallback enabled", "topic", p.Topic())
	}

	lists := controller.NewLists(repository.NewLists(db), cache.NewLists(rdb, time.Duration(cfg.CacheTTL)*time.Second), peer, purges)

	promReg := metrics.NewRegistry()
	metrics.Register(promReg)

	checks := []controller.Check{{Name: "database", Ping: db.PingContext}}
	if rdb != nil {
		checks = append(checks, controller.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}
	server := &http.Server{
		Addr:         ":" + cfg.ListsHTTPPort,
		Handler:      routes.ListsRouter(routes.Auth{JWTSecret: cfg.JWTSecret, InternalToken: cfg.InternalToken}, lists, promReg, controller.Ready(checks...)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "HTTP server listening", "port", cfg.ListsHTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		lists.Wait()
		logger.Info(context.Background(), "Server stopped")
		return err
	})
	return g.Wait()
}
