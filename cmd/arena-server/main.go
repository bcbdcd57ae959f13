package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quietbit/arena/internal/archive"
	appcfg "github.com/quietbit/arena/internal/config"
	"github.com/quietbit/arena/internal/game"
	"github.com/quietbit/arena/internal/gateway"
	"github.com/quietbit/arena/internal/match"
	"github.com/quietbit/arena/internal/obslog"
	"github.com/quietbit/arena/internal/rules"
	"github.com/quietbit/arena/internal/tccat"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer logger.Sync()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_url_invalid", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal("redis_unreachable", zap.Error(err))
	}
	cancelPing()

	controls, err := tccat.New(cfg.TimeControlDir)
	if err != nil {
		logger.Fatal("time_control_catalog_error", zap.Error(err))
	}

	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database_init_error", zap.Error(err))
		}
		defer repo.Close()
	}
	var notifier *archive.Notifier
	if cfg.WebhookURL != "" {
		notifier = archive.NewNotifier(cfg.WebhookURL)
	}
	archiver := archive.NewArchiver(repo, notifier, logger)

	registry := game.NewRegistry(cfg.MaxConcurrentGames, logger)
	mm := match.New(match.Config{
		Store:    match.NewStore(rdb),
		Registry: registry,
		Engine:   rules.NewEngine(),
		Clock:    clockwork.NewRealClock(),
		Logger:   logger,
		Grace:    time.Duration(cfg.GraceSeconds) * time.Second,
		Linger:   time.Duration(cfg.LingerSeconds) * time.Second,
		OnFinish: archiver.Deliver,
	})
	gw := gateway.NewServer(registry, mm, controls, logger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go mm.Run(sweepCtx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server_listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting_down")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	if err := registry.Shutdown(ctx); err != nil {
		logger.Warn("registry_shutdown_error", zap.Error(err))
	}
	if err := archiver.Drain(ctx); err != nil {
		logger.Warn("archive_drain_error", zap.Error(err))
	}
	_ = rdb.Close()
}
