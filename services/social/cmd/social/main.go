package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/internal/ratelimit"
	"github.com/anaparv/anaparv-pep-project/internal/util"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/app"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/config"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/security"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/server"
)

const rateWindow = time.Minute

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	shutdownTimeout, err := config.ParseShutdownTimeout(cfg.ShutdownTimeout)
	if err != nil {
		log.Fatalf("failed to parse shutdown timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trustedProxies: %v", err)
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		StorageBackend: cfg.Storage,
		DatabaseURL:    cfg.DatabaseURL,
		MaxOpenConns:   cfg.MaxOpenConns,
		Metrics:        m,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	serverCfg := server.Config{
		App:                appCore,
		Metrics:            m,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("failed to init redis: %v", err)
		}
		defer redisClient.Close()

		alerter, err := security.NewAuditAlerter(redisClient, "social:alerts")
		if err != nil {
			log.Fatalf("failed to init audit alerter: %v", err)
		}
		serverCfg.Alerter = alerter
	}
	if n := cfg.RegisterRateLimitPerMinute; n > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "social:ratelimit:register", n, rateWindow)
		if err != nil {
			log.Fatalf("failed to init register limiter: %v", err)
		}
		serverCfg.RegisterLimiter = limiter
	}
	if n := cfg.LoginRateLimitPerMinute; n > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "social:ratelimit:login", n, rateWindow)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
		serverCfg.LoginLimiter = limiter
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(serverCfg).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("social server listening", "addr", addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "timeout", shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
