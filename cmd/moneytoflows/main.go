// Package main запускает HTTP-сервер реферального сервиса MoneyToFlows.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/moneytoflows/internal/config"
	"github.com/mmeshcher/moneytoflows/internal/handler"
	"github.com/mmeshcher/moneytoflows/internal/logging"
	"github.com/mmeshcher/moneytoflows/internal/metrics"
	"github.com/mmeshcher/moneytoflows/internal/middleware"
	"github.com/mmeshcher/moneytoflows/internal/repository"
	"github.com/mmeshcher/moneytoflows/internal/service"
	"github.com/mmeshcher/moneytoflows/internal/session"
)

func openRepository(dsn string) (service.Repository, error) {
	if repository.IsPostgresDSN(dsn) {
		return repository.NewPostgresRepository(dsn)
	}
	return repository.NewSQLiteRepository(dsn)
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := openRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	policy, err := service.NewReferrerPolicy(cfg.Policy, repo)
	if err != nil {
		sugar.Fatalw("referral policy error", "error", err.Error())
	}

	m := metrics.New()

	svc := service.NewService(repo, service.Config{
		RewardPerReferral: cfg.Reward(),
		Threshold:         cfg.Threshold,
		AdminLogin:        cfg.AdminUsername,
		Providers:         cfg.Providers,
		Policy:            policy,
		Metrics:           m,
	})
	defer svc.Close()

	var revoker session.Revoker
	if cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := session.ConnectRedis(pingCtx, cfg.RedisAddr, cfg.RedisPassword)
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()
		revoker = session.NewRedisRevoker(rdb)
		sugar.Infow("session revocation stored in redis", "addr", cfg.RedisAddr)
	}

	if cfg.SecretKey == "" {
		sugar.Warn("SECRET_KEY is not set, sessions will not survive a restart")
	}

	sessions, err := session.NewManager(cfg.SecretKey, session.WithRevoker(revoker))
	if err != nil {
		sugar.Fatalw("session manager error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(sessions)
	h := handler.NewHandler(svc, logger, authMiddleware, handler.Settings{
		ProductName:   cfg.ProductName,
		AchatLink:     cfg.AchatLink,
		PublicBaseURL: cfg.PublicBaseURL,
		Metrics:       m,
		AuthLimiter:   middleware.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst),
		TrustProxy:    cfg.TrustProxy,
	})

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting moneytoflows server",
			"addr", cfg.RunAddress,
			"postgres", repository.IsPostgresDSN(cfg.DatabaseURI),
			"threshold", cfg.Threshold,
			"policy", cfg.Policy,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("application terminated with error", zap.Error(err))
		os.Exit(1)
	}
}
