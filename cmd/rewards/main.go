// Package main запускает HTTP-сервер портала начисления баллов.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/rewards-portal/internal/config"
	"github.com/mmeshcher/rewards-portal/internal/handler"
	"github.com/mmeshcher/rewards-portal/internal/middleware"
	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/repository"
	"github.com/mmeshcher/rewards-portal/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openStore(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	svc := service.NewService(repo, logger, service.Options{
		RegistrationBonus: cfg.RegistrationBonus,
		MinWithdrawal:     cfg.MinWithdrawal,
		TaskCooldown:      cfg.TaskCooldown,
		Rate: model.ConversionRate{
			Version:       cfg.RateVersion,
			PointsPerUnit: cfg.PointsPerUnit,
			Currency:      cfg.Currency,
		},
		AdminEmail: cfg.AdminEmail,
	})
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.SeedPaymentMethods(ctx, service.DefaultPaymentMethods); err != nil {
		sugar.Fatalw("seed payment methods", "error", err.Error())
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, sessions will not survive restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	h := handler.NewHandler(svc, logger, authMiddleware, limiter)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting rewards server", "addr", cfg.RunAddress, "persistent", cfg.DatabaseURI != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

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
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// openStore выбирает PostgreSQL, если задан DATABASE_URI, иначе хранилище в памяти.
func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}
