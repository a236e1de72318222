// Package service реализует движок начисления баллов: леджер, задания с окном
// повторного выполнения, заявки на вывод, уведомления и жизненный цикл учётных записей.
package service

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/repository"
)

// Options содержит экономические параметры движка.
type Options struct {
	RegistrationBonus int64
	MinWithdrawal     int64
	TaskCooldown      time.Duration
	Rate              model.ConversionRate
	AdminEmail        string
}

// Service содержит бизнес-логику портала. Все изменения баланса проходят через
// applyDelta внутри атомарного пакета записей хранилища.
type Service struct {
	repo   repository.Store
	logger *zap.Logger
	opts   Options

	now      func() time.Time
	randIntN func(n int) int
	newID    func() string
}

// NewService создаёт новый сервис поверх указанного хранилища.
func NewService(repo repository.Store, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TaskCooldown <= 0 {
		opts.TaskCooldown = 24 * time.Hour
	}
	if opts.Rate.PointsPerUnit <= 0 {
		opts.Rate.PointsPerUnit = 1000
	}

	return &Service{
		repo:     repo,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		randIntN: rand.IntN,
		newID:    uuid.NewString,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// notify отправляет уведомление без влияния на результат основной операции.
func (s *Service) notify(ctx context.Context, userID int64, typ model.NotificationType, title, description string) {
	if _, err := s.Emit(ctx, userID, typ, title, description); err != nil {
		s.logger.Warn("emit notification failed",
			zap.Error(err),
			zap.Int64("userID", userID),
			zap.String("title", title),
		)
	}
}
