package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/repository"
	"github.com/mmeshcher/rewards-portal/internal/validation"
)

// RegisterUser создаёт учётную запись и начисляет бонус за регистрацию.
func (s *Service) RegisterUser(ctx context.Context, email, displayName, password string) (*model.User, error) {
	email, ok := validation.NormalizeEmail(email)
	if !ok {
		return nil, model.Validationf("invalid email")
	}
	displayName = strings.TrimSpace(displayName)
	if !validation.IsValidDisplayName(displayName) {
		return nil, model.Validationf("invalid display name")
	}
	if !validation.IsValidPassword(password) {
		return nil, model.Validationf("password is too short")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := model.RoleUser
	if admin, ok := validation.NormalizeEmail(s.opts.AdminEmail); ok && admin == email {
		role = model.RoleAdmin
	}

	u := &model.User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         role,
		Status:       model.UserStatusActive,
		CreatedAt:    s.now(),
	}

	err = s.repo.Atomic(ctx, func(tx repository.Store) error {
		id, err := tx.CreateUser(ctx, u)
		if err != nil {
			return err
		}
		u.ID = id
		u.Balance = 0

		if s.opts.RegistrationBonus > 0 {
			if _, err := s.applyDelta(ctx, tx, id, s.opts.RegistrationBonus, model.SourceRegistrationBonus, ""); err != nil {
				return err
			}
			u.Balance = s.opts.RegistrationBonus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// AuthenticateUser проверяет email и пароль. Заблокированным пользователям вход запрещён.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}

	if u.Status == model.UserStatusSuspended {
		return nil, model.ErrAccountSuspended
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// SetUserStatus меняет статус учётной записи.
func (s *Service) SetUserStatus(ctx context.Context, userID int64, status model.UserStatus) error {
	if !status.Valid() {
		return model.Validationf("unknown status %q", status)
	}
	return s.repo.SetUserStatus(ctx, userID, status)
}

// DeleteUser удаляет пользователя вместе с заявками, историей, уведомлениями и
// записями о заданиях. Удаление выполняется одним пакетом: при любой ошибке
// пользователь и все его записи остаются на месте.
func (s *Service) DeleteUser(ctx context.Context, userID int64) (*model.DeletionSummary, error) {
	var summary *model.DeletionSummary
	err := s.repo.Atomic(ctx, func(tx repository.Store) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return err
		}

		sum := &model.DeletionSummary{UserID: userID}
		var err error
		if sum.Withdrawals, err = tx.DeleteWithdrawals(ctx, userID); err != nil {
			return fmt.Errorf("delete withdrawals: %w", err)
		}
		if sum.Transactions, err = tx.DeletePointTransactions(ctx, userID); err != nil {
			return fmt.Errorf("delete point history: %w", err)
		}
		if sum.Notifications, err = tx.DeleteNotifications(ctx, userID); err != nil {
			return fmt.Errorf("delete notifications: %w", err)
		}
		if sum.TaskCompletions, err = tx.DeleteTaskCompletions(ctx, userID); err != nil {
			return fmt.Errorf("delete task completions: %w", err)
		}
		if err := tx.DeleteUser(ctx, userID); err != nil {
			return err
		}

		summary = sum
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user deleted",
		zap.Int64("userID", userID),
		zap.Int64("withdrawals", summary.Withdrawals),
		zap.Int64("transactions", summary.Transactions),
		zap.Int64("notifications", summary.Notifications),
		zap.Int64("taskCompletions", summary.TaskCompletions),
	)
	return summary, nil
}
