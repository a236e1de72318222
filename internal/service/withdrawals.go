package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/rewards-portal/internal/metrics"
	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/repository"
	"github.com/mmeshcher/rewards-portal/internal/validation"
)

// MinWithdrawal возвращает минимальную сумму вывода в баллах.
func (s *Service) MinWithdrawal(ctx context.Context) (int64, error) {
	v, ok, err := s.repo.GetSetting(ctx, repository.SettingMinWithdrawal)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.opts.MinWithdrawal, nil
	}

	minPoints, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s setting %q: %w", repository.SettingMinWithdrawal, v, err)
	}
	return minPoints, nil
}

// SetMinWithdrawal изменяет минимальную сумму вывода.
func (s *Service) SetMinWithdrawal(ctx context.Context, points int64) error {
	if points <= 0 {
		return model.Validationf("minimum withdrawal must be positive")
	}
	return s.repo.SetSetting(ctx, repository.SettingMinWithdrawal, strconv.FormatInt(points, 10))
}

// Rate возвращает действующий курс конвертации.
func (s *Service) Rate() model.ConversionRate {
	return s.opts.Rate
}

// CashEquivalent пересчитывает баллы в деньги по курсу с округлением до центов.
func CashEquivalent(points int64, rate model.ConversionRate) decimal.Decimal {
	return decimal.NewFromInt(points).DivRound(decimal.NewFromInt(rate.PointsPerUnit), 2)
}

// RequestWithdrawal создаёт заявку на вывод и сразу списывает баллы с баланса.
// Заявка и списание фиксируются одним пакетом.
func (s *Service) RequestWithdrawal(ctx context.Context, userID, points int64, methodID, details string) (*model.Withdrawal, error) {
	if points <= 0 {
		return nil, model.Validationf("points must be positive")
	}

	minPoints, err := s.MinWithdrawal(ctx)
	if err != nil {
		return nil, err
	}
	if points < minPoints {
		return nil, fmt.Errorf("%w: requested %d, minimum is %d", model.ErrBelowMinimum, points, minPoints)
	}

	method, err := s.repo.GetPaymentMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if !method.Enabled {
		return nil, model.ErrMethodUnavailable
	}

	details = strings.TrimSpace(details)
	if !validation.IsValidPaymentDetails(method.ID, details) {
		return nil, model.Validationf("invalid payment details for %s", method.Label)
	}

	rate := s.opts.Rate
	w := &model.Withdrawal{
		ID:            s.newID(),
		UserID:        userID,
		Points:        points,
		CashAmount:    CashEquivalent(points, rate),
		Currency:      rate.Currency,
		RateVersion:   rate.Version,
		PointsPerUnit: rate.PointsPerUnit,
		Method:        method.ID,
		Details:       details,
		Status:        model.WithdrawalStatusPending,
		CreatedAt:     s.now(),
	}

	err = s.repo.Atomic(ctx, func(tx repository.Store) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Status == model.UserStatusFrozen {
			return model.ErrAccountFrozen
		}
		if user.Balance < points {
			return fmt.Errorf("%w: balance %d, requested %d", model.ErrInsufficientBalance, user.Balance, points)
		}

		if err := tx.InsertWithdrawal(ctx, w); err != nil {
			return err
		}
		_, err = s.applyDelta(ctx, tx, userID, -points, model.SourceWithdrawalRequest, w.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordWithdrawal(string(w.Status))
	return w, nil
}

// ResolveWithdrawal переводит заявку в Completed или Rejected.
// При отклонении баллы возвращаются на баланс в том же пакете записей.
func (s *Service) ResolveWithdrawal(ctx context.Context, withdrawalID string, outcome model.WithdrawalStatus) (*model.Withdrawal, error) {
	if !outcome.Terminal() {
		return nil, model.Validationf("unknown outcome %q", outcome)
	}

	var w *model.Withdrawal
	err := s.repo.Atomic(ctx, func(tx repository.Store) error {
		cur, err := tx.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if cur.Status != model.WithdrawalStatusPending {
			return fmt.Errorf("%w: current status %s", model.ErrWithdrawalResolved, cur.Status)
		}

		now := s.now()
		if err := tx.TransitionWithdrawal(ctx, cur.ID, model.WithdrawalStatusPending, outcome, now); err != nil {
			return err
		}
		if outcome == model.WithdrawalStatusRejected {
			if _, err := s.applyDelta(ctx, tx, cur.UserID, cur.Points, model.SourceWithdrawalRefund, cur.ID); err != nil {
				return err
			}
		}

		cur.Status = outcome
		cur.ResolvedAt = &now
		w = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordWithdrawal(string(w.Status))

	amount := fmt.Sprintf("%d points (%s %s)", w.Points, w.CashAmount.StringFixed(2), w.Currency)
	if w.Status == model.WithdrawalStatusCompleted {
		s.notify(ctx, w.UserID, model.NotificationSuccess, "Withdrawal completed",
			fmt.Sprintf("Your withdrawal of %s via %s has been processed.", amount, w.Method))
	} else {
		s.notify(ctx, w.UserID, model.NotificationError, "Withdrawal rejected",
			fmt.Sprintf("Your withdrawal of %s was rejected. The points were returned to your balance.", amount))
	}
	return w, nil
}

// GetWithdrawal возвращает заявку по идентификатору.
func (s *Service) GetWithdrawal(ctx context.Context, withdrawalID string) (*model.Withdrawal, error) {
	return s.repo.GetWithdrawal(ctx, withdrawalID)
}

// ListUserWithdrawals возвращает заявки пользователя.
func (s *Service) ListUserWithdrawals(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return s.repo.ListWithdrawalsByUser(ctx, userID)
}

// ListWithdrawals возвращает заявки с указанным статусом; пустой статус означает все заявки.
func (s *Service) ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.Withdrawal, error) {
	if status != "" && status != model.WithdrawalStatusPending && !status.Terminal() {
		return nil, model.Validationf("unknown status %q", status)
	}
	return s.repo.ListWithdrawals(ctx, status)
}

// ListPaymentMethods возвращает способы выплаты; enabledOnly скрывает выключенные.
func (s *Service) ListPaymentMethods(ctx context.Context, enabledOnly bool) ([]model.PaymentMethod, error) {
	methods, err := s.repo.ListPaymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	if !enabledOnly {
		return methods, nil
	}

	res := make([]model.PaymentMethod, 0, len(methods))
	for _, m := range methods {
		if m.Enabled {
			res = append(res, m)
		}
	}
	return res, nil
}

// UpsertPaymentMethod создаёт или обновляет способ выплаты.
func (s *Service) UpsertPaymentMethod(ctx context.Context, m model.PaymentMethod) (*model.PaymentMethod, error) {
	m.ID = strings.ToLower(strings.TrimSpace(m.ID))
	m.Label = strings.TrimSpace(m.Label)
	if m.ID == "" || strings.ContainsAny(m.ID, " /") {
		return nil, model.Validationf("payment method id must be a non-empty slug")
	}
	if m.Label == "" {
		return nil, model.Validationf("payment method label is required")
	}

	if err := s.repo.UpsertPaymentMethod(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SetPaymentMethodEnabled включает или выключает способ выплаты.
func (s *Service) SetPaymentMethodEnabled(ctx context.Context, id string, enabled bool) error {
	return s.repo.SetPaymentMethodEnabled(ctx, id, enabled)
}

// DefaultPaymentMethods способы выплаты, создаваемые при первом запуске.
var DefaultPaymentMethods = []model.PaymentMethod{
	{ID: validation.MethodPayPal, Label: "PayPal", Placeholder: "you@example.com", Enabled: true},
	{ID: validation.MethodCard, Label: "Bank card", Placeholder: "0000 0000 0000 0000", Enabled: true},
}

// SeedPaymentMethods сохраняет methods, если ни одного способа выплаты ещё нет.
func (s *Service) SeedPaymentMethods(ctx context.Context, methods []model.PaymentMethod) error {
	return s.repo.Atomic(ctx, func(tx repository.Store) error {
		existing, err := tx.ListPaymentMethods(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		for i := range methods {
			m := methods[i]
			if err := tx.UpsertPaymentMethod(ctx, &m); err != nil {
				return err
			}
		}
		return nil
	})
}
