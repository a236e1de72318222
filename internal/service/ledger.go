package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/repository"
)

// GetBalance возвращает текущий баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// GetHistory возвращает историю изменений баланса, новые записи первыми.
func (s *Service) GetHistory(ctx context.Context, userID int64) ([]model.PointTransaction, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListPointTransactions(ctx, userID)
}

// ApplyDelta атомарно изменяет баланс и добавляет запись в историю.
func (s *Service) ApplyDelta(ctx context.Context, userID, delta int64, source, reference string) (*model.PointTransaction, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, model.Validationf("source label is required")
	}

	var rec *model.PointTransaction
	err := s.repo.Atomic(ctx, func(tx repository.Store) error {
		var err error
		rec, err = s.applyDelta(ctx, tx, userID, delta, source, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AdjustPoints вручную начисляет или списывает баллы от имени администратора.
func (s *Service) AdjustPoints(ctx context.Context, userID, delta int64, reason string) (*model.PointTransaction, error) {
	return s.ApplyDelta(ctx, userID, delta, model.SourceManualAdjustment, strings.TrimSpace(reason))
}

// Audit сверяет баланс пользователя с суммой его транзакций.
func (s *Service) Audit(ctx context.Context, userID int64) (*model.LedgerAudit, error) {
	var audit *model.LedgerAudit
	err := s.repo.Atomic(ctx, func(tx repository.Store) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		history, err := tx.ListPointTransactions(ctx, userID)
		if err != nil {
			return err
		}

		var sum int64
		for _, t := range history {
			sum += t.Delta
		}
		audit = &model.LedgerAudit{
			UserID:       userID,
			Balance:      u.Balance,
			HistorySum:   sum,
			Transactions: len(history),
			Consistent:   sum == u.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}

// applyDelta должен вызываться внутри Atomic: приращение баланса и запись истории
// фиксируются только вместе.
func (s *Service) applyDelta(ctx context.Context, tx repository.Store, userID, delta int64, source, reference string) (*model.PointTransaction, error) {
	if delta == 0 {
		return nil, model.Validationf("delta must not be zero")
	}

	if _, err := tx.IncrementBalance(ctx, userID, delta); err != nil {
		return nil, fmt.Errorf("apply delta %+d to user %d: %w", delta, userID, err)
	}

	rec := &model.PointTransaction{
		UserID:    userID,
		Source:    source,
		Reference: reference,
		Delta:     delta,
		CreatedAt: s.now(),
	}
	if err := tx.InsertPointTransaction(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
