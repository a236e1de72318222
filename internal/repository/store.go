// Package repository содержит реализацию доступа к данным портала:
// PostgreSQL для продакшена и хранилище в памяти для разработки и тестов.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/rewards-portal/internal/model"
)

// Ключи таблицы настроек.
const (
	SettingMinWithdrawal = "min_withdrawal"
)

// Store описывает хранилище, с которым работает движок начислений.
//
// Atomic выполняет fn как единый пакет записей: либо фиксируются все изменения,
// сделанные через переданный Store, либо ни одного. IncrementBalance изменяет
// баланс атомарным приращением без чтения в прикладном коде.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Store) error) error
	Close() error

	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	LockUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserStatus(ctx context.Context, id int64, status model.UserStatus) error
	IncrementBalance(ctx context.Context, id int64, delta int64) (int64, error)
	DeleteUser(ctx context.Context, id int64) error

	InsertPointTransaction(ctx context.Context, t *model.PointTransaction) error
	ListPointTransactions(ctx context.Context, userID int64) ([]model.PointTransaction, error)
	DeletePointTransactions(ctx context.Context, userID int64) (int64, error)

	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)
	SetTaskEnabled(ctx context.Context, id int64, enabled bool) error

	GetTaskCompletion(ctx context.Context, userID, taskID int64) (*model.TaskCompletion, bool, error)
	ListTaskCompletions(ctx context.Context, userID int64) ([]model.TaskCompletion, error)
	SaveTaskCompletion(ctx context.Context, c *model.TaskCompletion) error
	DeleteTaskCompletions(ctx context.Context, userID int64) (int64, error)

	InsertWithdrawal(ctx context.Context, w *model.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error)
	LockWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id string, from, to model.WithdrawalStatus, at time.Time) error
	ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.Withdrawal, error)
	DeleteWithdrawals(ctx context.Context, userID int64) (int64, error)

	InsertNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64) (int64, error)
	DeleteNotifications(ctx context.Context, userID int64) (int64, error)

	GetPaymentMethod(ctx context.Context, id string) (*model.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context) ([]model.PaymentMethod, error)
	UpsertPaymentMethod(ctx context.Context, m *model.PaymentMethod) error
	SetPaymentMethodEnabled(ctx context.Context, id string, enabled bool) error

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrPersistenceUnavailable, op, err)
}
