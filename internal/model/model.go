// Package model содержит доменные сущности портала начисления баллов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Метки источников для записей истории баллов.
const (
	SourceRegistrationBonus = "Registration Bonus"
	SourceWithdrawalRequest = "Withdrawal request"
	SourceWithdrawalRefund  = "Withdrawal refund"
	SourceManualAdjustment  = "Manual adjustment"
)

// UserStatus описывает состояние учётной записи.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusFrozen    UserStatus = "frozen"
)

// Valid сообщает, является ли статус известным.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusSuspended, UserStatusFrozen:
		return true
	}
	return false
}

// Role определяет права пользователя в портале.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User представляет зарегистрированного пользователя портала.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	PasswordHash []byte     `json:"-"`
	Role         Role       `json:"role"`
	Balance      int64      `json:"balance"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PointTransaction неизменяемая запись об изменении баланса.
type PointTransaction struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Source    string    `json:"source"`
	Reference string    `json:"reference,omitempty"`
	Delta     int64     `json:"delta"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerAudit результат сверки баланса с историей транзакций.
type LedgerAudit struct {
	UserID       int64 `json:"user_id"`
	Balance      int64 `json:"balance"`
	HistorySum   int64 `json:"history_sum"`
	Transactions int   `json:"transactions"`
	Consistent   bool  `json:"consistent"`
}

// Task описывает задание, за выполнение которого начисляются баллы.
// Если RewardChoices не пуст, награда выбирается из него случайно, иначе начисляется Points.
type Task struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Points        int64         `json:"points"`
	RewardChoices []int64       `json:"reward_choices,omitempty"`
	Cooldown      time.Duration `json:"cooldown"`
	Enabled       bool          `json:"enabled"`
	CreatedAt     time.Time     `json:"created_at"`
}

// TaskCompletion хранит окно доступности задания для пары пользователь/задание.
type TaskCompletion struct {
	UserID      int64     `json:"user_id"`
	TaskID      int64     `json:"task_id"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	LastPoints  int64     `json:"last_points"`
}

// ClaimResult результат попытки получить награду за задание.
type ClaimResult struct {
	Awarded       bool              `json:"awarded"`
	PointsAwarded int64             `json:"points_awarded"`
	NextClaimAt   time.Time         `json:"next_claim_at"`
	Record        TaskCompletion    `json:"record"`
	Transaction   *PointTransaction `json:"transaction,omitempty"`
}

// TaskStatus состояние задания для конкретного пользователя.
type TaskStatus struct {
	Task        Task       `json:"task"`
	Claimable   bool       `json:"claimable"`
	NextClaimAt *time.Time `json:"next_claim_at,omitempty"`
}

// WithdrawalStatus описывает статус заявки на вывод.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
)

// Terminal сообщает, что из статуса нет переходов.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusRejected
}

// Withdrawal заявка на вывод баллов. Курс конвертации фиксируется в момент создания.
type Withdrawal struct {
	ID            string           `json:"id"`
	UserID        int64            `json:"user_id"`
	Points        int64            `json:"points"`
	CashAmount    decimal.Decimal  `json:"cash_amount"`
	Currency      string           `json:"currency"`
	RateVersion   int              `json:"rate_version"`
	PointsPerUnit int64            `json:"points_per_unit"`
	Method        string           `json:"method"`
	Details       string           `json:"details"`
	Status        WithdrawalStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

// ConversionRate версионированный курс перевода баллов в деньги.
type ConversionRate struct {
	Version       int
	PointsPerUnit int64
	Currency      string
}

// NotificationType вид уведомления.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

// Notification уведомление для пользователя.
type Notification struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"user_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}

// PaymentMethod способ выплаты, настраиваемый администратором.
type PaymentMethod struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Enabled     bool   `json:"enabled"`
}

// DeletionSummary количество удалённых записей при удалении пользователя.
type DeletionSummary struct {
	UserID          int64 `json:"user_id"`
	Withdrawals     int64 `json:"withdrawals"`
	Transactions    int64 `json:"transactions"`
	Notifications   int64 `json:"notifications"`
	TaskCompletions int64 `json:"task_completions"`
}
