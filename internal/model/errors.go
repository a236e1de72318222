package model

import (
	"errors"
	"fmt"
)

// Корневые категории ошибок движка. Конкретные ошибки оборачивают одну из них,
// поэтому вызывающий код проверяет категорию через errors.Is.
var (
	// ErrNotFound возвращается, если пользователь, задание или заявка не существует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition возвращается при попытке перевести заявку из терминального статуса.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidationFailed возвращается при некорректных входных данных.
	ErrValidationFailed = errors.New("validation failed")
	// ErrPersistenceUnavailable возвращается, если хранилище не смогло выполнить операцию.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

var (
	ErrUserNotFound          = fmt.Errorf("user %w", ErrNotFound)
	ErrTaskNotFound          = fmt.Errorf("task %w", ErrNotFound)
	ErrWithdrawalNotFound    = fmt.Errorf("withdrawal %w", ErrNotFound)
	ErrPaymentMethodNotFound = fmt.Errorf("payment method %w", ErrNotFound)

	ErrWithdrawalResolved = fmt.Errorf("%w: withdrawal is not pending", ErrInvalidTransition)

	ErrBelowMinimum        = fmt.Errorf("%w: below minimum", ErrValidationFailed)
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrValidationFailed)
	ErrMethodUnavailable   = fmt.Errorf("%w: payment method disabled", ErrValidationFailed)
	ErrTaskDisabled        = fmt.Errorf("%w: task disabled", ErrValidationFailed)
	ErrAccountFrozen       = fmt.Errorf("%w: account frozen", ErrValidationFailed)
	// ErrUserExists возвращается при регистрации с уже занятым email.
	ErrUserExists = fmt.Errorf("%w: user already exists", ErrValidationFailed)
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountSuspended возвращается при входе заблокированного пользователя.
var ErrAccountSuspended = errors.New("account suspended")

// Validationf создаёт ошибку валидации с читаемой причиной.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, fmt.Sprintf(format, args...))
}
