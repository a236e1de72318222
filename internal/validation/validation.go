// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Идентификаторы способов выплаты, реквизиты которых проверяются по формату.
const (
	MethodCard   = "card"
	MethodPayPal = "paypal"
)

const (
	maxDetailsLen     = 256
	maxDisplayNameLen = 64
	minPasswordLen    = 8
)

// IsValidCardNumber проверяет номер карты по алгоритму Луна. Пробелы и дефисы игнорируются.
func IsValidCardNumber(number string) bool {
	number = strings.NewReplacer(" ", "", "-", "").Replace(number)
	if len(number) < 12 || len(number) > 19 {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// NormalizeEmail приводит email к нижнему регистру и проверяет формат.
func NormalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

// IsValidDisplayName проверяет отображаемое имя пользователя.
func IsValidDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && utf8.RuneCountInString(name) <= maxDisplayNameLen
}

// IsValidPassword проверяет минимальную длину пароля.
func IsValidPassword(password string) bool {
	return utf8.RuneCountInString(password) >= minPasswordLen
}

// IsValidPaymentDetails проверяет реквизиты выплаты для указанного способа.
func IsValidPaymentDetails(method, details string) bool {
	details = strings.TrimSpace(details)
	if details == "" || utf8.RuneCountInString(details) > maxDetailsLen {
		return false
	}

	switch method {
	case MethodCard:
		return IsValidCardNumber(details)
	case MethodPayPal:
		_, ok := NormalizeEmail(details)
		return ok
	}
	return true
}
