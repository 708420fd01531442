// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxReferenceLength = 128
	minMobileDigits    = 6
	maxMobileLength    = 20
)

// IsValidReference проверяет ссылку на покупку: непустая строка разумной длины без управляющих символов.
func IsValidReference(reference string) bool {
	reference = strings.TrimSpace(reference)
	if reference == "" || utf8.RuneCountInString(reference) > maxReferenceLength {
		return false
	}

	for _, r := range reference {
		if unicode.IsControl(r) {
			return false
		}
	}

	return true
}

// IsValidMobileNumber проверяет номер мобильного кошелька: цифры, необязательный ведущий '+' и пробелы внутри.
func IsValidMobileNumber(number string) bool {
	number = strings.TrimSpace(number)
	if number == "" || len(number) > maxMobileLength {
		return false
	}

	digits := 0
	for i, r := range number {
		switch {
		case r == '+' && i == 0:
		case r == ' ':
		case r >= '0' && r <= '9':
			digits++
		default:
			return false
		}
	}

	return digits >= minMobileDigits
}

// IsKnownProvider сообщает, входит ли оператор в список разрешённых (без учёта регистра).
func IsKnownProvider(provider string, allowed []string) bool {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return false
	}

	for _, p := range allowed {
		if strings.EqualFold(p, provider) {
			return true
		}
	}

	return false
}
