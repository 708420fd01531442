// Package repository содержит реализации хранилища пользователей, реферального графа,
// заявленных покупок и заявок на вывод для PostgreSQL и SQLite.
package repository

import (
	"embed"
	"errors"
	"strings"

	"github.com/mmeshcher/moneytoflows/internal/refcode"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// maxReferralCodeAttempts ограничивает число попыток сгенерировать уникальный реферальный код.
const maxReferralCodeAttempts = 5

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrReferralCodeExists сообщает о коллизии реферальных кодов. Наружу не отдаётся:
	// репозиторий перегенерирует код и сдаётся только после maxReferralCodeAttempts попыток.
	ErrReferralCodeExists = errors.New("referral code already exists")
	// ErrClaimNotFound возвращается, если заявленная покупка не найдена.
	ErrClaimNotFound = errors.New("purchase claim not found")
	// ErrClaimAlreadyValidated возвращается при повторной валидации покупки.
	ErrClaimAlreadyValidated = errors.New("purchase claim already validated")
	// ErrWithdrawalNotFound возвращается, если заявка на вывод не найдена.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
)

// Option настраивает репозиторий.
type Option func(*options)

type options struct {
	generateCode refcode.Generator
}

// WithCodeGenerator подменяет генератор реферальных кодов.
func WithCodeGenerator(g refcode.Generator) Option {
	return func(o *options) {
		if g != nil {
			o.generateCode = g
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{generateCode: refcode.Generate}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IsPostgresDSN сообщает, указывает ли строка подключения на PostgreSQL.
func IsPostgresDSN(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

type scanner interface {
	Scan(dest ...any) error
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
