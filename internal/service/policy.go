package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/moneytoflows/internal/model"
	"github.com/mmeshcher/moneytoflows/internal/repository"
)

// ErrUnknownReferrer возвращается строгой политикой, если код пригласившего не найден.
var ErrUnknownReferrer = errors.New("unknown referrer code")

// Названия политик для конфигурации.
const (
	PolicyLenient = "lenient"
	PolicyStrict  = "strict"
)

// ReferrerPolicy решает, какой код пригласившего сохранить при регистрации.
type ReferrerPolicy interface {
	Resolve(ctx context.Context, code string) (string, error)
}

type referrerLookup interface {
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
}

// LenientReferrerPolicy принимает любой код без проверки существования.
type LenientReferrerPolicy struct{}

// Resolve возвращает код без пробелов по краям.
func (LenientReferrerPolicy) Resolve(_ context.Context, code string) (string, error) {
	return strings.TrimSpace(code), nil
}

// StrictReferrerPolicy принимает только коды существующих пользователей.
type StrictReferrerPolicy struct {
	users referrerLookup
}

// NewStrictReferrerPolicy создаёт строгую политику поверх хранилища пользователей.
func NewStrictReferrerPolicy(users referrerLookup) *StrictReferrerPolicy {
	return &StrictReferrerPolicy{users: users}
}

// Resolve проверяет, что код принадлежит существующему пользователю.
func (p *StrictReferrerPolicy) Resolve(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}

	if _, err := p.users.GetUserByReferralCode(ctx, code); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownReferrer, code)
		}
		return "", fmt.Errorf("lookup referrer: %w", err)
	}

	return code, nil
}

// NewReferrerPolicy возвращает политику по её названию из конфигурации.
func NewReferrerPolicy(name string, users referrerLookup) (ReferrerPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyLenient:
		return LenientReferrerPolicy{}, nil
	case PolicyStrict:
		return NewStrictReferrerPolicy(users), nil
	default:
		return nil, fmt.Errorf("unknown referral policy %q", name)
	}
}
