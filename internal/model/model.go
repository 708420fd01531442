// Package model содержит доменные сущности реферального сервиса MoneyToFlows.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Email        string
	Country      string
	Mobile       string
	Provider     string
	ReferralCode string
	// ReferrerCode хранит код пригласившего, nil для органической регистрации.
	ReferrerCode *string
	Purchases    int64
	CreatedAt    time.Time
}

// NewUser содержит данные для создания пользователя.
type NewUser struct {
	Login        string
	PasswordHash []byte
	Email        string
	Country      string
	Mobile       string
	Provider     string
	ReferrerCode string
}

// PurchaseClaim описывает заявленную пользователем покупку, ожидающую проверки администратором.
type PurchaseClaim struct {
	ID        int64
	UserID    int64
	Login     string
	Reference string
	Validated bool
	CreatedAt time.Time
}

// Withdrawal описывает заявку на вывод вознаграждения.
type Withdrawal struct {
	ID           int64
	UserID       int64
	Login        string
	Provider     string
	MobileNumber string
	Status       WithdrawalStatus
	CreatedAt    time.Time
}

// NewWithdrawal содержит данные для создания заявки на вывод.
type NewWithdrawal struct {
	UserID       int64
	Provider     string
	MobileNumber string
}

// Reward содержит сводку по рефералам пользователя и причитающееся вознаграждение.
type Reward struct {
	Referrals int64           `json:"referrals"`
	Buyers    int64           `json:"buyers"`
	Amount    decimal.Decimal `json:"amount"`
	Threshold int64           `json:"threshold"`
	Eligible  bool            `json:"eligible"`
}
