package model

import (
	"errors"
	"fmt"
)

// WithdrawalStatus описывает состояние заявки на вывод.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusValidated WithdrawalStatus = "validated"
	WithdrawalStatusRefused   WithdrawalStatus = "refused"
)

// ErrInvalidTransition возвращается при попытке недопустимой смены статуса заявки.
var ErrInvalidTransition = errors.New("invalid withdrawal status transition")

// IsValid сообщает, является ли статус известным.
func (s WithdrawalStatus) IsValid() bool {
	switch s {
	case WithdrawalStatusPending, WithdrawalStatusValidated, WithdrawalStatusRefused:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, является ли статус конечным.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusValidated || s == WithdrawalStatusRefused
}

// CanTransition сообщает, разрешён ли переход в статус to.
// Разрешены только pending -> validated и pending -> refused.
func (s WithdrawalStatus) CanTransition(to WithdrawalStatus) bool {
	return s == WithdrawalStatusPending && to.IsTerminal()
}

// Transition возвращает новый статус или ErrInvalidTransition.
func (s WithdrawalStatus) Transition(to WithdrawalStatus) (WithdrawalStatus, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return to, nil
}
