package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/moneytoflows/internal/model"
	"github.com/mmeshcher/moneytoflows/internal/repository"
)

// AdminUsers возвращает всех пользователей.
func (h *Handler) AdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.internalError(w, r, "list users error", err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, newUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminPendingPurchases возвращает покупки, ожидающие проверки.
func (h *Handler) AdminPendingPurchases(w http.ResponseWriter, r *http.Request) {
	claims, err := h.service.ListPendingClaims(r.Context())
	if err != nil {
		h.internalError(w, r, "list pending purchases error", err)
		return
	}

	writeJSON(w, http.StatusOK, newClaimResponses(claims, true))
}

type validateResponse struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
}

// AdminValidatePurchase подтверждает покупку.
func (h *Handler) AdminValidatePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	userID, err := h.service.ValidateClaim(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrClaimNotFound):
			writeStatus(w, http.StatusNotFound)
		case errors.Is(err, repository.ErrClaimAlreadyValidated):
			writeStatus(w, http.StatusConflict)
		default:
			h.internalError(w, r, "validate purchase error", err, zap.Int64("claimID", id))
		}
		return
	}

	h.logger.Info("purchase validated", zap.Int64("claimID", id), zap.Int64("userID", userID))
	writeJSON(w, http.StatusOK, validateResponse{ID: id, UserID: userID})
}

// AdminWithdrawals возвращает заявки на вывод, ещё не подтверждённые администратором.
func (h *Handler) AdminWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.service.ListOutstanding(r.Context())
	if err != nil {
		h.internalError(w, r, "list withdrawals error", err)
		return
	}

	writeJSON(w, http.StatusOK, newWithdrawalResponses(withdrawals, true))
}

// AdminApproveWithdrawal подтверждает заявку на вывод.
func (h *Handler) AdminApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.transitionWithdrawal(w, r, model.WithdrawalStatusValidated)
}

// AdminRefuseWithdrawal отклоняет заявку на вывод.
func (h *Handler) AdminRefuseWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.transitionWithdrawal(w, r, model.WithdrawalStatusRefused)
}

func (h *Handler) transitionWithdrawal(w http.ResponseWriter, r *http.Request, to model.WithdrawalStatus) {
	id, ok := idParam(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	var err error
	if to == model.WithdrawalStatusValidated {
		err = h.service.ApproveWithdrawal(r.Context(), id)
	} else {
		err = h.service.RefuseWithdrawal(r.Context(), id)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrWithdrawalNotFound):
			writeStatus(w, http.StatusNotFound)
		case errors.Is(err, model.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.internalError(w, r, "withdrawal transition error", err, zap.Int64("withdrawalID", id), zap.String("to", string(to)))
		}
		return
	}

	h.logger.Info("withdrawal status changed", zap.Int64("withdrawalID", id), zap.String("status", string(to)))
	w.WriteHeader(http.StatusOK)
}
