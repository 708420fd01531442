package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/moneytoflows/internal/middleware"
	"github.com/mmeshcher/moneytoflows/internal/model"
	"github.com/mmeshcher/moneytoflows/internal/repository"
	"github.com/mmeshcher/moneytoflows/internal/service"
	"github.com/mmeshcher/moneytoflows/internal/validation"
)

type userResponse struct {
	ID           int64   `json:"id"`
	Login        string  `json:"login"`
	Email        string  `json:"email,omitempty"`
	Country      string  `json:"country,omitempty"`
	Mobile       string  `json:"mobile,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	ReferralCode string  `json:"referral_code"`
	ReferrerCode *string `json:"referrer_code,omitempty"`
	Purchases    int64   `json:"purchases"`
	CreatedAt    string  `json:"created_at"`
}

func newUserResponse(u model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Login:        u.Login,
		Email:        u.Email,
		Country:      u.Country,
		Mobile:       u.Mobile,
		Provider:     u.Provider,
		ReferralCode: u.ReferralCode,
		ReferrerCode: u.ReferrerCode,
		Purchases:    u.Purchases,
		CreatedAt:    u.CreatedAt.Format(time.RFC3339),
	}
}

// referralLink строит ссылку-приглашение: PUBLIC_BASE_URL либо схема и хост запроса.
func (h *Handler) referralLink(r *http.Request, code string) string {
	base := h.settings.PublicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if h.settings.TrustProxy {
			if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
				scheme = proto
			}
		}
		base = scheme + "://" + r.Host
	}
	return base + "/register?ref=" + url.QueryEscape(code)
}

// Profile возвращает профиль текущего пользователя.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeStatus(w, http.StatusNotFound)
			return
		}
		h.internalError(w, r, "get profile error", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(*u))
}

type referralResponse struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

// Referral возвращает реферальный код и ссылку текущего пользователя.
func (h *Handler) Referral(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeStatus(w, http.StatusNotFound)
			return
		}
		h.internalError(w, r, "get referral error", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, referralResponse{Code: u.ReferralCode, Link: h.referralLink(r, u.ReferralCode)})
}

type dashboardResponse struct {
	Login        string          `json:"login"`
	Admin        bool            `json:"admin"`
	ReferralCode string          `json:"referral_code"`
	ReferralLink string          `json:"referral_link"`
	Purchases    int64           `json:"purchases"`
	Referrals    int64           `json:"referrals"`
	Buyers       int64           `json:"buyers"`
	Amount       decimal.Decimal `json:"amount"`
	Threshold    int64           `json:"threshold"`
	Eligible     bool            `json:"eligible"`
	Product      productResponse `json:"product"`
}

// Dashboard возвращает сводку по рефералам и вознаграждению текущего пользователя.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeStatus(w, http.StatusNotFound)
			return
		}
		h.internalError(w, r, "get dashboard user error", err, zap.Int64("userID", claims.UserID))
		return
	}

	reward, err := h.service.ComputeReward(r.Context(), claims.UserID)
	if err != nil {
		h.internalError(w, r, "compute reward error", err, zap.Int64("userID", claims.UserID))
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Login:        u.Login,
		Admin:        claims.Admin,
		ReferralCode: u.ReferralCode,
		ReferralLink: h.referralLink(r, u.ReferralCode),
		Purchases:    u.Purchases,
		Referrals:    reward.Referrals,
		Buyers:       reward.Buyers,
		Amount:       reward.Amount,
		Threshold:    reward.Threshold,
		Eligible:     reward.Eligible,
		Product:      productResponse{Name: h.settings.ProductName, Link: h.settings.AchatLink},
	})
}

type claimRequest struct {
	Reference string `json:"reference"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

// SubmitPurchase принимает заявленную покупку текущего пользователя.
func (h *Handler) SubmitPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	if !validation.IsValidReference(req.Reference) {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	id, err := h.service.SubmitClaim(r.Context(), userID, req.Reference)
	if err != nil {
		h.internalError(w, r, "submit purchase error", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusAccepted, idResponse{ID: id})
}

type claimResponse struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id,omitempty"`
	Login     string `json:"login,omitempty"`
	Reference string `json:"reference"`
	Validated bool   `json:"validated"`
	CreatedAt string `json:"created_at"`
}

func newClaimResponses(claims []model.PurchaseClaim, withOwner bool) []claimResponse {
	resp := make([]claimResponse, 0, len(claims))
	for _, c := range claims {
		item := claimResponse{
			ID:        c.ID,
			Reference: c.Reference,
			Validated: c.Validated,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		}
		if withOwner {
			item.UserID = c.UserID
			item.Login = c.Login
		}
		resp = append(resp, item)
	}
	return resp
}

// GetPurchases возвращает покупки текущего пользователя.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return
	}

	claims, err := h.service.ListClaimsByUser(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "get purchases error", err, zap.Int64("userID", userID))
		return
	}

	if len(claims) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newClaimResponses(claims, false))
}

// Providers возвращает список операторов для вывода.
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Providers())
}

type withdrawRequest struct {
	Provider string `json:"provider"`
	Mobile   string `json:"mobile"`
}

// Withdraw создаёт заявку на вывод вознаграждения текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	id, err := h.service.RequestWithdrawal(r.Context(), userID, req.Provider, req.Mobile)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBelowThreshold):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case errors.Is(err, service.ErrInvalidWithdrawal):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrUserNotFound):
			writeStatus(w, http.StatusNotFound)
		default:
			h.internalError(w, r, "withdraw error", err, zap.Int64("userID", userID), zap.String("provider", req.Provider))
		}
		return
	}

	writeJSON(w, http.StatusAccepted, idResponse{ID: id})
}

type withdrawalResponse struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id,omitempty"`
	Login        string `json:"login,omitempty"`
	Provider     string `json:"provider"`
	MobileNumber string `json:"mobile"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

func newWithdrawalResponses(withdrawals []model.Withdrawal, withOwner bool) []withdrawalResponse {
	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for _, wth := range withdrawals {
		item := withdrawalResponse{
			ID:           wth.ID,
			Provider:     wth.Provider,
			MobileNumber: wth.MobileNumber,
			Status:       string(wth.Status),
			CreatedAt:    wth.CreatedAt.Format(time.RFC3339),
		}
		if withOwner {
			item.UserID = wth.UserID
			item.Login = wth.Login
		}
		resp = append(resp, item)
	}
	return resp
}

// GetWithdrawals возвращает историю заявок на вывод текущего пользователя.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return
	}

	withdrawals, err := h.service.ListWithdrawalsByUser(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "get withdrawals error", err, zap.Int64("userID", userID))
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newWithdrawalResponses(withdrawals, false))
}
