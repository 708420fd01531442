// Package handler содержит HTTP-обработчики API сервиса MoneyToFlows.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/moneytoflows/internal/metrics"
	"github.com/mmeshcher/moneytoflows/internal/middleware"
	"github.com/mmeshcher/moneytoflows/internal/model"
	"github.com/mmeshcher/moneytoflows/internal/repository"
	"github.com/mmeshcher/moneytoflows/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, reg service.Registration) (*model.User, error)
	AuthenticateUser(ctx context.Context, login, password string) (*service.Identity, error)
	IsAdmin(login string) bool
	GetProfile(ctx context.Context, userID int64) (*model.User, error)
	ComputeReward(ctx context.Context, userID int64) (*model.Reward, error)
	SubmitClaim(ctx context.Context, userID int64, reference string) (int64, error)
	ListClaimsByUser(ctx context.Context, userID int64) ([]model.PurchaseClaim, error)
	Providers() []string
	RequestWithdrawal(ctx context.Context, userID int64, provider, mobileNumber string) (int64, error)
	ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListPendingClaims(ctx context.Context) ([]model.PurchaseClaim, error)
	ValidateClaim(ctx context.Context, claimID int64) (int64, error)
	ListOutstanding(ctx context.Context) ([]model.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, id int64) error
	RefuseWithdrawal(ctx context.Context, id int64) error
}

// Settings содержит параметры HTTP-слоя.
type Settings struct {
	ProductName   string
	AchatLink     string
	PublicBaseURL string
	Metrics       *metrics.Metrics
	AuthLimiter   *middleware.RateLimiter
	// TrustProxy разрешает читать адрес клиента и схему из заголовков прокси.
	TrustProxy bool
}

// Handler реализует HTTP-обработчики API сервиса MoneyToFlows.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	settings       Settings
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, settings Settings) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		settings:       settings,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.Error(err),
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
	)
	h.logger.Error(msg, fields...)
	writeStatus(w, http.StatusInternalServerError)
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type registerRequest struct {
	Login        string `json:"login"`
	Password     string `json:"password"`
	Email        string `json:"email"`
	Country      string `json:"country"`
	Mobile       string `json:"mobile"`
	Provider     string `json:"provider"`
	ReferrerCode string `json:"referrer_code"`
}

type registerResponse struct {
	ID           int64  `json:"id"`
	ReferralCode string `json:"referral_code"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	if req.ReferrerCode == "" {
		req.ReferrerCode = r.URL.Query().Get("ref")
	}

	u, err := h.service.RegisterUser(r.Context(), service.Registration{
		Login:        req.Login,
		Password:     req.Password,
		Email:        req.Email,
		Country:      req.Country,
		Mobile:       req.Mobile,
		Provider:     req.Provider,
		ReferrerCode: req.ReferrerCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			writeStatus(w, http.StatusConflict)
		case errors.Is(err, service.ErrInvalidRegistration), errors.Is(err, service.ErrUnknownReferrer):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.internalError(w, r, "register user error", err, zap.String("login", req.Login))
		}
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, u.ID, u.Login, h.service.IsAdmin(u.Login)); err != nil {
		h.internalError(w, r, "issue session error", err, zap.Int64("userID", u.ID))
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{ID: u.ID, ReferralCode: u.ReferralCode})
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Admin bool   `json:"admin"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	id, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeStatus(w, http.StatusUnauthorized)
			return
		}
		h.internalError(w, r, "login user error", err)
		return
	}

	if err := h.authMiddleware.SetAuthCookie(w, id.UserID, id.Login, id.Admin); err != nil {
		h.internalError(w, r, "issue session error", err, zap.Int64("userID", id.UserID))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{ID: id.UserID, Login: id.Login, Admin: id.Admin})
}

// Logout отзывает текущую сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authMiddleware.Logout(w, r); err != nil {
		h.internalError(w, r, "logout error", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type productResponse struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// Product возвращает название продукта и ссылку на покупку.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, productResponse{Name: h.settings.ProductName, Link: h.settings.AchatLink})
}
