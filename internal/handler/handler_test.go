package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/moneytoflows/internal/middleware"
	"github.com/mmeshcher/moneytoflows/internal/model"
	"github.com/mmeshcher/moneytoflows/internal/repository"
	"github.com/mmeshcher/moneytoflows/internal/service"
	"github.com/mmeshcher/moneytoflows/internal/session"
)

type stubService struct {
	registerUser *model.User
	registerErr  error
	registerReq  service.Registration

	authIdentity *service.Identity
	authErr      error

	profile    *model.User
	profileErr error

	reward    *model.Reward
	rewardErr error

	claimID     int64
	claimErr    error
	claimCalls  int
	claimsResp  []model.PurchaseClaim
	validateErr error

	withdrawID      int64
	withdrawErr     error
	withdrawalsResp []model.Withdrawal
	transitionErr   error

	users []model.User
}

func (s *stubService) RegisterUser(ctx context.Context, reg service.Registration) (*model.User, error) {
	s.registerReq = reg
	return s.registerUser, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*service.Identity, error) {
	return s.authIdentity, s.authErr
}

func (s *stubService) IsAdmin(login string) bool {
	return login == "admin"
}

func (s *stubService) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	return s.profile, s.profileErr
}

func (s *stubService) ComputeReward(ctx context.Context, userID int64) (*model.Reward, error) {
	return s.reward, s.rewardErr
}

func (s *stubService) SubmitClaim(ctx context.Context, userID int64, reference string) (int64, error) {
	s.claimCalls++
	return s.claimID, s.claimErr
}

func (s *stubService) ListClaimsByUser(ctx context.Context, userID int64) ([]model.PurchaseClaim, error) {
	return s.claimsResp, nil
}

func (s *stubService) Providers() []string {
	return []string{"MTN MoMo", "Wave"}
}

func (s *stubService) RequestWithdrawal(ctx context.Context, userID int64, provider, mobileNumber string) (int64, error) {
	return s.withdrawID, s.withdrawErr
}

func (s *stubService) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return s.withdrawalsResp, nil
}

func (s *stubService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users, nil
}

func (s *stubService) ListPendingClaims(ctx context.Context) ([]model.PurchaseClaim, error) {
	return s.claimsResp, nil
}

func (s *stubService) ValidateClaim(ctx context.Context, claimID int64) (int64, error) {
	return 9, s.validateErr
}

func (s *stubService) ListOutstanding(ctx context.Context) ([]model.Withdrawal, error) {
	return s.withdrawalsResp, nil
}

func (s *stubService) ApproveWithdrawal(ctx context.Context, id int64) error {
	return s.transitionErr
}

func (s *stubService) RefuseWithdrawal(ctx context.Context, id int64) error {
	return s.transitionErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	sessions, err := session.NewManager("test-secret")
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	auth := middleware.NewAuthMiddleware(sessions)

	return NewHandler(svc, logger, auth, Settings{
		ProductName: "Pack",
		AchatLink:   "https://shop.example/p",
	})
}

func sessionCookie(t *testing.T, h *Handler, userID int64, admin bool) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	if err := h.authMiddleware.SetAuthCookie(rec, userID, "user", admin); err != nil {
		t.Fatalf("SetAuthCookie: %v", err)
	}
	return rec.Result().Cookies()[0]
}

func doRequest(t *testing.T, h *Handler, method, target string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUser: &model.User{ID: 42, Login: "user", ReferralCode: "2aabcdef"},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/user/register?ref=fromlink", registerRequest{
		Login:    "user",
		Password: "pass",
	}, nil)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("register must set the session cookie")
	}
	if svc.registerReq.ReferrerCode != "fromlink" {
		t.Fatalf("referrer code = %q, want query value", svc.registerReq.ReferrerCode)
	}

	var resp registerResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 42 || resp.ReferralCode != "2aabcdef" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRegister_BodyReferrerWins(t *testing.T) {
	svc := &stubService{registerUser: &model.User{ID: 1, Login: "u"}}
	h := newTestHandler(t, svc)

	doRequest(t, h, http.MethodPost, "/api/user/register?ref=fromlink", registerRequest{
		Login:        "u",
		Password:     "p",
		ReferrerCode: "frombody",
	}, nil)

	if svc.registerReq.ReferrerCode != "frombody" {
		t.Fatalf("referrer code = %q, want body value", svc.registerReq.ReferrerCode)
	}
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		req  registerRequest
		want int
	}{
		{name: "empty login", req: registerRequest{Password: "p"}, want: http.StatusBadRequest},
		{name: "duplicate", err: repository.ErrUserExists, req: registerRequest{Login: "u", Password: "p"}, want: http.StatusConflict},
		{name: "unknown referrer", err: fmt.Errorf("%w: x", service.ErrUnknownReferrer), req: registerRequest{Login: "u", Password: "p"}, want: http.StatusBadRequest},
		{name: "store failure", err: repository.ErrReferralCodeExists, req: registerRequest{Login: "u", Password: "p"}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{registerErr: tt.err})

			rec := doRequest(t, h, http.MethodPost, "/api/user/register", tt.req, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestLogin_SetsAdminSession(t *testing.T) {
	svc := &stubService{
		authIdentity: &service.Identity{UserID: 3, Login: "admin", Admin: true},
		users:        []model.User{{ID: 3, Login: "admin"}},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "admin", Password: "x"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("login must set the session cookie")
	}

	rec = doRequest(t, h, http.MethodGet, "/api/admin/users", nil, cookies[0])
	if rec.Code != http.StatusOK {
		t.Fatalf("admin users status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdminRoutes_Gate(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	if rec := doRequest(t, h, http.MethodGet, "/api/admin/users", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	cookie := sessionCookie(t, h, 1, false)
	if rec := doRequest(t, h, http.MethodGet, "/api/admin/users", nil, cookie); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	svc := &stubService{profile: &model.User{ID: 1, Login: "user"}}
	h := newTestHandler(t, svc)
	cookie := sessionCookie(t, h, 1, false)

	if rec := doRequest(t, h, http.MethodPost, "/api/user/logout", nil, cookie); rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/api/user/profile", nil, cookie); rec.Code != http.StatusUnauthorized {
		t.Fatalf("profile after logout status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestDashboard(t *testing.T) {
	svc := &stubService{
		profile: &model.User{ID: 1, Login: "alice", ReferralCode: "1abc", Purchases: 2},
		reward: &model.Reward{
			Referrals: 4,
			Buyers:    2,
			Amount:    decimal.NewFromInt(2000),
			Threshold: 5,
		},
	}
	h := newTestHandler(t, svc)
	h.settings.PublicBaseURL = "https://mtf.example"

	rec := doRequest(t, h, http.MethodGet, "/api/user/dashboard", nil, sessionCookie(t, h, 1, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp dashboardResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ReferralLink != "https://mtf.example/register?ref=1abc" {
		t.Fatalf("referral link = %q", resp.ReferralLink)
	}
	if resp.Buyers != 2 || !resp.Amount.Equal(decimal.NewFromInt(2000)) || resp.Eligible {
		t.Fatalf("unexpected dashboard: %+v", resp)
	}
	if resp.Product.Link != "https://shop.example/p" {
		t.Fatalf("product link = %q", resp.Product.Link)
	}
}

func TestReferral_LinkFromRequestHost(t *testing.T) {
	svc := &stubService{profile: &model.User{ID: 1, Login: "alice", ReferralCode: "1abc"}}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/user/referral", nil, sessionCookie(t, h, 1, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp referralResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Link != "http://example.com/register?ref=1abc" {
		t.Fatalf("link = %q", resp.Link)
	}
}

func TestSubmitPurchase(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		err       error
		want      int
		wantCalls int
	}{
		{name: "accepted", reference: "R-1", want: http.StatusAccepted, wantCalls: 1},
		{name: "blank reference", reference: "   ", want: http.StatusBadRequest},
		{name: "too long reference", reference: strings.Repeat("x", 129), want: http.StatusBadRequest},
		{name: "store error", reference: "R-2", err: errors.New("db down"), want: http.StatusInternalServerError, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{claimID: 5, claimErr: tt.err}
			h := newTestHandler(t, svc)

			rec := doRequest(t, h, http.MethodPost, "/api/user/purchases", claimRequest{Reference: tt.reference}, sessionCookie(t, h, 1, false))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if svc.claimCalls != tt.wantCalls {
				t.Fatalf("SubmitClaim calls = %d, want %d", svc.claimCalls, tt.wantCalls)
			}
		})
	}
}

func TestGetPurchases_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{claimsResp: []model.PurchaseClaim{}})

	rec := doRequest(t, h, http.MethodGet, "/api/user/purchases", nil, sessionCookie(t, h, 1, false))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestWithdraw(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "accepted", want: http.StatusAccepted},
		{name: "below threshold", err: fmt.Errorf("%w: 4 of 5 buyers", service.ErrBelowThreshold), want: http.StatusPaymentRequired},
		{name: "invalid input", err: fmt.Errorf("%w: unknown provider", service.ErrInvalidWithdrawal), want: http.StatusBadRequest},
		{name: "internal", err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{withdrawID: 8, withdrawErr: tt.err})

			rec := doRequest(t, h, http.MethodPost, "/api/user/withdrawals", withdrawRequest{Provider: "Wave", Mobile: "+221771234567"}, sessionCookie(t, h, 1, false))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetWithdrawals_JSONResponse(t *testing.T) {
	now := time.Now()
	svc := &stubService{
		withdrawalsResp: []model.Withdrawal{
			{ID: 1, Provider: "Wave", MobileNumber: "+221771234567", Status: model.WithdrawalStatusPending, CreatedAt: now},
		},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/user/withdrawals", nil, sessionCookie(t, h, 1, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp []withdrawalResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Status != "pending" || resp[0].Provider != "Wave" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdminValidatePurchase(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{name: "ok", target: "/api/admin/purchases/1/validate", want: http.StatusOK},
		{name: "bad id", target: "/api/admin/purchases/abc/validate", want: http.StatusBadRequest},
		{name: "unknown", target: "/api/admin/purchases/2/validate", err: repository.ErrClaimNotFound, want: http.StatusNotFound},
		{name: "already validated", target: "/api/admin/purchases/3/validate", err: repository.ErrClaimAlreadyValidated, want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{validateErr: tt.err})

			rec := doRequest(t, h, http.MethodPost, tt.target, nil, sessionCookie(t, h, 1, true))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAdminWithdrawalTransitions(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{name: "approve", target: "/api/admin/withdrawals/1/approve", want: http.StatusOK},
		{name: "refuse", target: "/api/admin/withdrawals/1/refuse", want: http.StatusOK},
		{name: "unknown", target: "/api/admin/withdrawals/9/approve", err: repository.ErrWithdrawalNotFound, want: http.StatusNotFound},
		{name: "terminal", target: "/api/admin/withdrawals/1/refuse", err: fmt.Errorf("%w: validated -> refused", model.ErrInvalidTransition), want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{transitionErr: tt.err})

			rec := doRequest(t, h, http.MethodPost, tt.target, nil, sessionCookie(t, h, 1, true))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestProduct_Public(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doRequest(t, h, http.MethodGet, "/api/product", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp productResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Name != "Pack" {
		t.Fatalf("name = %q", resp.Name)
	}
}

func TestRateLimit_OnAuthRoutes(t *testing.T) {
	svc := &stubService{authErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc)
	h.settings.AuthLimiter = middleware.NewRateLimiter(0.001, 1)

	first := doRequest(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "u", Password: "p"}, nil)
	if first.Code != http.StatusUnauthorized {
		t.Fatalf("first status = %d, want %d", first.Code, http.StatusUnauthorized)
	}

	second := doRequest(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "u", Password: "p"}, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
}

func TestRateLimit_ForwardedForRequiresTrustedProxy(t *testing.T) {
	login := func(router http.Handler, forwardedFor string) int {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(credentialsRequest{Login: "u", Password: "p"}); err != nil {
			t.Fatalf("encode body: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/user/login", &buf)
		req.RemoteAddr = "198.51.100.7:4321"
		req.Header.Set("X-Forwarded-For", forwardedFor)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("untrusted", func(t *testing.T) {
		h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})
		h.settings.AuthLimiter = middleware.NewRateLimiter(0.001, 1)
		router := h.SetupRouter()

		if code := login(router, "203.0.113.1"); code != http.StatusUnauthorized {
			t.Fatalf("first status = %d, want %d", code, http.StatusUnauthorized)
		}
		if code := login(router, "203.0.113.2"); code != http.StatusTooManyRequests {
			t.Fatalf("rotated X-Forwarded-For status = %d, want %d", code, http.StatusTooManyRequests)
		}
	})

	t.Run("trusted", func(t *testing.T) {
		h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})
		h.settings.AuthLimiter = middleware.NewRateLimiter(0.001, 1)
		h.settings.TrustProxy = true
		router := h.SetupRouter()

		if code := login(router, "203.0.113.1"); code != http.StatusUnauthorized {
			t.Fatalf("first client status = %d, want %d", code, http.StatusUnauthorized)
		}
		if code := login(router, "203.0.113.2"); code != http.StatusUnauthorized {
			t.Fatalf("second client status = %d, want %d", code, http.StatusUnauthorized)
		}
		if code := login(router, "203.0.113.1"); code != http.StatusTooManyRequests {
			t.Fatalf("repeated client status = %d, want %d", code, http.StatusTooManyRequests)
		}
	})
}

func TestReferral_ForwardedProtoRequiresTrustedProxy(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		want       string
	}{
		{name: "untrusted", want: "http://example.com/register?ref=1abc"},
		{name: "trusted", trustProxy: true, want: "https://example.com/register?ref=1abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{profile: &model.User{ID: 1, Login: "alice", ReferralCode: "1abc"}})
			h.settings.TrustProxy = tt.trustProxy

			req := httptest.NewRequest(http.MethodGet, "/api/user/referral", nil)
			req.Header.Set("X-Forwarded-Proto", "https")
			req.AddCookie(sessionCookie(t, h, 1, false))

			rec := httptest.NewRecorder()
			h.SetupRouter().ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			var resp referralResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Link != tt.want {
				t.Fatalf("link = %q, want %q", resp.Link, tt.want)
			}
		})
	}
}

func TestRouter_GzipRoundTrip(t *testing.T) {
	svc := &stubService{
		registerUser: &model.User{ID: 42, Login: "user", ReferralCode: "2aabcdef"},
		profile:      &model.User{ID: 42, Login: "user", ReferralCode: "2aabcdef"},
		reward:       &model.Reward{Referrals: 1, Buyers: 1, Amount: decimal.NewFromInt(1000), Threshold: 5},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(registerRequest{Login: "user", Password: "pass", ReferrerCode: "1abc"}); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if res.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("register response must be gzip encoded")
	}
	if svc.registerReq.Login != "user" || svc.registerReq.ReferrerCode != "1abc" {
		t.Fatalf("compressed body not decoded: %+v", svc.registerReq)
	}

	var reg registerResponse
	decodeGzip(t, res, &reg)
	if reg.ID != 42 || reg.ReferralCode != "2aabcdef" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	cookies := res.Cookies()
	if len(cookies) == 0 {
		t.Fatalf("register must set the session cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/user/dashboard", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res = rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if res.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("dashboard response must be gzip encoded")
	}

	var dash dashboardResponse
	decodeGzip(t, res, &dash)
	if dash.Buyers != 1 || !dash.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected dashboard: %+v", dash)
	}
}

func decodeGzip(t *testing.T, res *http.Response, v any) {
	t.Helper()

	zr, err := gzip.NewReader(res.Body)
	if err != nil {
		t.Fatalf("new gzip reader: %v", err)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
