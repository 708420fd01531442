package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/moneytoflows/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса MoneyToFlows.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	if h.settings.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(custommiddleware.Instrument(h.settings.Metrics))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", h.settings.Metrics.Handler())

	r.Get("/api/product", h.Product)

	r.Route("/api/user", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.settings.AuthLimiter != nil {
				r.Use(h.settings.AuthLimiter.Handler)
			}

			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/logout", h.Logout)
			r.Get("/profile", h.Profile)
			r.Get("/referral", h.Referral)
			r.Get("/dashboard", h.Dashboard)

			r.Post("/purchases", h.SubmitPurchase)
			r.Get("/purchases", h.GetPurchases)

			r.Get("/providers", h.Providers)
			r.Post("/withdrawals", h.Withdraw)
			r.Get("/withdrawals", h.GetWithdrawals)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.AdminOnly)

		r.Get("/users", h.AdminUsers)
		r.Get("/purchases/pending", h.AdminPendingPurchases)
		r.Post("/purchases/{id}/validate", h.AdminValidatePurchase)
		r.Get("/withdrawals", h.AdminWithdrawals)
		r.Post("/withdrawals/{id}/approve", h.AdminApproveWithdrawal)
		r.Post("/withdrawals/{id}/refuse", h.AdminRefuseWithdrawal)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
