package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/moneytoflows/internal/metrics"
)

// Instrument собирает число запросов, их длительность и число запросов в полёте.
// В метку route попадает шаблон маршрута chi, а не сырой путь.
func Instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestStarted()

			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}

			m.ObserveRequest(r.Method, route, rw.statusCode(), time.Since(start))
		})
	}
}
