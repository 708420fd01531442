// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moneytoflows"

// Metrics объединяет HTTP-метрики и бизнес-счётчики. Методы безопасны для nil-получателя.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registrations   prometheus.Counter
	claimsSubmitted prometheus.Counter
	claimsValidated prometheus.Counter
	withdrawals     *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в отдельном реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.gatherer = reg
	return m
}

// NewWithRegisterer создаёт метрики и регистрирует их в reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registered users.",
		}),
		claimsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_claims_submitted_total",
			Help:      "Purchase claims submitted by users.",
		}),
		claimsValidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_claims_validated_total",
			Help:      "Purchase claims validated by the admin.",
		}),
		withdrawals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawals_total",
				Help:      "Withdrawal requests by resulting status.",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.registrations,
		m.claimsSubmitted,
		m.claimsValidated,
		m.withdrawals,
	)

	return m
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RequestStarted увеличивает число запросов в полёте.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// ObserveRequest фиксирует завершённый HTTP-запрос.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpInFlight.Dec()
	m.httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// UserRegistered учитывает регистрацию.
func (m *Metrics) UserRegistered() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// ClaimSubmitted учитывает заявленную покупку.
func (m *Metrics) ClaimSubmitted() {
	if m == nil {
		return
	}
	m.claimsSubmitted.Inc()
}

// ClaimValidated учитывает подтверждённую покупку.
func (m *Metrics) ClaimValidated() {
	if m == nil {
		return
	}
	m.claimsValidated.Inc()
}

// Withdrawal учитывает заявку на вывод в статусе status.
func (m *Metrics) Withdrawal(status string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(status).Inc()
}
