package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessCounters(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.UserRegistered()
	m.UserRegistered()
	m.ClaimSubmitted()
	m.ClaimValidated()
	m.Withdrawal("pending")
	m.Withdrawal("pending")
	m.Withdrawal("refused")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimsValidated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.withdrawals.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.withdrawals.WithLabelValues("refused")))
}

func TestObserveRequest(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.RequestStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))

	m.ObserveRequest(http.MethodGet, "/api/user/profile", http.StatusOK, 15*time.Millisecond)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/user/profile", "200")))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RequestStarted()
		m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
		m.UserRegistered()
		m.ClaimSubmitted()
		m.ClaimValidated()
		m.Withdrawal("pending")
	})
}

func TestHandlerExposesOwnRegistry(t *testing.T) {
	m := New()
	m.UserRegistered()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "moneytoflows_registrations_total 1"))
}
