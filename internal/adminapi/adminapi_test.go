package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/InSimo/fastbuild/internal/config"
	"github.com/InSimo/fastbuild/internal/serverstate"
)

func newTestTable(t *testing.T) *serverstate.Table {
	t.Helper()
	table := serverstate.NewTable(nil, []string{"w1"})
	e, _ := table.ByName("w1")
	e.BeginControlSend(nil, nil, true)
	e.CommandSent()
	e.CommandResolved(true)
	e.SetInfo(serverstate.Info{NumCPUTotal: 8, NumCPUIdle: 8})
	return table
}

func TestHandleStatusReturnsRenderedRows(t *testing.T) {
	s := New(config.AdminAPIConfig{Port: 0}, newTestTable(t), prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "w1")
}

func TestHandleStatusWithoutTableReturnsNotFound(t *testing.T) {
	s := New(config.AdminAPIConfig{Port: 0}, nil, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "adminapi_test_total"})
	counter.Inc()
	reg.MustRegister(counter)

	s := New(config.AdminAPIConfig{Port: 0}, nil, reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "adminapi_test_total")
}
