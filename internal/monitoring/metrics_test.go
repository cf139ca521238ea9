package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveLedgerOp(t *testing.T) {
	m := NewMetrics()
	m.ObserveLedgerOp("debit", "ok", 3*time.Millisecond)
	m.ObserveLedgerOp("debit", "ok", time.Millisecond)
	m.ObserveLedgerOp("debit", "insufficient_balance", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerOpsTotal.WithLabelValues("debit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOpsTotal.WithLabelValues("debit", "insufficient_balance")))
}

func TestSetBalanceDrift(t *testing.T) {
	m := NewMetrics()
	m.SetBalanceDrift(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.balanceDrift))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/cards/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cards/9", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/cards/:id", "404")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "arcadepay_http_requests_total"))
}
