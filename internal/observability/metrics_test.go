package observability

import (
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

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.CacheHit("order")
	m.CacheHit("order")
	m.CacheMiss("order_list")
	m.CacheError("get")
	m.DecodeFailure("order")
	m.Invalidation("order:1")
	m.Invalidation("user_orders:1")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses.WithLabelValues("order_list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheErrors.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeFails.WithLabelValues("order")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.invalidations))
}

func TestHandler_ExposesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)
	m.ObserveHTTP("/orders/:order_id", http.StatusOK, 12*time.Millisecond)
	m.ObserveStore("get_order", 3*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `orders_http_requests_total{route="/orders/:order_id",status="200"} 1`))
	assert.True(t, strings.Contains(body, "orders_store_operation_duration_seconds"))
}
