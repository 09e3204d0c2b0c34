package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is what the order service reports about itself.
type Metrics interface {
	CacheHit(kind string)
	CacheMiss(kind string)
	CacheError(op string)
	DecodeFailure(kind string)
	Invalidation(key string)
	ObserveStore(op string, d time.Duration)
	ObserveHTTP(route string, status int, d time.Duration)
}

type Prometheus struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	cacheErrors   *prometheus.CounterVec
	decodeFails   *prometheus.CounterVec
	invalidations prometheus.Counter
	storeLatency  *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpLatencyMS *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups answered from the cache.",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that fell through to the store.",
		}, []string{"kind"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Cache operations that failed and were bypassed.",
		}, []string{"op"}),
		decodeFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "cache",
			Name:      "decode_failures_total",
			Help:      "Cached payloads that could not be decoded.",
		}, []string{"kind"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache keys deleted after a committed write.",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orders",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store gateway operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		httpLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orders",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}

	reg.MustRegister(
		p.cacheHits, p.cacheMisses, p.cacheErrors, p.decodeFails,
		p.invalidations, p.storeLatency, p.httpRequests, p.httpLatencyMS,
	)
	return p
}

func (p *Prometheus) CacheHit(kind string)      { p.cacheHits.WithLabelValues(kind).Inc() }
func (p *Prometheus) CacheMiss(kind string)     { p.cacheMisses.WithLabelValues(kind).Inc() }
func (p *Prometheus) CacheError(op string)      { p.cacheErrors.WithLabelValues(op).Inc() }
func (p *Prometheus) DecodeFailure(kind string) { p.decodeFails.WithLabelValues(kind).Inc() }
func (p *Prometheus) Invalidation(string)       { p.invalidations.Inc() }

func (p *Prometheus) ObserveStore(op string, d time.Duration) {
	p.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) ObserveHTTP(route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	p.httpLatencyMS.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

// Handler exposes the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type Noop struct{}

func (Noop) CacheHit(string)                         {}
func (Noop) CacheMiss(string)                        {}
func (Noop) CacheError(string)                       {}
func (Noop) DecodeFailure(string)                    {}
func (Noop) Invalidation(string)                     {}
func (Noop) ObserveStore(string, time.Duration)      {}
func (Noop) ObserveHTTP(string, int, time.Duration) {}
