package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus registry and the application collectors.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	entriesPosted   *prometheus.CounterVec
	receiptsTotal   prometheus.Counter
	transfersTotal  prometheus.Counter
	driftGauge      prometheus.Gauge
}

// NewMetrics initialises the registry, HTTP collectors and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpoint_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockpoint_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpoint_ledger_entries_total",
		Help: "Ledger entries posted, partitioned by entry type.",
	}, []string{"type"})
	receipts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockpoint_order_receipts_total",
		Help: "Purchase-order receive operations applied.",
	})
	transfers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockpoint_transfers_completed_total",
		Help: "Stock transfers completed.",
	})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockpoint_ledger_drift_rows",
		Help: "Balance rows diverging from their entry sums, per the last integrity sweep.",
	})
	registry.MustRegister(requests, duration, entries, receipts, transfers, drift)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		entriesPosted:   entries,
		receiptsTotal:   receipts,
		transfersTotal:  transfers,
		driftGauge:      drift,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and durations per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EntryPosted bumps the entries counter. Satisfies the ledger service's
// metrics port.
func (m *Metrics) EntryPosted(entryType string) {
	if m == nil {
		return
	}
	m.entriesPosted.WithLabelValues(entryType).Inc()
	switch entryType {
	case "RECEIPT":
		m.receiptsTotal.Inc()
	case "TRANSFER_IN":
		m.transfersTotal.Inc()
	}
}

// SetDriftRows records the result of the last ledger integrity sweep.
func (m *Metrics) SetDriftRows(n int) {
	if m == nil {
		return
	}
	m.driftGauge.Set(float64(n))
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
