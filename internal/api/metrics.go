package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kdimtricp/vproctor/internal/models"
)

// Metrics holds the collector's counters on a private registry so tests can
// build many routers in one process.
type Metrics struct {
	registry *prometheus.Registry

	violationsTotal  *prometheus.CounterVec
	ingestErrors     prometheus.Counter
	duplicatesTotal  prometheus.Counter
	requestDurations *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vproctor_violations_total",
				Help: "Violations stored by the collector",
			},
			[]string{"event_type"},
		),
		ingestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vproctor_violation_ingest_errors_total",
			Help: "Violation submissions rejected or failed",
		}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vproctor_violation_duplicates_total",
			Help: "Violation submissions acknowledged without a new row",
		}),
		requestDurations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vproctor_request_duration_seconds",
				Help:    "Collector request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}

	m.registry.MustRegister(
		m.violationsTotal,
		m.ingestErrors,
		m.duplicatesTotal,
		m.requestDurations,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordViolation(eventType models.EventType) {
	m.violationsTotal.WithLabelValues(string(eventType)).Inc()
}

// Instrument observes latency per chi route pattern, not per raw path, to
// keep label cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDurations.
			WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
