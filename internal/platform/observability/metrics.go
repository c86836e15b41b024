package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the storefront's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	BackendCallsTotal   *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec
	CartMutationsTotal  *prometheus.CounterVec
	RateQuotesTotal     *prometheus.CounterVec
	OrdersInitialized   *prometheus.CounterVec
	RateLimitedTotal    prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "HTTP requests served, by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		BackendCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_backend_calls_total",
			Help: "Calls made to the commerce backend, by operation and outcome",
		}, []string{"op", "outcome"}),
		BackendCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_backend_call_duration_seconds",
			Help:    "Commerce backend call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		CartMutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Cart mutations, by kind",
		}, []string{"kind"}),
		RateQuotesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_rate_quotes_total",
			Help: "Shipment rate quote requests, by outcome",
		}, []string{"outcome"}),
		OrdersInitialized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_initialized_total",
			Help: "Order initialisation attempts, by delivery type and outcome",
		}, []string{"delivery", "outcome"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "storefront_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBackendCall records one backend call. A nil receiver is a no-op.
func (m *Metrics) ObserveBackendCall(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BackendCallsTotal.WithLabelValues(op, outcome).Inc()
	m.BackendCallDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// CountCartMutation increments the cart mutation counter. A nil receiver is a no-op.
func (m *Metrics) CountCartMutation(kind string) {
	if m == nil {
		return
	}
	m.CartMutationsTotal.WithLabelValues(kind).Inc()
}

// CountRateQuote records a rate quote outcome. A nil receiver is a no-op.
func (m *Metrics) CountRateQuote(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RateQuotesTotal.WithLabelValues(outcome).Inc()
}

// CountOrderInitialized records an order initialisation outcome. A nil receiver is a no-op.
func (m *Metrics) CountOrderInitialized(delivery string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OrdersInitialized.WithLabelValues(delivery, outcome).Inc()
}

// CountRateLimited increments the limiter rejection counter. A nil receiver is a no-op.
func (m *Metrics) CountRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// MetricsMiddleware records request counts and latency per chi route pattern.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := newResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)

			route := SanitizeRoute(routePattern(r))
			method := SanitizeMethod(r.Method)
			m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(recorder.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		})
	}
}
