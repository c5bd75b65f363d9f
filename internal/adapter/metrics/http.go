package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

// Starting a session waits for the device position, which can take most of
// a minute on a cold GPS, so the buckets reach further than the defaults.
var requestBuckets = []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60}

// HTTPMetrics tracks API traffic. Routes are labelled by their registered
// pattern, so a path parameter such as an interest target never becomes a
// label value.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	ThrottledTotal  *prometheus.CounterVec
	InFlightGauge   prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds.",
			Buckets:   requestBuckets,
		}, []string{"method", "route", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests.",
		}, []string{"method", "route", "status_code"}),
		ThrottledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "throttled_requests_total",
			Help:      "API requests rejected by the per-client rate limit.",
		}, []string{"route"}),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of API requests currently being processed.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.ThrottledTotal, m.InFlightGauge)
	return m
}

// untracked routes are health checks, scrapes and the long-lived socket.
func untracked(route string) bool {
	switch route {
	case "/metrics", "/ws", "/version":
		return true
	}
	return strings.HasPrefix(route, "/health/")
}

func routeLabel(route string) string {
	if route == "" || route == "/*" {
		return unmatchedRoute
	}
	return route
}

// responseStatus prefers an echo.HTTPError code when the handler returned
// one that has not been written yet.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && !c.Response().Committed && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}

func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if untracked(route) {
				return next(c)
			}

			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()
			start := time.Now()

			err := next(c)

			label := routeLabel(route)
			status := responseStatus(c, err)
			code := strconv.Itoa(status)
			method := c.Request().Method
			m.RequestDuration.WithLabelValues(method, label, code).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(method, label, code).Inc()
			if status == http.StatusTooManyRequests {
				m.ThrottledTotal.WithLabelValues(label).Inc()
			}
			return err
		}
	}
}
