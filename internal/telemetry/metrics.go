package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat outcomes used as the "outcome" label.
const (
	OutcomeReply    = "reply"
	OutcomeFallback = "fallback"
	OutcomeInvalid  = "invalid"
	OutcomeUpstream = "upstream_error"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	chatRequests    *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	tokens          *prometheus.CounterVec
	sessionsSwept   prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

// NewMetrics registers the relay collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_chat_requests_total",
			Help: "Chat requests handled, by outcome.",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Latency of completion provider calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tokens_total",
			Help: "Tokens reported by the completion provider.",
		}, []string{"type"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_swept_total",
			Help: "Idle sessions removed by the sweeper.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
	}
	m.registry.MustRegister(
		m.chatRequests,
		m.upstreamLatency,
		m.tokens,
		m.sessionsSwept,
		m.httpRequests,
		collectors.NewGoCollector(),
	)
	return m
}

// ChatOutcome counts one handled chat request.
func (m *Metrics) ChatOutcome(outcome string) {
	m.chatRequests.WithLabelValues(outcome).Inc()
}

// UpstreamCall records one provider call.
func (m *Metrics) UpstreamCall(d time.Duration, inputTokens, outputTokens int) {
	m.upstreamLatency.Observe(d.Seconds())
	m.tokens.WithLabelValues("input").Add(float64(inputTokens))
	m.tokens.WithLabelValues("output").Add(float64(outputTokens))
}

// SessionsSwept counts sessions removed by the sweeper.
func (m *Metrics) SessionsSwept(n int) {
	m.sessionsSwept.Add(float64(n))
}

// HTTPRequest counts one served HTTP request.
func (m *Metrics) HTTPRequest(method string, code int) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
