// Package metrics — счётчики Prometheus. nil *Metrics — всё no-op.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campusvote"

type Metrics struct {
	otpIssued        *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	exchangeTokens   *prometheus.CounterVec
	votes            *prometheus.CounterVec
	voteLocks        prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New регистрирует метрики в reg. reg == nil — метрики создаются без регистрации.
func New(reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer
	var gatherer prometheus.Gatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)
	return &Metrics{
		otpIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_issued_total",
			Help:      "number of OTP secrets issued",
		}, []string{"scope"}),
		otpVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_verifications_total",
			Help:      "number of OTP verification attempts",
		}, []string{"scope", "result"}),
		exchangeTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_tokens_total",
			Help:      "number of exchange tokens minted and redeemed",
		}, []string{"op", "result"}),
		votes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "number of ballot mutations",
		}, []string{"action"}),
		voteLocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_locks_total",
			Help:      "number of ballots locked in",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "number of HTTP requests",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		gatherer: gatherer,
	}
}

func (m *Metrics) OTPIssued(scope string) {
	if m == nil {
		return
	}
	m.otpIssued.WithLabelValues(scope).Inc()
}

func (m *Metrics) OTPVerified(scope string, ok bool) {
	if m == nil {
		return
	}
	m.otpVerifications.WithLabelValues(scope, result(ok)).Inc()
}

func (m *Metrics) ExchangeToken(op string, ok bool) {
	if m == nil {
		return
	}
	m.exchangeTokens.WithLabelValues(op, result(ok)).Inc()
}

// Vote — action: cast|update|withdraw|duplicate.
func (m *Metrics) Vote(action string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(action).Inc()
}

func (m *Metrics) VoteLocked() {
	if m == nil {
		return
	}
	m.voteLocks.Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler — /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
