// Package metrics exposes Prometheus instrumentation for LMS operations.
// Every method is nil-safe so components can run without a registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lms_assistant"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Auth source labels.
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
)

// LMS records metrics for the LMS client and the operations built on it.
type LMS struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	auth       *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

// NewLMS registers the LMS metrics on the provided registerer.
// A nil registerer yields a recorder that drops everything.
func NewLMS(reg prometheus.Registerer) *LMS {
	if reg == nil {
		return &LMS{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Domain operations by capability, outcome and failure kind.",
	}, []string{"operation", "outcome", "kind"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Wall time of domain operations including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Transport retries scheduled by the retry policy.",
	}, []string{"operation"})
	auth := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_total",
		Help:      "Token acquisitions by source and outcome.",
	}, []string{"source", "outcome"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP exchanges with the LMS by endpoint and status code.",
	}, []string{"endpoint", "code"})
	reg.MustRegister(operations, duration, retries, auth, requests)
	return &LMS{
		operations: operations,
		duration:   duration,
		retries:    retries,
		auth:       auth,
		requests:   requests,
	}
}

// ObserveOperation records one finished domain operation.
func (m *LMS) ObserveOperation(operation string, success bool, kind string, d time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	m.operations.WithLabelValues(normalizeLabel(operation), outcome, kind).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}

// IncRetry increments the retry counter for the named operation.
func (m *LMS) IncRetry(operation string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveAuth records a token acquisition.
func (m *LMS) ObserveAuth(source string, success bool) {
	if m == nil || m.auth == nil {
		return
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	m.auth.WithLabelValues(normalizeLabel(source), outcome).Inc()
}

// ObserveRequest records one HTTP exchange. code is 0 when no response arrived.
func (m *LMS) ObserveRequest(endpoint string, code int) {
	if m == nil || m.requests == nil {
		return
	}
	label := "none"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.requests.WithLabelValues(normalizeLabel(endpoint), label).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
