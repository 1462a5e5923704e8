package rpc

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics count RPC calls by method and result code.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the RPC collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletscan",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "JSON-RPC calls by method and result code (0 on success).",
		}, []string{"method", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletscan",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "JSON-RPC call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Duration)
	}
	return m
}

func (m *Metrics) observe(method string, rpcErr *Error, took time.Duration) {
	if m == nil {
		return
	}
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	// Unknown methods are counted under one label.
	if code == CodeMethodNotFound {
		method = "unknown"
	}
	m.Calls.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.Duration.WithLabelValues(method).Observe(took.Seconds())
}
