package search

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the prometheus collectors updated by the Controller.
type Metrics struct {
	Attempts prometheus.Counter
	Rejected prometheus.Counter
	Sessions *prometheus.GaugeVec
	Matches  prometheus.Counter
	Failures prometheus.Counter
}

// NewMetrics creates the search collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletscan",
			Subsystem: "search",
			Name:      "attempts_total",
			Help:      "Checksum-valid candidates evaluated.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletscan",
			Subsystem: "search",
			Name:      "rejected_total",
			Help:      "Candidates discarded for an invalid checksum.",
		}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "walletscan",
			Subsystem: "search",
			Name:      "sessions",
			Help:      "Held sessions by state.",
		}, []string{"state"}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletscan",
			Subsystem: "search",
			Name:      "matches_total",
			Help:      "Sessions that found a matching wallet.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletscan",
			Subsystem: "search",
			Name:      "failures_total",
			Help:      "Sessions that failed on a derivation error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Rejected, m.Sessions, m.Matches, m.Failures)
	}
	return m
}

// observe adds the counter deltas since the previous observation.
func (m *Metrics) observe(prevAttempts, attempts, prevRejected, rejected uint64) {
	if m == nil {
		return
	}
	if attempts > prevAttempts {
		m.Attempts.Add(float64(attempts - prevAttempts))
	}
	if rejected > prevRejected {
		m.Rejected.Add(float64(rejected - prevRejected))
	}
}

func (m *Metrics) transition(from, to State) {
	if m == nil || from == to {
		return
	}
	if from != StateIdle {
		m.Sessions.WithLabelValues(from.String()).Dec()
	}
	if to != StateIdle {
		m.Sessions.WithLabelValues(to.String()).Inc()
	}
	switch to {
	case StateMatched:
		m.Matches.Inc()
	case StateFailed:
		m.Failures.Inc()
	}
}
