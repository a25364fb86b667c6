// Package metrics exposes Prometheus collectors for the authority core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups the authority core's Prometheus collectors. Construct one
// per process with NewRegistry and register it with an
// http.Handler (promhttp.HandlerFor) at the process entrypoint. No package
// in internal/authority updates these collectors.
type Registry struct {
	Registerer prometheus.Registerer

	DispatchTotal      *prometheus.CounterVec
	DispatchDurationMS prometheus.Histogram
	PolicyViolations   *prometheus.CounterVec
	LeaseRevocations   *prometheus.CounterVec
	ForensicEntries    prometheus.Counter
}

// NewRegistry builds and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		Registerer: reg,
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authority_dispatch_total",
			Help: "Total dispatch attempts by outcome status.",
		}, []string{"status"}),
		DispatchDurationMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authority_dispatch_duration_ms",
			Help:    "Dispatch pipeline latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		PolicyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authority_policy_violations_total",
			Help: "Policy Engine violations by severity.",
		}, []string{"severity"}),
		LeaseRevocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authority_lease_revocations_total",
			Help: "Lease revocations by reason.",
		}, []string{"reason"}),
		ForensicEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authority_forensic_entries_total",
			Help: "Total forensic log entries written.",
		}),
	}
	reg.MustRegister(m.DispatchTotal, m.DispatchDurationMS, m.PolicyViolations, m.LeaseRevocations, m.ForensicEntries)
	return m
}
