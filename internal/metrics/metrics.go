// Package metrics carries the ambient observability surface of the
// core: collectors for decision outcomes by source, ODP queue health,
// and CMAB latency. Only the ODP event manager records to them; nothing
// in this module records decisions or CMAB latency. These are process-local Prometheus collectors, not
// part of the public decide API (spec §1 Non-goals excludes the
// public surface, not ambient instrumentation).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the decision, ODP and CMAB collectors. NewNoop
// gives a Registry that no exposed registry gathers, which is the
// default for callers that don't want to wire a Prometheus registry.
type Registry struct {
	DecisionsBySource *prometheus.CounterVec
	OdpQueueDepth     prometheus.Gauge
	OdpFlushOutcomes  *prometheus.CounterVec
	CmabLatency       prometheus.Histogram
}

// New registers a fresh set of collectors on reg and returns the
// bundle. Panics if any metric name collides with one already
// registered on reg, matching prometheus.MustRegister's behavior.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		DecisionsBySource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizely_decisions_total",
			Help: "Decisions served, partitioned by pipeline source.",
		}, []string{"source"}),
		OdpQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizely_odp_queue_depth",
			Help: "Current depth of the ODP event manager's queue.",
		}),
		OdpFlushOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizely_odp_flush_outcomes_total",
			Help: "ODP event batch flush outcomes, partitioned by result.",
		}, []string{"outcome"}),
		CmabLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "optimizely_cmab_predict_seconds",
			Help: "Latency of CMAB prediction requests, including retries.",
		}),
	}
	reg.MustRegister(r.DecisionsBySource, r.OdpQueueDepth, r.OdpFlushOutcomes, r.CmabLatency)
	return r
}

// NewNoop returns a Registry whose collectors are registered only on a
// fresh private prometheus.Registry that nothing gathers, so its
// observations are simply retained in-process.
func NewNoop() *Registry {
	return New(prometheus.NewRegistry())
}
