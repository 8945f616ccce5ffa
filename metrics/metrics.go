// Package metrics exposes the coordinator's operational counters as
// Prometheus collectors, replacing cloudimpl-ByteDB's hand-rolled
// monitoring.CounterMetric/GaugeMetric types (see DESIGN.md) with the
// ecosystem library the rest of the retrieval pack uses for this
// concern (cockroachdb-cockroach, cortexproject-cortex,
// KartikBazzad-bunbase all depend on prometheus/client_golang).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Coordinator bundles every metric one coordinator instance emits.
// Callers register it with a prometheus.Registerer of their choosing
// (a dedicated per-query registry is recommended, since Coordinator
// is per-query and single-use per spec.md §9).
type Coordinator struct {
	QueriesInFlight    prometheus.Gauge
	RemainingBackends  prometheus.Gauge
	ScanRangesTotal    prometheus.Gauge
	ScanRangesComplete prometheus.Gauge
	LaunchLatency      prometheus.Histogram
	CancelRPCsSent     prometheus.Counter
	CancelRPCFailures  prometheus.Counter
	TerminalStatus     *prometheus.CounterVec
}

// NewCoordinator builds a fresh metric set labeled with queryID so
// multiple concurrent coordinators on one process stay distinguishable.
func NewCoordinator(queryID string) *Coordinator {
	labels := prometheus.Labels{"query_id": queryID}
	return &Coordinator{
		QueriesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "querycoord",
			Name:        "queries_in_flight",
			Help:        "1 while this query's Exec/Wait/GetNext lifecycle is active.",
			ConstLabels: labels,
		}),
		RemainingBackends: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "querycoord",
			Name:        "remaining_backends",
			Help:        "Number of fragment instances that have not yet reached a terminal state.",
			ConstLabels: labels,
		}),
		ScanRangesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "querycoord",
			Name:        "scan_ranges_total",
			Help:        "Total scan ranges assigned across all fragments.",
			ConstLabels: labels,
		}),
		ScanRangesComplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "querycoord",
			Name:        "scan_ranges_complete",
			Help:        "Scan ranges completed so far, across all fragments.",
			ConstLabels: labels,
		}),
		LaunchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "querycoord",
			Name:        "fragment_launch_latency_seconds",
			Help:        "Latency of a single ExecPlanFragment RPC during launch.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		CancelRPCsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "querycoord",
			Name:        "cancel_rpcs_sent_total",
			Help:        "CancelPlanFragment RPCs attempted.",
			ConstLabels: labels,
		}),
		CancelRPCFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "querycoord",
			Name:        "cancel_rpc_failures_total",
			Help:        "CancelPlanFragment RPCs that returned an error (best-effort, does not affect query status).",
			ConstLabels: labels,
		}),
		TerminalStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "querycoord",
			Name:        "terminal_status_total",
			Help:        "Count of terminal query outcomes by status kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}
}

// MustRegister registers every collector with r, panicking on a
// duplicate-registration error the way prometheus's own examples do
// for process-lifetime singletons.
func (c *Coordinator) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		c.QueriesInFlight,
		c.RemainingBackends,
		c.ScanRangesTotal,
		c.ScanRangesComplete,
		c.LaunchLatency,
		c.CancelRPCsSent,
		c.CancelRPCFailures,
		c.TerminalStatus,
	)
}
