package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments the Orchestrator exposes on
// /metrics (spec.md §5.M supplement). A fresh instance is registered
// against the caller-supplied Registerer so tests can use their own
// registry instead of polluting the global default.
type metrics struct {
	ingestUnitsTotal *prometheus.CounterVec
	askStageSeconds  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		ingestUnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditrag",
			Subsystem: "ingest",
			Name:      "units_total",
			Help:      "Ingest units processed, partitioned by outcome (new, skipped, updated, failed).",
		}, []string{"outcome"}),

		askStageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auditrag",
			Subsystem: "ask",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each ask pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}
