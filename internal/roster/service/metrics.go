package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	propagationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "engine",
		Name:      "propagations_total",
		Help:      "Cache updates applied by the propagation engine, by path.",
	}, []string{"path"}) // incremental / fallback

	recomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "engine",
		Name:      "recomputes_total",
		Help:      "Full recalculations by node kind and whether the result was persisted.",
	}, []string{"kind", "persist"})

	factsReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "engine",
		Name:      "facts_reads_total",
		Help:      "Facts cache reads by result.",
	}, []string{"result"}) // hit / unavailable / fallback

	reconcileRostersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "reconciler",
		Name:      "rosters_total",
		Help:      "Rosters touched by catalogue price changes, by outcome.",
	}, []string{"outcome"}) // draft / settled / rejected / failed

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roster",
		Subsystem: "reconciler",
		Name:      "duration_seconds",
		Help:      "Wall time of one catalogue price change reconciliation.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)

func countRecompute(kind NodeKind, persisted bool) {
	recomputesTotal.WithLabelValues(string(kind), boolLabel(persisted)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
