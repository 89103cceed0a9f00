package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	projectionRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cai",
		Subsystem: "projection",
		Name:      "refresh_total",
		Help:      "Total number of mv_assignments refresh attempts broken down by mode and result.",
	}, []string{"mode", "result"})

	projectionRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cai",
		Subsystem: "projection",
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of a mv_assignments refresh flight, fallback included.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	assignmentReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cai",
		Subsystem: "assignments",
		Name:      "list_total",
		Help:      "Total number of assignment list reads broken down by backend.",
	}, []string{"source"})

	assignmentConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cai",
		Subsystem: "assignments",
		Name:      "conflicts_total",
		Help:      "Total number of assignment writes rejected with a conflict broken down by reason.",
	}, []string{"reason"})
)

func recordRefresh(mode string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	projectionRefreshes.WithLabelValues(mode, result).Inc()
}

func recordRead(source string) {
	assignmentReads.WithLabelValues(source).Inc()
}

func recordConflict(reason string) {
	if reason == "" {
		reason = "other"
	}
	assignmentConflicts.WithLabelValues(reason).Inc()
}
