package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushTotal tracks push attempts per collection.
	PushTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "total",
			Help:      "Total number of collection push attempts",
		},
		[]string{"collection", "status"}, // success, failure
	)

	// PushDuration tracks push call latency per collection.
	PushDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "duration_seconds",
			Help:      "Push call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"collection"},
	)

	// PullTotal tracks pull attempts per collection.
	PullTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pull",
			Name:      "total",
			Help:      "Total number of collection pull attempts",
		},
		[]string{"collection", "status"}, // success, failure
	)

	// PullDuration tracks pull call latency per collection.
	PullDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pull",
			Name:      "duration_seconds",
			Help:      "Pull call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"collection"},
	)

	// QuarantineTotal tracks collections crossing the consecutive-failure
	// quarantine threshold.
	QuarantineTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "quarantine_total",
			Help:      "Total number of collections quarantined after repeated permanent failures",
		},
		[]string{"collection"},
	)

	// EpochRotations tracks space epoch rotation outcomes.
	EpochRotations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "epoch",
			Name:      "rotations_total",
			Help:      "Total number of epoch rotation attempts",
		},
		[]string{"result"}, // completed, conflict, error
	)

	// PresenceChurn tracks peer join/leave events per space.
	PresenceChurn = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "churn_total",
			Help:      "Total number of presence join/leave/stale events",
		},
		[]string{"event"}, // join, leave, stale
	)
)
