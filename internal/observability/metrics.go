package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "ticks_total",
		Help:      "Processing ticks by outcome",
	}, []string{"outcome"})

	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "ticks_dropped_total",
		Help:      "Ticks skipped because the previous tick was still in flight",
	})

	PerceptionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "perception_duration_seconds",
		Help:      "Duration of capture, detection and embedding calls",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	PerceptionTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "perception_timeouts_total",
		Help:      "Perception calls abandoned at their deadline",
	}, []string{"stage"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "recognitions_total",
		Help:      "Recognition attempts by result",
	}, []string{"result"})

	AttendanceCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "attendance_commits_total",
		Help:      "Attendance events committed by kind",
	}, []string{"kind"})

	PendingCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fd",
		Name:      "pending_commit_cancellations_total",
		Help:      "Pending commits cancelled before their grace period elapsed",
	}, []string{"reason"})

	EnrolledIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "enrolled_identities",
		Help:      "Number of enrolled identities",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fd",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
