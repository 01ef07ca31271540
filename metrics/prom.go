package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rujukan_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rujukan_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rujukan_paste_deleted_total",
			Help: "no. of delete attempts by outcome",
		},
		[]string{"outcome"},
	)
	// PasteExpired counts expired pastes removed, by path ("read" or "sweep").
	PasteExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rujukan_paste_expired_total",
			Help: "no. of expired pastes removed",
		},
		[]string{"path"},
	)
	TokenReveals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rujukan_token_reveals_total",
		Help: "no. of delete tokens shown to their session",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rujukan_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rujukan_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
)
