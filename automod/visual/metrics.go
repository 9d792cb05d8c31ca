package visual

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var matchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "awb_similarity_match_duration_sec",
	Help:    "Duration of two-stage duplicate matching for one submission",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
})

var jobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "awb_similarity_jobs_submitted",
	Help: "Number of similarity jobs submitted",
})

var jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_similarity_jobs_finished",
	Help: "Number of similarity jobs finished, by final state",
}, []string{"state"})
