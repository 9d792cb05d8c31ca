package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_consumer_state_transitions",
	Help: "Number of queue messages entering each processing state",
}, []string{"state"})

var messagesInflight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "awb_consumer_inflight",
	Help: "Number of queue messages currently being processed",
})

var messagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_consumer_dropped",
	Help: "Number of queue messages acked without completing moderation",
}, []string{"reason"})

var schedulerEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_scheduler_enqueued",
	Help: "Number of submissions offered to the queue by the scheduler, by result",
}, []string{"result"})

var schedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_scheduler_runs",
	Help: "Number of scheduler passes, by result",
}, []string{"result"})
