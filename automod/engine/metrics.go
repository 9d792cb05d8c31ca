package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "awb_evaluation_duration_sec",
	Help: "Total duration of submission rule evaluation",
}, []string{"decision"})

var submissionProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_submissions_processed",
	Help: "Number of submissions processed, by response status",
}, []string{"status"})

var submissionErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_submission_errors",
	Help: "Number of submissions which failed processing",
}, []string{"stage"})

var ruleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "awb_rule_duration_sec",
	Help: "Duration of individual rule evaluations",
}, []string{"rule"})

var ruleOutcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_rule_outcomes",
	Help: "Number of rule evaluations, by outcome (none, remove, warn, error)",
}, []string{"rule", "outcome"})

var actionRemovalCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_new_action_removals",
	Help: "Number of submissions removed",
}, []string{"subreddit"})

var actionWarningCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_new_action_warnings",
	Help: "Number of warning flags persisted",
}, []string{"rule"})

var actionThrottledCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "awb_removals_throttled",
	Help: "Number of removals skipped by the daily removal quota",
}, []string{"subreddit"})

var haltCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "awb_evaluations_halted",
	Help: "Number of evaluations abandoned because the submission was moderated externally",
})

var postStatusFetches = promauto.NewCounter(prometheus.CounterOpts{
	Name: "awb_post_status_fetches",
	Help: "Number of submission status reads (API calls) not served from cache",
})
