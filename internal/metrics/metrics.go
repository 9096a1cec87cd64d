// Package metrics holds the control plane's Prometheus instrumentation,
// following the teacher's escrow.Metrics shape: one struct of pre-registered
// vectors built with promauto, one Record* method per concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the control plane exports.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	JobsInFlight      prometheus.Gauge
	StageDuration     *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec
	JobsTotal         *prometheus.CounterVec
	RateLimitRejected *prometheus.CounterVec
	BudgetExceeded    *prometheus.CounterVec
	CostTracked       *prometheus.CounterVec
	SSESubscribers    *prometheus.GaugeVec
	SSEConnections    *prometheus.CounterVec
}

// New creates and registers all control-plane metrics.
func New() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videogen_queue_depth",
			Help: "Number of jobs currently waiting in the video generation queue",
		}),

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videogen_jobs_in_flight",
			Help: "Number of jobs currently being processed by a worker",
		}),

		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "videogen_stage_duration_seconds",
				Help:    "Duration of an individual pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		StageFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videogen_stage_failures_total",
				Help: "Total stage failures, by stage and whether they were degraded rather than fatal",
			},
			[]string{"stage", "outcome"}, // outcome: fatal, degraded
		),

		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videogen_jobs_total",
				Help: "Total jobs processed, by terminal status",
			},
			[]string{"status"}, // completed, failed
		),

		RateLimitRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videogen_rate_limit_rejected_total",
				Help: "Total requests rejected by the rate limiter",
			},
			[]string{"user_id"},
		),

		BudgetExceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videogen_budget_exceeded_total",
				Help: "Total jobs terminated for exceeding their cost budget",
			},
			[]string{"environment"},
		),

		CostTracked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videogen_cost_millidollars_total",
				Help: "Total cost tracked, in millidollars, by stage and API",
			},
			[]string{"stage", "api"},
		),

		SSESubscribers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "videogen_sse_subscribers",
				Help: "Current live SSE subscriptions per job",
			},
			[]string{"job_id"},
		),

		SSEConnections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videogen_sse_connections_total",
				Help: "Total SSE connections accepted or rejected",
			},
			[]string{"outcome"}, // accepted, rejected_cap
		),
	}
}

func (m *Metrics) RecordStage(stage string, durationSeconds float64, outcome string) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if outcome != "" {
		m.StageFailures.WithLabelValues(stage, outcome).Inc()
	}
}

func (m *Metrics) RecordJobTerminal(status string) {
	m.JobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRateLimitRejected(userID string) {
	m.RateLimitRejected.WithLabelValues(userID).Inc()
}

func (m *Metrics) RecordBudgetExceeded(environment string) {
	m.BudgetExceeded.WithLabelValues(environment).Inc()
}

func (m *Metrics) RecordCost(stage, api string, millidollars int64) {
	m.CostTracked.WithLabelValues(stage, api).Add(float64(millidollars))
}

func (m *Metrics) SetSSESubscribers(jobID string, count int) {
	m.SSESubscribers.WithLabelValues(jobID).Set(float64(count))
}

func (m *Metrics) RecordSSEConnection(accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "rejected_cap"
	}
	m.SSEConnections.WithLabelValues(outcome).Inc()
}
