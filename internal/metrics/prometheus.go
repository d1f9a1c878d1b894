package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"feedbackgate/internal/types"
)

// Prometheus holds the worker's collectors.
type Prometheus struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobAccounts      *prometheus.CounterVec
	jobLastSuccess   *prometheus.GaugeVec
	disconnects      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	statusTransition *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg under namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Completed lifecycle job runs by status",
		}, []string{"job", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of lifecycle job runs",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"job"}),
		jobAccounts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_accounts_total",
			Help:      "Accounts handled by lifecycle jobs by result",
		}, []string{"job", "result"}),
		jobLastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}, []string{"job"}),
		disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_disconnects_total",
			Help:      "Messaging instance deactivations by outcome",
		}, []string{"result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Lifecycle emails by kind and outcome",
		}, []string{"kind", "result"}),
		statusTransition: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Applied account status transitions",
		}, []string{"from", "to"}),
	}
}

func (p *Prometheus) RecordJobRun(_ context.Context, job string, status types.JobStatus, duration time.Duration, summary types.JobSummary) {
	p.jobRuns.WithLabelValues(job, string(status)).Inc()
	p.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	p.jobAccounts.WithLabelValues(job, "succeeded").Add(float64(summary.Succeeded))
	p.jobAccounts.WithLabelValues(job, "failed").Add(float64(summary.Failed))
	p.jobAccounts.WithLabelValues(job, "skipped").Add(float64(summary.Skipped))
	if status == types.JobStatusSuccess {
		p.jobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

func (p *Prometheus) RecordInstanceDisconnect(_ context.Context, outcome types.Outcome) {
	p.disconnects.WithLabelValues(string(outcome)).Inc()
}

func (p *Prometheus) RecordNotification(_ context.Context, kind string, outcome types.Outcome) {
	p.notifications.WithLabelValues(kind, string(outcome)).Inc()
}

func (p *Prometheus) RecordStatusTransition(_ context.Context, from, to types.AccountStatus) {
	p.statusTransition.WithLabelValues(string(from), string(to)).Inc()
}
