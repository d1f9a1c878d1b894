// Package metrics records lifecycle and scheduler telemetry to Prometheus or
// CloudWatch.
package metrics

import (
	"context"
	"time"

	"feedbackgate/internal/lifecycle"
	"feedbackgate/internal/scheduler"
	"feedbackgate/internal/types"
)

// Recorder is everything the worker reports.
type Recorder interface {
	lifecycle.Metrics
	scheduler.Metrics
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = (*CloudWatch)(nil)
)

// Nop discards everything. Used when METRICS_BACKEND=none.
type Nop struct {
	lifecycle.NopMetrics
}

func (Nop) RecordJobRun(context.Context, string, types.JobStatus, time.Duration, types.JobSummary) {}
