// Package main is the entrypoint for the lifecycle Lambda function.
//
// EventBridge rules send a TaskPayload naming one lifecycle job. The handler
// runs that job once through the scheduler, so the distributed lock, job
// history and metrics behave exactly as in the long-running worker.
//
// Handler flow:
//  1. Parse TaskPayload and determine the reference time.
//  2. RunNow the named job.
//  3. A run refused because another worker holds the lock is reported as
//     skipped, not as a failure, so EventBridge does not retry it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"feedbackgate/internal/app"
	"feedbackgate/internal/config"
	"feedbackgate/internal/logging"
	"feedbackgate/internal/scheduler"
	"feedbackgate/internal/types"
)

// JobRunner runs one registered job on demand. *scheduler.Scheduler
// satisfies it.
type JobRunner interface {
	RunNow(ctx context.Context, name string, now time.Time) (types.JobSummary, error)
}

// Handler holds the dependencies for the Lambda handler function.
type Handler struct {
	Runner JobRunner
	Logger *slog.Logger
	Now    func() time.Time
}

// Handle runs the task named in payload.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TaskPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := h.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	now := nowFn().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in payload")
	}
	task := string(payload.Task)

	logger.InfoContext(ctx, "lifecycle handler invoked",
		"task", task,
		"reference_time", now.Format(time.RFC3339),
	)

	summary, err := h.Runner.RunNow(ctx, task, now)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobRunning) {
			logger.InfoContext(ctx, "task already running elsewhere, skipping", "task", task)
			return fmt.Sprintf("skipped: %s already running", task), nil
		}
		return "", fmt.Errorf("task %s failed: %w", task, err)
	}

	return fmt.Sprintf("task %s complete: %d processed, %d succeeded, %d failed, %d skipped",
		task, summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped), nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "lifecycle-lambda:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.Service, cfg.Build.Version)
	logger.Info("lifecycle Lambda initializing (cold start)")

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}

	handler := &Handler{Runner: a.Scheduler, Logger: logger}

	// Local mode: read one TaskPayload from stdin instead of starting the
	// Lambda runtime.
	if cfg.Environment == "local" {
		defer a.Close()
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		var payload scheduler.TaskPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			logger.Error("failed to parse stdin as task payload", "error", err)
			os.Exit(1)
		}
		result, err := handler.Handle(context.Background(), payload)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info(result)
		return
	}

	lambda.Start(handler.Handle)
}
