// Package app wires configuration into a ready-to-run lifecycle worker. Both
// the long-running worker and the Lambda entrypoint build from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedbackgate/internal/config"
	"feedbackgate/internal/core"
	"feedbackgate/internal/db"
	"feedbackgate/internal/external"
	"feedbackgate/internal/lifecycle"
	"feedbackgate/internal/lock"
	"feedbackgate/internal/metrics"
	"feedbackgate/internal/notify"
	"feedbackgate/internal/scheduler"
	"feedbackgate/internal/types"
)

// App is the assembled worker.
type App struct {
	Scheduler *scheduler.Scheduler
	Store     *db.Store
	Probes    []core.HealthProbe
	// MetricsHandler is nil unless METRICS_BACKEND=prometheus.
	MetricsHandler http.Handler

	closers []func()
}

// Close releases pools and clients in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build connects to every backing service named by cfg and registers the
// three lifecycle jobs on a new scheduler. The scheduler is not started.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.Store = db.NewStore(pool, logger)
	a.Probes = append(a.Probes, core.ProbeFunc{ProbeName: "database", Fn: pool.Ping})

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
		}
		if cfg.AWS.EndpointURL != "" {
			c.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
		awsCfg = &c
		return c, nil
	}

	recorder, metricsHandler, err := buildMetrics(cfg, pool, loadAWS, logger)
	if err != nil {
		return nil, err
	}
	a.MetricsHandler = metricsHandler

	billing, gateway := buildUpstreams(cfg, logger)

	provider, err := buildEmailProvider(cfg, loadAWS, logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.New(provider, notify.Config{
		From: types.SenderIdentity{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
		Templates: notify.Templates{
			TrialReminder:       cfg.Email.TemplateTrialReminder,
			ServicesDeactivated: cfg.Email.TemplateServicesDeactivated,
		},
		Logger: logger,
	})

	lc := cfg.Lifecycle
	deactivator := lifecycle.NewDeactivator(a.Store, gateway, notifier, lifecycle.DeactivatorConfig{
		Concurrency:         lc.DisconnectConcurrency,
		GatewayTimeout:      cfg.Gateway.Timeout,
		NotificationTimeout: lc.NotificationTimeout,
		Metrics:             recorder,
		Logger:              logger,
	})
	reactivator := lifecycle.NewReactivator(a.Store, logger)

	locker, err := buildLocker(ctx, cfg, pool, a)
	if err != nil {
		return nil, err
	}

	a.Scheduler = scheduler.New(scheduler.Config{
		Locker:         locker,
		Historian:      db.NewJobHistoryRepository(pool),
		Metrics:        recorder,
		Logger:         logger,
		MaxRunDuration: lc.JobMaxDuration,
	})

	jobs := []struct {
		task scheduler.TaskType
		spec string
		job  scheduler.Job
	}{
		{scheduler.TaskTrialReminders, lc.ScheduleTrialReminders,
			lifecycle.NewTrialReminderDispatcher(a.Store, notifier, lc.TrialReminderDays, lc.NotificationTimeout, recorder, logger)},
		{scheduler.TaskTrialExpiry, lc.ScheduleTrialExpiry,
			lifecycle.NewTrialExpiryJob(a.Store, deactivator, recorder, logger)},
		{scheduler.TaskBillingSync, lc.ScheduleBillingSync,
			lifecycle.NewBillingReconciler(a.Store, billing, deactivator, reactivator, lifecycle.BillingReconcilerConfig{
				CallTimeout: cfg.Billing.Timeout,
				Metrics:     recorder,
				Logger:      logger,
			})},
	}
	for _, j := range jobs {
		if err := a.Scheduler.Register(string(j.task), j.spec, j.job); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

func buildMetrics(cfg *config.Config, pool *pgxpool.Pool, loadAWS func() (aws.Config, error), logger *slog.Logger) (metrics.Recorder, http.Handler, error) {
	obs := cfg.Observability
	switch obs.MetricsBackend {
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics.RegisterPgxPoolMetrics(reg, "feedbackgate", pool)
		return metrics.NewPrometheus(reg, "feedbackgate"),
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil
	case "cloudwatch":
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		return metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), obs.MetricNamespace, logger), nil, nil
	default:
		return metrics.Nop{}, nil, nil
	}
}

// buildUpstreams returns the billing and gateway clients. APP_ENV=local uses
// logging stubs so the worker runs without network access.
func buildUpstreams(cfg *config.Config, logger *slog.Logger) (external.BillingProvider, external.MessagingGateway) {
	if cfg.Environment == "local" {
		logger.Warn("APP_ENV=local, using stub billing provider and messaging gateway")
		return external.NewStubBillingProvider(logger), external.NewStubMessagingGateway(logger)
	}
	billing := external.NewStripeClient(
		&http.Client{Timeout: cfg.Billing.Timeout},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:   cfg.Billing.APIBase,
			Logger:    logger,
		},
	)
	gateway := external.NewGatewayClient(
		&http.Client{Timeout: cfg.Gateway.Timeout},
		external.GatewayClientConfig{BaseURL: cfg.Gateway.BaseURL, Logger: logger},
	)
	return billing, gateway
}

func buildEmailProvider(cfg *config.Config, loadAWS func() (aws.Config, error), logger *slog.Logger) (external.EmailProvider, error) {
	ec := cfg.Email
	switch ec.Provider {
	case "sendgrid":
		return external.NewSendGridClient(
			&http.Client{Timeout: ec.Timeout},
			external.SendGridClientConfig{APIKey: ec.SendGridAPIKey.Unmask(), Logger: logger},
		), nil
	case "smtp":
		return external.NewSMTPClient(external.SMTPClientConfig{
			Host:     ec.SMTPHost,
			Port:     ec.SMTPPort,
			Username: ec.SMTPUsername,
			Password: ec.SMTPPassword,
			Logger:   logger,
		}), nil
	case "sqs":
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return notify.NewQueueSender(sqs.NewFromConfig(awsCfg), ec.QueueURL, logger), nil
	case "stub":
		return external.NewStubEmailProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", ec.Provider)
	}
}

func buildLocker(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, a *App) (scheduler.JobLocker, error) {
	switch cfg.Lock.Backend {
	case "redis":
		rl, err := lock.Dial(ctx, cfg.Lock.RedisURL.Unmask())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rl.Close() })
		a.Probes = append(a.Probes, core.ProbeFunc{ProbeName: "redis", Fn: rl.Ping})
		return rl, nil
	case "postgres", "":
		return db.NewJobLockRepository(pool), nil
	default:
		return nil, errors.New("unknown lock backend " + cfg.Lock.Backend)
	}
}
