package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"feedbackgate/internal/types"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes each observation synchronously. Publish failures are
// logged and dropped.
//
// Metrics emitted:
//   - JobRun:               Dims {Job, Result}
//   - JobDuration:          Dims {Job}, milliseconds
//   - JobAccounts:          Dims {Job, Result}, one datum per result
//   - InstanceDisconnect:   Dims {Result}
//   - NotificationDelivery: Dims {Kind, Result}
//   - StatusTransition:     Dims {From, To}
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatch creates a CloudWatch recorder. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func countDatum(metric string, value float64, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(metric),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func (c *CloudWatch) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to publish metric",
			"metric", aws.ToString(data[0].MetricName),
			"error", err,
		)
	}
}

func (c *CloudWatch) RecordJobRun(ctx context.Context, job string, status types.JobStatus, duration time.Duration, summary types.JobSummary) {
	c.put(ctx,
		countDatum(types.MetricJobRun, 1, dim(types.DimJob, job), dim(types.DimResult, string(status))),
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricJobDuration),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{dim(types.DimJob, job)},
		},
		countDatum(types.MetricJobAccounts, float64(summary.Succeeded), dim(types.DimJob, job), dim(types.DimResult, "succeeded")),
		countDatum(types.MetricJobAccounts, float64(summary.Failed), dim(types.DimJob, job), dim(types.DimResult, "failed")),
		countDatum(types.MetricJobAccounts, float64(summary.Skipped), dim(types.DimJob, job), dim(types.DimResult, "skipped")),
	)
}

func (c *CloudWatch) RecordInstanceDisconnect(ctx context.Context, outcome types.Outcome) {
	c.put(ctx, countDatum(types.MetricInstanceDisconnect, 1, dim(types.DimResult, string(outcome))))
}

func (c *CloudWatch) RecordNotification(ctx context.Context, kind string, outcome types.Outcome) {
	c.put(ctx, countDatum(types.MetricNotificationDelivery, 1,
		dim(types.DimKind, kind),
		dim(types.DimResult, string(outcome)),
	))
}

func (c *CloudWatch) RecordStatusTransition(ctx context.Context, from, to types.AccountStatus) {
	c.put(ctx, countDatum(types.MetricStatusTransition, 1,
		dim(types.DimFrom, string(from)),
		dim(types.DimTo, string(to)),
	))
}
