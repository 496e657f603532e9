package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"polly/internal/types"
)

// Metric names and dimensions emitted by the delivery processor.
const (
	metricDeliveryOutcome = "NotificationDelivery"
	metricDeliveryLatency = "NotificationDeliveryLatency"
	metricQueueLag        = "NotificationQueueLag"

	dimNotificationType = "NotificationType"
	dimResult           = "Result"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertions.
var (
	_ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)
	_ NotificationMetrics = NoopMetrics{}
)

// CloudWatchNotificationMetrics implements NotificationMetrics by emitting
// metrics to AWS CloudWatch. Metric publication failures are logged and
// swallowed; observability never blocks delivery.
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics creates a metrics recorder publishing to
// the given CloudWatch namespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	return &CloudWatchNotificationMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDelivery emits one NotificationDelivery count with NotificationType
// and Result dimensions.
func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, t types.NotificationType, result MetricResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricDeliveryOutcome),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(dimNotificationType),
						Value: aws.String(string(t)),
					},
					{
						Name:  aws.String(dimResult),
						Value: aws.String(string(result)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery metric",
			"error", err.Error(),
			"notification_type", string(t),
			"result", string(result),
		)
	}
}

// RecordLatency emits per-entry dispatch wall time in milliseconds.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, t types.NotificationType, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricDeliveryLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(dimNotificationType),
						Value: aws.String(string(t)),
					},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record latency metric",
			"error", err.Error(),
			"notification_type", string(t),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// RecordQueueLag emits the distance between an entry's fire time and the
// moment it was claimed. Sustained growth means the notifier cadence or batch
// size is undersized for the queue.
func (m *CloudWatchNotificationMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metricQueueLag),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// NoopMetrics discards all metrics. Used in local mode and tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.NotificationType, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.NotificationType, time.Duration) {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)                        {}
