package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsRecorder publishes count metrics to CloudWatch under one namespace.
type MetricsRecorder struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetricsRecorder returns a recorder writing to namespace.
func NewMetricsRecorder(client CloudWatchAPI, namespace string) *MetricsRecorder {
	return &MetricsRecorder{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count records a single occurrence of name with the given dimensions.
func (m *MetricsRecorder) Count(ctx context.Context, name string, dims map[string]string) error {
	dimensions := make([]cwtypes.Dimension, 0, len(dims))
	for k, v := range dims {
		dimensions = append(dimensions, cwtypes.Dimension{
			Name:  awsString(k),
			Value: awsString(v),
		})
	}
	now := m.nowFunc()
	one := 1.0
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{{
			MetricName: awsString(name),
			Dimensions: dimensions,
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitCount,
			Value:      &one,
		}},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
