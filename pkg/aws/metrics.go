package aws

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names.
const (
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	MetricRequestsCreated     = "DonationRequestsCreated"
	MetricRequestTransitions  = "DonationRequestTransitions"
	MetricTransitionConflicts = "DonationRequestTransitionConflicts"

	MetricCheckoutsCreated   = "CheckoutSessionsCreated"
	MetricPaymentSucceeded   = "PaymentSucceeded"
	MetricPaymentDuplicate   = "PaymentDuplicateConfirmations"
	MetricPaymentNotPaid     = "PaymentNotPaid"
	MetricGatewayUnavailable = "PaymentGatewayUnavailable"
	MetricGatewayLatency     = "PaymentGatewayLatency"
)

// CloudWatchAPI is the part of the CloudWatch client the recorder needs.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsRecorder is what business code records through.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// Datum is one data point for Put.
type Datum struct {
	Name       string
	Value      float64
	Unit       types.StandardUnit
	Dimensions map[string]string
}

func Count(name string, dims map[string]string) Datum {
	return Datum{Name: name, Value: 1, Unit: types.StandardUnitCount, Dimensions: dims}
}

func Latency(name string, d time.Duration, dims map[string]string) Datum {
	return Datum{Name: name, Value: float64(d.Milliseconds()), Unit: types.StandardUnitMilliseconds, Dimensions: dims}
}

// MetricsClient publishes to one CloudWatch namespace. A nil or disabled
// client drops everything.
type MetricsClient struct {
	api       CloudWatchAPI
	namespace string
	enabled   bool
	now       func() time.Time
}

// NewMetricsClient is enabled only when CLOUDWATCH_ENABLED=true.
func NewMetricsClient(ctx context.Context) (*MetricsClient, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	namespace := os.Getenv("CLOUDWATCH_NAMESPACE")
	if namespace == "" {
		namespace = "BloodDonation"
	}
	return NewMetricsClientWithAPI(cloudwatch.NewFromConfig(cfg), namespace, os.Getenv("CLOUDWATCH_ENABLED") == "true"), nil
}

func NewMetricsClientWithAPI(api CloudWatchAPI, namespace string, enabled bool) *MetricsClient {
	return &MetricsClient{api: api, namespace: namespace, enabled: enabled, now: time.Now}
}

// Put sends all data points in a single request.
func (m *MetricsClient) Put(ctx context.Context, data ...Datum) error {
	if !m.IsEnabled() || len(data) == 0 {
		return nil
	}

	ts := m.now()
	metricData := make([]types.MetricDatum, 0, len(data))
	for _, d := range data {
		metricData = append(metricData, types.MetricDatum{
			MetricName: sdkaws.String(d.Name),
			Value:      sdkaws.Float64(d.Value),
			Unit:       d.Unit,
			Timestamp:  sdkaws.Time(ts),
			Dimensions: dimensionList(d.Dimensions),
		})
	}

	if _, err := m.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(m.namespace),
		MetricData: metricData,
	}); err != nil {
		return fmt.Errorf("failed to put %d metrics: %w", len(data), err)
	}
	return nil
}

func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.Put(ctx, Count(metricName, dimensions))
}

func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	return m.Put(ctx, Latency(metricName, duration, dimensions))
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}

// dimensionList is sorted by name so identical series compare equal.
func dimensionList(dims map[string]string) []types.Dimension {
	if len(dims) == 0 {
		return nil
	}
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		out = append(out, types.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(dims[k])})
	}
	return out
}
