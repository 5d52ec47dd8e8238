package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	logBatchSize     = 50
	logFlushInterval = 5 * time.Second
	logRetentionDays = 30
)

// CloudWatchLogsAPI is the part of the CloudWatch Logs client the writer needs.
type CloudWatchLogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsClient is a zapcore.WriteSyncer that buffers log lines and
// ships them in batches. A batch is sent when it is full, when the oldest
// buffered line is older than the flush interval, or on Sync.
type CloudWatchLogsClient struct {
	api    CloudWatchLogsAPI
	group  string
	stream string
	now    func() time.Time

	mu      sync.Mutex
	pending []types.InputLogEvent
	oldest  time.Time
}

// NewCloudWatchLogsClient returns nil, nil unless CLOUDWATCH_ENABLED=true.
func NewCloudWatchLogsClient(ctx context.Context, serviceName string) (*CloudWatchLogsClient, error) {
	if os.Getenv("CLOUDWATCH_ENABLED") != "true" {
		return nil, nil
	}
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	group := os.Getenv("CLOUDWATCH_LOG_GROUP")
	if group == "" {
		group = "/blood-donation/services"
	}
	stream := fmt.Sprintf("%s-%d", serviceName, time.Now().Unix())
	return OpenLogStream(ctx, cloudwatchlogs.NewFromConfig(cfg), group, stream)
}

// OpenLogStream makes sure group exists with a retention policy and creates
// stream in it.
func OpenLogStream(ctx context.Context, api CloudWatchLogsAPI, group, stream string) (*CloudWatchLogsClient, error) {
	if _, err := api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: sdkaws.String(group)}); err != nil {
		var exists *types.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("failed to create log group %s: %w", group, err)
		}
	}
	if _, err := api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    sdkaws.String(group),
		RetentionInDays: sdkaws.Int32(logRetentionDays),
	}); err != nil {
		return nil, fmt.Errorf("failed to set retention on %s: %w", group, err)
	}
	if _, err := api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  sdkaws.String(group),
		LogStreamName: sdkaws.String(stream),
	}); err != nil {
		return nil, fmt.Errorf("failed to create log stream %s: %w", stream, err)
	}
	return &CloudWatchLogsClient{api: api, group: group, stream: stream, now: time.Now}, nil
}

func (c *CloudWatchLogsClient) IsEnabled() bool {
	return c != nil
}

// Write buffers one encoded log line. Shipping failures go to stderr and
// never fail the caller.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	now := c.now()

	c.mu.Lock()
	if len(c.pending) == 0 {
		c.oldest = now
	}
	c.pending = append(c.pending, types.InputLogEvent{
		Message:   sdkaws.String(string(p)),
		Timestamp: sdkaws.Int64(now.UnixMilli()),
	})
	var batch []types.InputLogEvent
	if len(c.pending) >= logBatchSize || now.Sub(c.oldest) >= logFlushInterval {
		batch = c.takeLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		if err := c.ship(batch); err != nil {
			fmt.Fprintf(os.Stderr, "CloudWatch write error: %v\n", err)
		}
	}
	return len(p), nil
}

// Sync ships whatever is buffered.
func (c *CloudWatchLogsClient) Sync() error {
	c.mu.Lock()
	batch := c.takeLocked()
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return c.ship(batch)
}

func (c *CloudWatchLogsClient) takeLocked() []types.InputLogEvent {
	batch := c.pending
	c.pending = nil
	return batch
}

func (c *CloudWatchLogsClient) ship(batch []types.InputLogEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  sdkaws.String(c.group),
		LogStreamName: sdkaws.String(c.stream),
		LogEvents:     batch,
	}); err != nil {
		return fmt.Errorf("failed to put %d log events: %w", len(batch), err)
	}
	return nil
}
