package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// MessageHandler processes one SQS message body. Returning an error leaves the
// message on the queue so it is redelivered after the visibility timeout.
type MessageHandler func(ctx context.Context, body string) error

// SQSAPI is the part of the SQS client the consumer needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

type ConsumerOptions struct {
	MaxMessages       int32
	WaitSeconds       int32
	VisibilityTimeout int32
	// ErrorBackoff is how long to wait after a failed receive.
	ErrorBackoff time.Duration
}

func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		MaxMessages:       10,
		WaitSeconds:       20,
		VisibilityTimeout: 60,
		ErrorBackoff:      2 * time.Second,
	}
}

// SQSConsumer long-polls a single queue and acknowledges handled messages in
// one batch per receive.
type SQSConsumer struct {
	api      SQSAPI
	queueURL string
	opts     ConsumerOptions
	logger   *zap.Logger
}

func NewSQSConsumer(cfg sdkaws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	return NewSQSConsumerWithAPI(sqs.NewFromConfig(cfg), queueURL, DefaultConsumerOptions(), logger)
}

func NewSQSConsumerWithAPI(api SQSAPI, queueURL string, opts ConsumerOptions, logger *zap.Logger) *SQSConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConsumerOptions()
	if opts.MaxMessages <= 0 || opts.MaxMessages > 10 {
		opts.MaxMessages = def.MaxMessages
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = def.ErrorBackoff
	}
	return &SQSConsumer{api: api, queueURL: queueURL, opts: opts, logger: logger}
}

// StartPolling runs until ctx is cancelled and then returns ctx.Err().
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for {
		if ctx.Err() != nil {
			c.logger.Info("SQS polling stopped", zap.String("queue_url", c.queueURL))
			return ctx.Err()
		}

		if _, err := c.PollOnce(ctx, handler); err != nil && ctx.Err() == nil {
			c.logger.Warn("SQS receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.ErrorBackoff):
			}
		}
	}
}

// PollOnce receives one batch, runs handler on each message and deletes the
// ones it accepted. It returns how many were acknowledged.
func (c *SQSConsumer) PollOnce(ctx context.Context, handler MessageHandler) (int, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    sdkaws.String(c.queueURL),
		MaxNumberOfMessages:         c.opts.MaxMessages,
		WaitTimeSeconds:             c.opts.WaitSeconds,
		VisibilityTimeout:           c.opts.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}

	var acks []types.DeleteMessageBatchRequestEntry
	for i, msg := range out.Messages {
		if msg.Body != nil {
			if err := handler(ctx, *msg.Body); err != nil {
				c.logger.Warn("SQS message handler failed, leaving message for redelivery",
					zap.String("message_id", sdkaws.ToString(msg.MessageId)),
					zap.String("receive_count", msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]),
					zap.Error(err),
				)
				continue
			}
		}
		acks = append(acks, types.DeleteMessageBatchRequestEntry{
			Id:            sdkaws.String(strconv.Itoa(i)),
			ReceiptHandle: msg.ReceiptHandle,
		})
	}
	if len(acks) == 0 {
		return 0, nil
	}

	res, err := c.api.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: sdkaws.String(c.queueURL),
		Entries:  acks,
	})
	if err != nil {
		c.logger.Warn("Failed to delete SQS messages", zap.Int("count", len(acks)), zap.Error(err))
		return 0, nil
	}
	for _, f := range res.Failed {
		c.logger.Warn("Failed to delete SQS message",
			zap.String("entry", sdkaws.ToString(f.Id)),
			zap.String("code", sdkaws.ToString(f.Code)),
		)
	}
	return len(acks) - len(res.Failed), nil
}
