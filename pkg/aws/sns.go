package aws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the part of the SNS client the service needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSMessage is one notification. EventType becomes the event_type
// attribute subscriptions filter on. GroupKey orders messages on FIFO topics.
type SNSMessage struct {
	Body      []byte
	EventType string
	GroupKey  string
}

// SNSPublisher publishes notifications to a topic.
type SNSPublisher interface {
	PublishEvent(ctx context.Context, topicArn string, msg SNSMessage) error
}

type SNSClient struct {
	api SNSAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return NewSNSClientWithAPI(sns.NewFromConfig(cfg))
}

func NewSNSClientWithAPI(api SNSAPI) *SNSClient {
	return &SNSClient{api: api}
}

// PublishEvent sends msg to topicArn. On a .fifo topic the group key is
// required and the body hash is the deduplication id, so a retried publish of
// the same event is delivered once.
func (s *SNSClient) PublishEvent(ctx context.Context, topicArn string, msg SNSMessage) error {
	if topicArn == "" {
		return errors.New("empty topicArn")
	}

	input := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(msg.Body)),
	}
	if msg.EventType != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(msg.EventType),
			},
		}
	}
	if strings.HasSuffix(topicArn, ".fifo") {
		if msg.GroupKey == "" {
			return fmt.Errorf("fifo topic %s requires a group key", topicArn)
		}
		sum := sha256.Sum256(msg.Body)
		input.MessageGroupId = sdkaws.String(msg.GroupKey)
		input.MessageDeduplicationId = sdkaws.String(hex.EncodeToString(sum[:]))
	}

	if _, err := s.api.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
