package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// snsAPI is the part of the SNS client the alerter uses.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSAlerter publishes alerts to an SNS topic
type SNSAlerter struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

// SNSConfig configures the SNS alerter. Endpoint is only set for LocalStack.
type SNSConfig struct {
	TopicARN string
	Region   string
	Endpoint string
}

// NewSNSAlerter creates an SNS alerter for the given topic
func NewSNSAlerter(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSAlerter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &SNSAlerter{
		client:   client,
		topicARN: cfg.TopicARN,
		logger:   logger,
	}, nil
}

// Alert publishes a as JSON with severity and source as message attributes
func (s *SNSAlerter) Alert(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(truncateSubject(a.Subject)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(a.Severity),
			},
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(a.Source),
			},
		},
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("publish alert to SNS: %w", err)
	}

	s.logger.Info("alert published to SNS",
		zap.String("subject", a.Subject),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SNS rejects subjects of 100 characters or more.
func truncateSubject(s string) string {
	r := []rune(s)
	if len(r) < 100 {
		return s
	}
	return string(r[:96]) + "..."
}
