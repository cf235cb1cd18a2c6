package invoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/metrics"
)

// sqsAPI is the part of the SQS client used here.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSConfig holds SQS configuration. Queues maps an invocation target to
// its queue URL.
type SQSConfig struct {
	Region   string
	Endpoint string
	Queues   map[string]string
}

func newSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// SQSInvoker enqueues invocations on per-target SQS queues.
type SQSInvoker struct {
	client sqsAPI
	queues map[string]string
	logger *zap.Logger
}

// NewSQSInvoker creates a new SQS invoker.
func NewSQSInvoker(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSInvoker, error) {
	client, err := newSQSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs invoker initialized", zap.Int("targets", len(cfg.Queues)))

	return &SQSInvoker{
		client: client,
		queues: cfg.Queues,
		logger: logger,
	}, nil
}

// Invoke sends payload to the queue of target.
func (s *SQSInvoker) Invoke(ctx context.Context, target string, payload any) (string, error) {
	queueURL, ok := s.queues[target]
	if !ok || queueURL == "" {
		metrics.RecordInvocation(target, "error")
		return "", fmt.Errorf("no queue configured for target %q", target)
	}

	msg, err := NewMessage(target, payload)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	result, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"target": {
				DataType:    aws.String("String"),
				StringValue: aws.String(target),
			},
		},
	})
	if err != nil {
		metrics.RecordInvocation(target, "error")
		s.logger.Error("failed to send invocation to sqs",
			zap.Error(err),
			zap.String("target", target),
			zap.String("message_id", msg.ID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	metrics.RecordInvocation(target, "ok")
	s.logger.Info("invocation enqueued",
		zap.String("target", target),
		zap.String("message_id", msg.ID),
		zap.String("sqs_message_id", aws.ToString(result.MessageId)),
	)

	return msg.ID, nil
}

// Close is a no-op; SDK clients hold no connections to release.
func (s *SQSInvoker) Close() error { return nil }

// SQSConsumer reads invocations from one queue.
type SQSConsumer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

// NewSQSConsumer creates a consumer for queueURL.
func NewSQSConsumer(ctx context.Context, cfg SQSConfig, queueURL string, logger *zap.Logger) (*SQSConsumer, error) {
	client, err := newSQSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized", zap.String("queue_url", queueURL))

	return &SQSConsumer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}, nil
}

// Receive long-polls for one message. A nil message with a nil error
// means the poll timed out empty. Undecodable messages are deleted so
// they do not block the queue.
func (c *SQSConsumer) Receive(ctx context.Context) (*Message, string, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	raw := result.Messages[0]
	receipt := aws.ToString(raw.ReceiptHandle)

	var msg Message
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
		c.logger.Error("dropping undecodable message",
			zap.Error(err),
			zap.String("sqs_message_id", aws.ToString(raw.MessageId)),
		)
		if delErr := c.Delete(ctx, receipt); delErr != nil {
			return nil, "", delErr
		}
		return nil, "", nil
	}

	return &msg, receipt, nil
}

// Delete removes a handled message.
func (c *SQSConsumer) Delete(ctx context.Context, receipt string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// Release makes a message visible again after delay so it is retried.
func (c *SQSConsumer) Release(ctx context.Context, receipt string, delaySeconds int32) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: delaySeconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
