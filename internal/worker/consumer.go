package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/invoke"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/notify"
	"github.com/lalithlochan/pulse/internal/push"
)

// Receiver is a queue of invocation messages. *invoke.SQSConsumer
// implements it.
type Receiver interface {
	Receive(ctx context.Context) (*invoke.Message, string, error)
	Delete(ctx context.Context, receipt string) error
	Release(ctx context.Context, receipt string, delaySeconds int32) error
}

// Handler processes one message. A returned error releases the message
// for another attempt.
type Handler func(ctx context.Context, msg *invoke.Message) error

// Consumer pulls messages from a Receiver and hands them to the handler
// registered for their target.
type Consumer struct {
	receiver   Receiver
	handlers   map[string]Handler
	retryDelay time.Duration
	idleDelay  time.Duration
	logger     *zap.Logger
}

type ConsumerConfig struct {
	RetryDelay time.Duration
	IdleDelay  time.Duration
}

func NewConsumer(receiver Receiver, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.IdleDelay == 0 {
		cfg.IdleDelay = 5 * time.Second
	}

	return &Consumer{
		receiver:   receiver,
		handlers:   make(map[string]Handler),
		retryDelay: cfg.RetryDelay,
		idleDelay:  cfg.IdleDelay,
		logger:     logger,
	}
}

// Handle registers h for target.
func (c *Consumer) Handle(target string, h Handler) {
	c.handlers[target] = h
}

// Start blocks until ctx is done.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("invocation consumer started", zap.Int("targets", len(c.handlers)))

	for {
		if ctx.Err() != nil {
			c.logger.Info("invocation consumer stopping")
			return
		}

		if err := c.poll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.idleDelay):
			}
		}
	}
}

// poll receives and handles at most one message.
func (c *Consumer) poll(ctx context.Context) error {
	msg, receipt, err := c.receiver.Receive(ctx)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	metrics.SetMessagesInFlight(1)
	defer metrics.SetMessagesInFlight(0)

	logger := c.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("target", msg.Target),
	)

	handler, ok := c.handlers[msg.Target]
	if !ok {
		logger.Warn("no handler for target, dropping message")
		return c.receiver.Delete(ctx, receipt)
	}

	if err := handler(ctx, msg); err != nil {
		logger.Error("handler failed, releasing message", zap.Error(err))
		return c.receiver.Release(ctx, receipt, int32(c.retryDelay.Seconds()))
	}

	logger.Info("message handled")
	return c.receiver.Delete(ctx, receipt)
}

// Publisher is the notification entry point used by NotificationHandler.
type Publisher interface {
	Publish(ctx context.Context, req *notify.Request) (*notify.PublishResult, error)
}

// NotificationHandler publishes invocation payloads as notifications.
// Rejected requests and push failures are not retried: the first never
// succeed and the second have already written their row.
func NotificationHandler(pub Publisher, logger *zap.Logger) Handler {
	return func(ctx context.Context, msg *invoke.Message) error {
		var req notify.Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			logger.Error("dropping undecodable notification payload",
				zap.Error(err),
				zap.String("message_id", msg.ID),
			)
			return nil
		}

		result, err := pub.Publish(ctx, &req)

		var verr *notify.ValidationError
		var nf *notify.NotFoundError
		var de *push.DispatchError
		switch {
		case errors.As(err, &verr), errors.As(err, &nf):
			logger.Warn("dropping rejected notification",
				zap.Error(err),
				zap.String("message_id", msg.ID),
			)
			return nil
		case errors.As(err, &de):
			logger.Error("notification stored but push failed",
				zap.Error(err),
				zap.String("notification_id", result.Notification.ID.String()),
			)
			return nil
		case err != nil:
			return err
		}

		logger.Info("notification published from invocation",
			zap.String("message_id", msg.ID),
			zap.String("notification_id", result.Notification.ID.String()),
			zap.String("push_status", result.Push.Status),
		)
		return nil
	}
}
