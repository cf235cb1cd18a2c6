// Package app builds the long-lived components shared by the binaries
// from a loaded config.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/alert"
	"github.com/lalithlochan/pulse/internal/circuitbreaker"
	"github.com/lalithlochan/pulse/internal/config"
	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/invoke"
	"github.com/lalithlochan/pulse/internal/notify"
	"github.com/lalithlochan/pulse/internal/ordersync"
	"github.com/lalithlochan/pulse/internal/push"
	"github.com/lalithlochan/pulse/internal/synthetic"
)

// NotifyAcquire binds the notification pipeline to one pooled connection
// per call.
func NotifyAcquire(database *db.DB, logger *zap.Logger) notify.AcquireFunc {
	return func(ctx context.Context, fn func(notify.Store) error) error {
		return database.WithConn(ctx, func(q db.Querier) error {
			return fn(db.NewRepository(q, logger))
		})
	}
}

// SyncAcquire binds an order sync run to one pooled connection.
func SyncAcquire(database *db.DB, logger *zap.Logger) ordersync.AcquireFunc {
	return func(ctx context.Context, fn func(ordersync.Store) error) error {
		return database.WithConn(ctx, func(q db.Querier) error {
			return fn(db.NewRepository(q, logger))
		})
	}
}

// NewPusher returns a dispatcher guarded by a circuit breaker, and the
// breaker. Missing provider credentials yield a dispatcher that skips as
// not_configured and a nil breaker.
func NewPusher(cfg *config.Config, logger *zap.Logger) (*push.Dispatcher, *circuitbreaker.CircuitBreaker) {
	osCfg := cfg.OneSignal()
	if !osCfg.Configured() {
		logger.Warn("push provider not configured, dispatch will be skipped")
		return push.NewDispatcher(nil, logger), nil
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("onesignal"), logger)
	sender := circuitbreaker.NewProtectedSender(push.NewOneSignalClient(osCfg, logger), breaker, logger)
	return push.NewDispatcher(sender, logger), breaker
}

// NewAlerter wires every configured alert target. A target that fails to
// initialize is logged and left out.
func NewAlerter(ctx context.Context, cfg *config.Config, logger *zap.Logger) *alert.MultiAlerter {
	var targets []alert.Alerter

	if cfg.AlertSNSTopicARN != "" {
		a, err := alert.NewSNSAlerter(ctx, alert.SNSConfig{
			TopicARN: cfg.AlertSNSTopicARN,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			logger.Warn("sns alerts unavailable", zap.Error(err))
		} else {
			targets = append(targets, a)
		}
	}

	if cfg.AlertSESFrom != "" && len(cfg.AlertSESTo) > 0 {
		a, err := alert.NewSESAlerter(ctx, alert.SESConfig{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			FromEmail: cfg.AlertSESFrom,
			To:        cfg.AlertSESTo,
		}, logger)
		if err != nil {
			logger.Warn("ses alerts unavailable", zap.Error(err))
		} else {
			targets = append(targets, a)
		}
	}

	m := alert.NewMultiAlerter(logger, targets...)
	logger.Info("alerting initialized", zap.Int("targets", m.Len()))
	return m
}

// NewInvoker opens the configured invocation transport.
func NewInvoker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (invoke.Invoker, error) {
	switch cfg.InvokeTransport {
	case config.TransportSQS:
		return invoke.NewSQSInvoker(ctx, sqsConfig(cfg), logger)
	case config.TransportNATS:
		return invoke.NewNATSInvoker(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
	case config.TransportNone, "":
		return invoke.NewNoopInvoker(logger), nil
	default:
		return nil, &config.ConfigurationError{Key: "INVOKE_TRANSPORT", Reason: fmt.Sprintf("unknown transport %q", cfg.InvokeTransport)}
	}
}

// NewNotificationConsumer opens the SQS consumer for notification
// invocations.
func NewNotificationConsumer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*invoke.SQSConsumer, error) {
	if cfg.SQSNotificationQueue == "" {
		return nil, &config.ConfigurationError{Key: "SQS_NOTIFICATION_QUEUE_URL", Reason: "required when CONSUMER_ENABLED is set"}
	}
	return invoke.NewSQSConsumer(ctx, sqsConfig(cfg), cfg.SQSNotificationQueue, logger)
}

func sqsConfig(cfg *config.Config) invoke.SQSConfig {
	return invoke.SQSConfig{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
		Queues:   cfg.Queues(),
	}
}

// NewSyncer loads the realms and builds the order syncer.
func NewSyncer(cfg *config.Config, acquire ordersync.AcquireFunc, invoker ordersync.Invoker, alerter alert.Alerter, logger *zap.Logger) (*ordersync.Syncer, error) {
	realms, err := config.LoadRealms(cfg.RealmsFile)
	if err != nil {
		return nil, err
	}

	client := ordersync.NewClient(ordersync.ClientConfig{Timeout: cfg.UpstreamTimeout}, logger)
	return ordersync.NewSyncer(realms, acquire, client, invoker, alerter, logger), nil
}

// NewRunner builds the synthetic journey runner, archiving reports to S3
// when a bucket is configured.
func NewRunner(ctx context.Context, cfg *config.Config, invoker synthetic.Invoker, logger *zap.Logger) (*synthetic.Runner, error) {
	var archive synthetic.Archiver
	if cfg.SyntheticBucket != "" {
		a, err := synthetic.NewS3Archive(ctx, synthetic.S3Config{
			Bucket:   cfg.SyntheticBucket,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.AWSEndpoint,
		})
		if err != nil {
			return nil, err
		}
		archive = a
	}

	return synthetic.NewRunner(synthetic.Config{
		StepTimeout: cfg.SyntheticStepTimeout,
		Username:    cfg.SyntheticUsername,
		Password:    cfg.SyntheticPassword,
	}, invoker, archive, logger), nil
}
