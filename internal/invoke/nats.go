package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/metrics"
)

// DefaultSubjectPrefix is prepended to the target to form the subject.
const DefaultSubjectPrefix = "pulse.invoke."

const flushTimeout = 5 * time.Second

// NATSInvoker publishes invocations on NATS subjects.
type NATSInvoker struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSInvoker connects to url with automatic reconnection.
func NewNATSInvoker(url, prefix string, logger *zap.Logger) (*NATSInvoker, error) {
	nc, err := nats.Connect(url,
		nats.Name("pulse"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSInvoker{conn: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject used for target.
func (n *NATSInvoker) Subject(target string) string {
	return n.prefix + target
}

// Invoke publishes payload and flushes so that an unreachable server is
// reported to the caller.
func (n *NATSInvoker) Invoke(ctx context.Context, target string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg, err := NewMessage(target, payload)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	if err := n.conn.Publish(n.Subject(target), data); err != nil {
		metrics.RecordInvocation(target, "error")
		return "", fmt.Errorf("publish to %s: %w", n.Subject(target), err)
	}
	if err := n.conn.FlushTimeout(flushTimeout); err != nil {
		metrics.RecordInvocation(target, "error")
		return "", fmt.Errorf("flush NATS connection: %w", err)
	}

	metrics.RecordInvocation(target, "ok")
	n.logger.Info("invocation published",
		zap.String("subject", n.Subject(target)),
		zap.String("message_id", msg.ID),
	)

	return msg.ID, nil
}

func (n *NATSInvoker) Close() error {
	n.conn.Close()
	return nil
}
