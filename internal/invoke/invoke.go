// Package invoke submits fire-and-forget work to downstream functions.
// Invoke returns once the message is enqueued; a failure to enqueue is an
// error of the caller, while the downstream outcome is never observed.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/metrics"
)

// Well-known targets
const (
	TargetNotification = "notification"
	TargetOrderProcess = "order-process"
)

// Message is the envelope placed on the transport.
type Message struct {
	ID        string          `json:"id"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload"`
	InvokedAt time.Time       `json:"invoked_at"`
}

// Invoker enqueues a payload for a downstream target and returns the
// transport's message id.
type Invoker interface {
	Invoke(ctx context.Context, target string, payload any) (string, error)
	Close() error
}

// NewMessage wraps payload in an envelope addressed to target.
func NewMessage(target string, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invocation payload: %w", err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Target:    target,
		Payload:   body,
		InvokedAt: time.Now().UTC(),
	}, nil
}

// NoopInvoker logs and drops every invocation. Used when no transport is
// configured.
type NoopInvoker struct {
	logger *zap.Logger
}

func NewNoopInvoker(logger *zap.Logger) *NoopInvoker {
	return &NoopInvoker{logger: logger}
}

func (n *NoopInvoker) Invoke(ctx context.Context, target string, payload any) (string, error) {
	msg, err := NewMessage(target, payload)
	if err != nil {
		return "", err
	}
	metrics.RecordInvocation(target, "dropped")
	n.logger.Info("invocation dropped, no transport configured",
		zap.String("target", target),
		zap.String("message_id", msg.ID),
	)
	return msg.ID, nil
}

func (n *NoopInvoker) Close() error { return nil }
