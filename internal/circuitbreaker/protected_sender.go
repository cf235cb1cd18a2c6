package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/push"
)

// ProtectedSender wraps a push.Sender with a CircuitBreaker. An open
// circuit is reported as a *push.DispatchError without touching the
// provider.
type ProtectedSender struct {
	sender  push.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender push.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send forwards msg unless the circuit is open. Only provider failures
// count against the breaker; request-building errors do not.
func (p *ProtectedSender) Send(ctx context.Context, msg *push.Message) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected push request",
			zap.String("breaker", p.breaker.Name()),
			zap.Int("recipients", len(msg.PlayerIDs)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return "", &push.DispatchError{
			Err: fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.Name()),
		}
	}

	id, err := p.sender.Send(ctx, msg)
	if err != nil {
		var dispatchErr *push.DispatchError
		if errors.As(err, &dispatchErr) {
			p.breaker.RecordFailure()
			p.logger.Debug("circuit breaker recorded failure",
				zap.String("breaker", p.breaker.Name()),
				zap.Error(err),
			)
		}
		return "", err
	}

	p.breaker.RecordSuccess()
	return id, nil
}
