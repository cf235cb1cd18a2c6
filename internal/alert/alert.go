// Package alert raises operator alerts for hard failures such as a push
// provider rejecting a request or an order sync realm failing.
package alert

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Alert is one operator-facing message.
type Alert struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Severity string `json:"severity"`
	Source   string `json:"source"`
}

// Alerter delivers an Alert to operators.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// MultiAlerter delivers to every configured alerter. One failing target
// does not stop delivery to the others.
type MultiAlerter struct {
	alerters []Alerter
	logger   *zap.Logger
}

// NewMultiAlerter combines alerters. Nil entries are dropped.
func NewMultiAlerter(logger *zap.Logger, alerters ...Alerter) *MultiAlerter {
	m := &MultiAlerter{logger: logger}
	for _, a := range alerters {
		if a != nil {
			m.alerters = append(m.alerters, a)
		}
	}
	return m
}

// Len returns the number of wired alerters.
func (m *MultiAlerter) Len() int {
	return len(m.alerters)
}

// Alert sends a to every target and joins the failures.
func (m *MultiAlerter) Alert(ctx context.Context, a Alert) error {
	if len(m.alerters) == 0 {
		m.logger.Warn("alert raised with no alert targets configured",
			zap.String("subject", a.Subject),
			zap.String("source", a.Source),
		)
		return nil
	}

	var errs []error
	for _, target := range m.alerters {
		if err := target.Alert(ctx, a); err != nil {
			m.logger.Error("alert delivery failed",
				zap.Error(err),
				zap.String("subject", a.Subject),
				zap.String("target", fmt.Sprintf("%T", target)),
			)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
