// Package push resolves the push-enabled subscribers of a topic and hands
// one batched message to the push provider.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/metrics"
)

// Result statuses and skip reasons
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"

	ReasonNoTopic         = "no_topic"
	ReasonNotConfigured   = "not_configured"
	ReasonNoSubscribers   = "no_subscribers"
	ReasonNoPushEnabled   = "no_push_enabled_users"
	defaultSubtitleOrigin = "System"
)

// Directory is the read side the dispatcher needs from the database.
type Directory interface {
	ListSubscriberIDs(ctx context.Context, topicID uuid.UUID) ([]uuid.UUID, error)
	ListPushEndpoints(ctx context.Context, userIDs []uuid.UUID) ([]string, error)
}

// Message is one outbound push request covering every recipient.
type Message struct {
	PlayerIDs []string
	Title     string
	Body      string
	Subtitle  string
	Data      map[string]any
}

// Sender delivers a Message to the push provider and returns the
// provider's id for it.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Result describes what happened to the push side of a notification.
type Result struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Recipients int    `json:"recipients,omitempty"`
	ProviderID string `json:"id,omitempty"`
}

// DispatchError means the provider rejected the request or could not be
// reached. It is a hard failure, unlike a skipped Result.
type DispatchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push provider returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("push provider request failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatcher fans a notification out to the push-enabled subscribers of
// its topic.
type Dispatcher struct {
	sender Sender
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil sender means the provider is
// not configured and every dispatch is skipped.
func NewDispatcher(sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		logger: logger,
	}
}

// Configured reports whether a provider is wired in.
func (d *Dispatcher) Configured() bool {
	return d.sender != nil
}

// Dispatch sends n to every subscriber of its topic that has push enabled
// and a registered endpoint. Having nobody to notify is a skipped Result,
// not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, dir Directory, n *db.Notification) (*Result, error) {
	if n.TopicID == nil {
		return d.skip(ReasonNoTopic), nil
	}
	if d.sender == nil {
		return d.skip(ReasonNotConfigured), nil
	}

	userIDs, err := dir.ListSubscriberIDs(ctx, *n.TopicID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	if len(userIDs) == 0 {
		return d.skip(ReasonNoSubscribers), nil
	}

	endpoints, err := dir.ListPushEndpoints(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list push endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return d.skip(ReasonNoPushEnabled), nil
	}

	msg := BuildMessage(n, endpoints)

	start := time.Now()
	id, err := d.sender.Send(ctx, msg)
	metrics.RecordPushLatency(time.Since(start))
	if err != nil {
		metrics.RecordPushDispatch("failed", "")
		var dispatchErr *DispatchError
		if !errors.As(err, &dispatchErr) {
			err = &DispatchError{Err: err}
		}
		d.logger.Error("push dispatch failed",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
			zap.Int("recipients", len(endpoints)),
		)
		return nil, err
	}

	metrics.RecordPushDispatch(StatusSent, "")
	d.logger.Info("push dispatched",
		zap.String("notification_id", n.ID.String()),
		zap.String("provider_id", id),
		zap.Int("recipients", len(endpoints)),
	)

	return &Result{
		Status:     StatusSent,
		Recipients: len(endpoints),
		ProviderID: id,
	}, nil
}

func (d *Dispatcher) skip(reason string) *Result {
	metrics.RecordPushDispatch(StatusSkipped, reason)
	d.logger.Debug("push skipped", zap.String("reason", reason))
	return &Result{Status: StatusSkipped, Reason: reason}
}

// BuildMessage composes the provider message for n. The subtitle carries
// the origin site and the upper-cased severity.
func BuildMessage(n *db.Notification, endpoints []string) *Message {
	site := defaultSubtitleOrigin
	if n.Site != nil && *n.Site != "" {
		site = *n.Site
	}

	data := map[string]any{
		"notification_id": n.ID.String(),
		"title":           n.Title,
		"message":         n.Message,
		"severity":        n.Severity,
		"type":            n.Type,
		"site":            n.Site,
		"topic_id":        n.TopicID,
	}
	if len(n.Metadata) > 0 {
		data["metadata"] = n.Metadata
	}

	return &Message{
		PlayerIDs: endpoints,
		Title:     n.Title,
		Body:      n.Message,
		Subtitle:  site + " • " + strings.ToUpper(n.Severity),
		Data:      data,
	}
}
