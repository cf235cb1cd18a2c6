// Package notify validates and normalizes inbound notifications, resolves
// their topic, writes them and hands them to the push dispatcher.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/alert"
	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/push"
)

// DefaultType is used when a request carries no type.
const DefaultType = "general"

// Store is the database surface the pipeline uses. *db.Repository
// satisfies it.
type Store interface {
	push.Directory
	CreateNotification(ctx context.Context, notif *db.Notification) error
	GetTopicIDByName(ctx context.Context, name string) (uuid.UUID, error)
	GetWebhookSource(ctx context.Context, id string) (*db.WebhookSource, error)
	LogWebhookEvent(ctx context.Context, event *db.WebhookEvent) error
	ListTopicSubscribers(ctx context.Context, topicID uuid.UUID) ([]db.Subscriber, error)
}

// AcquireFunc checks out one connection, runs fn against a Store bound to
// it and releases the connection when fn returns.
type AcquireFunc func(ctx context.Context, fn func(Store) error) error

// Pusher dispatches a written notification to its topic's subscribers.
type Pusher interface {
	Dispatch(ctx context.Context, dir push.Directory, n *db.Notification) (*push.Result, error)
}

// PublishResult is the outcome of a successful write.
type PublishResult struct {
	Notification *db.Notification `json:"data"`
	Push         *push.Result     `json:"push_notification"`
}

// WebhookResult is the outcome of an accepted webhook call. Notification
// is nil when the payload was suppressed.
type WebhookResult struct {
	Source       *db.WebhookSource
	Notification *db.Notification
	Push         *push.Result
}

// Suppressed reports whether the webhook produced no notification.
func (r *WebhookResult) Suppressed() bool {
	return r.Notification == nil
}

// Service runs the notification pipeline. Every call checks out exactly
// one connection and runs its queries on it in sequence.
type Service struct {
	acquire AcquireFunc
	pusher  Pusher
	alerter alert.Alerter
	logger  *zap.Logger
}

// NewService creates the pipeline. alerter may be nil.
func NewService(acquire AcquireFunc, pusher Pusher, alerter alert.Alerter, logger *zap.Logger) *Service {
	return &Service{
		acquire: acquire,
		pusher:  pusher,
		alerter: alerter,
		logger:  logger,
	}
}

// Publish validates req, resolves its topic, writes the notification and
// dispatches push. A *push.DispatchError is returned together with the
// result because the row has already been written.
func (s *Service) Publish(ctx context.Context, req *Request) (*PublishResult, error) {
	if verr := Validate(req); verr != nil {
		return nil, verr
	}

	var result *PublishResult
	var dispatchErr error

	err := s.acquire(ctx, func(store Store) error {
		topicID, err := s.resolveTopic(ctx, store, req)
		if err != nil {
			return err
		}

		notif := buildNotification(req, topicID)
		if err := store.CreateNotification(ctx, notif); err != nil {
			return err
		}
		metrics.RecordNotificationCreated("api", notif.Severity)

		pushResult, err := s.pusher.Dispatch(ctx, store, notif)
		result = &PublishResult{Notification: notif, Push: pushResult}

		var de *push.DispatchError
		if errors.As(err, &de) {
			dispatchErr = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if dispatchErr != nil {
		s.raise(ctx, result.Notification, dispatchErr)
		return result, dispatchErr
	}

	return result, nil
}

// IngestWebhook records a webhook call from sourceID and turns it into a
// notification when its transformer says so. The raw body is logged
// before it is transformed, so a malformed body is still audited.
func (s *Service) IngestWebhook(ctx context.Context, sourceID string, raw json.RawMessage) (*WebhookResult, error) {
	result := &WebhookResult{}

	err := s.acquire(ctx, func(store Store) error {
		source, err := store.GetWebhookSource(ctx, sourceID)
		if errors.Is(err, db.ErrNotFound) {
			return &NotFoundError{Kind: KindWebhookSource, Key: sourceID}
		}
		if err != nil {
			return err
		}
		result.Source = source

		if err := store.LogWebhookEvent(ctx, &db.WebhookEvent{SourceID: source.ID, RawPayload: raw}); err != nil {
			return err
		}

		req, err := TransformerFor(source.SourceType).Transform(raw)
		if err != nil {
			metrics.RecordWebhook(source.SourceType, "malformed")
			return err
		}
		if req == nil {
			metrics.RecordWebhook(source.SourceType, "suppressed")
			s.logger.Info("webhook suppressed",
				zap.String("source_id", source.ID),
				zap.String("source_type", source.SourceType),
			)
			return nil
		}
		if verr := Validate(req); verr != nil {
			return verr
		}

		notif := buildNotification(req, source.TopicID)
		if err := store.CreateNotification(ctx, notif); err != nil {
			return err
		}
		result.Notification = notif
		metrics.RecordWebhook(source.SourceType, "notified")
		metrics.RecordNotificationCreated(source.SourceType, notif.Severity)

		pushResult, err := s.pusher.Dispatch(ctx, store, notif)
		result.Push = pushResult

		var de *push.DispatchError
		if errors.As(err, &de) {
			// The event is durably logged; the caller still gets 200.
			s.logger.Error("webhook push dispatch failed",
				zap.Error(err),
				zap.String("source_id", source.ID),
				zap.String("notification_id", notif.ID.String()),
			)
			s.raise(ctx, notif, err)
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// TopicSubscribers lists the users subscribed to topicID.
func (s *Service) TopicSubscribers(ctx context.Context, topicID string) ([]db.Subscriber, error) {
	verr := &ValidationError{}
	id, err := uuid.Parse(strings.TrimSpace(topicID))
	switch {
	case strings.TrimSpace(topicID) == "":
		verr.add("topic_id", "is required")
	case err != nil:
		verr.add("topic_id", "must be a valid UUID")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	var subscribers []db.Subscriber
	err = s.acquire(ctx, func(store Store) error {
		var err error
		subscribers, err = store.ListTopicSubscribers(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return subscribers, nil
}

// resolveTopic trusts an explicit id and looks a name up exactly once.
func (s *Service) resolveTopic(ctx context.Context, store Store, req *Request) (*uuid.UUID, error) {
	if id := strings.TrimSpace(req.TopicID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, &ValidationError{Fields: []FieldError{{Field: "topic_id", Message: "must be a valid UUID"}}}
		}
		return &parsed, nil
	}

	name := strings.TrimSpace(req.TopicName)
	if name == "" {
		return nil, nil
	}

	id, err := store.GetTopicIDByName(ctx, name)
	if errors.Is(err, db.ErrNotFound) {
		return nil, &NotFoundError{Kind: KindTopic, Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve topic: %w", err)
	}
	return &id, nil
}

func (s *Service) raise(ctx context.Context, notif *db.Notification, err error) {
	if s.alerter == nil {
		return
	}
	alertErr := s.alerter.Alert(ctx, alert.Alert{
		Subject:  "Push dispatch failed: " + notif.Title,
		Body:     fmt.Sprintf("notification %s was stored but push delivery failed: %v", notif.ID, err),
		Severity: db.SeverityHigh,
		Source:   "push",
	})
	if alertErr != nil {
		s.logger.Error("failed to raise push alert", zap.Error(alertErr))
	}
}

func buildNotification(req *Request, topicID *uuid.UUID) *db.Notification {
	notif := &db.Notification{
		Title:    strings.TrimSpace(req.Title),
		Message:  strings.TrimSpace(req.Message),
		Severity: NormalizeSeverity(req.Severity, req.Priority),
		Status:   db.StatusNew,
		Type:     strings.TrimSpace(req.Type),
		TopicID:  topicID,
	}
	if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
		notif.Metadata = req.Metadata
	}
	if notif.Type == "" {
		notif.Type = DefaultType
	}
	if site := strings.TrimSpace(req.Site); site != "" {
		notif.Site = &site
	}
	return notif
}
