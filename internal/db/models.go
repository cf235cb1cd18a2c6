package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification represents a notification row
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Severity  string          `json:"severity"`
	Status    string          `json:"status"`
	Type      string          `json:"type"`
	Site      *string         `json:"site,omitempty"`
	TopicID   *uuid.UUID      `json:"topic_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Severity constants
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Status constants. Only StatusNew is written here; later transitions
// belong to the dashboard.
const (
	StatusNew          = "new"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Topic is a named routing destination that users subscribe to.
type Topic struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Subscriber is the public view of a user subscribed to a topic.
type Subscriber struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
}

// WebhookSource identifies a caller of the webhook endpoint and selects
// which transformer handles its payloads.
type WebhookSource struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourceType string     `json:"source_type"`
	TopicID    *uuid.UUID `json:"topic_id,omitempty"`
}

// WebhookEvent is the append-only audit record of an accepted webhook call.
type WebhookEvent struct {
	ID         uuid.UUID       `json:"id"`
	SourceID   string          `json:"source_id"`
	RawPayload json.RawMessage `json:"raw_payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Order is a snapshot of an upstream commerce order, keyed by
// (OrderNumber, RealmKey).
type Order struct {
	OrderNumber  string          `json:"order_no"`
	RealmKey     string          `json:"realm_key"`
	Status       string          `json:"status"`
	LastModified time.Time       `json:"last_modified"`
	Raw          json.RawMessage `json:"raw"`
}
