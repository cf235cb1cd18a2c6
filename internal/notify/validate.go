package notify

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Request is an inbound notification, either posted directly or produced
// by a webhook transformer.
type Request struct {
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Severity  string          `json:"severity,omitempty"`
	Priority  string          `json:"priority,omitempty"`
	Type      string          `json:"type,omitempty"`
	Site      string          `json:"site,omitempty"`
	TopicID   string          `json:"topic_id,omitempty"`
	TopicName string          `json:"topic_name,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks every required field in one pass and returns nil when
// the request is acceptable.
func Validate(req *Request) *ValidationError {
	verr := &ValidationError{}

	if strings.TrimSpace(req.Title) == "" {
		verr.add("title", "is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		verr.add("message", "is required")
	}
	if id := strings.TrimSpace(req.TopicID); id != "" {
		if _, err := uuid.Parse(id); err != nil {
			verr.add("topic_id", "must be a valid UUID")
		}
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		verr.add("metadata", "must be valid JSON")
	}

	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}
