package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const maxFallbackMessage = 500

// GenericTransformer handles any JSON object that signals a failure via
// severity, status or an error field.
type GenericTransformer struct{}

func (GenericTransformer) Transform(raw json.RawMessage) (*Request, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &MalformedPayloadError{Source: SourceGeneric, Err: err}
	}
	if payload == nil {
		return nil, &MalformedPayloadError{Source: SourceGeneric, Err: errors.New("payload is not an object")}
	}

	severity := strings.ToLower(stringField(payload, "severity"))
	status := strings.ToLower(stringField(payload, "status"))

	failing := severity == "high" || severity == "critical" ||
		status == "failed" || status == "failure" || status == "error" ||
		hasError(payload["error"])
	if !failing {
		return nil, nil
	}

	title := firstNonEmpty(
		stringField(payload, "title"),
		stringField(payload, "subject"),
		stringField(payload, "event"),
		stringField(payload, "type"),
		"Webhook alert",
	)

	message := firstNonEmpty(
		stringField(payload, "message"),
		stringField(payload, "description"),
		stringField(payload, "error"),
	)
	if message == "" {
		message = truncate(compact(raw), maxFallbackMessage)
	}

	return &Request{
		Title:    title,
		Message:  message,
		Severity: "high",
		Type:     firstNonEmpty(stringField(payload, "type"), "webhook"),
		Site:     firstNonEmpty(stringField(payload, "site"), stringField(payload, "source")),
		Metadata: raw,
	}, nil
}

// stringField returns a trimmed string value, or "" for missing and
// non-string values.
func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return strings.TrimSpace(s)
}

func hasError(v any) bool {
	switch e := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(e) != ""
	case bool:
		return e
	case map[string]any:
		return len(e) > 0
	case []any:
		return len(e) > 0
	default:
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// truncate cuts s to max runes and marks the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
