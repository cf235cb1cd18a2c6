package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/notify"
	"github.com/lalithlochan/pulse/internal/push"
	"github.com/lalithlochan/pulse/internal/redis"
)

const (
	idempotencyScope = "notifications"
	maxBodyBytes     = 1 << 20
)

// Pipeline is the notification pipeline behind the HTTP surface.
type Pipeline interface {
	Publish(ctx context.Context, req *notify.Request) (*notify.PublishResult, error)
	IngestWebhook(ctx context.Context, sourceID string, raw json.RawMessage) (*notify.WebhookResult, error)
	TopicSubscribers(ctx context.Context, topicID string) ([]db.Subscriber, error)
}

// IdempotencyStore replays responses for a repeated Idempotency-Key.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key string) (*redis.StoredResponse, error)
	Complete(ctx context.Context, scope, key string, resp *redis.StoredResponse) error
	Abandon(ctx context.Context, scope, key string) error
}

// CreateResponse is returned after a notification is written
type CreateResponse struct {
	Success bool             `json:"success"`
	Data    *db.Notification `json:"data"`
	Push    *push.Result     `json:"push_notification"`
}

// WebhookResponse acknowledges a logged webhook call
type WebhookResponse struct {
	Message        string `json:"message"`
	NotificationID string `json:"notification_id,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	pipeline    Pipeline
	idempotency IdempotencyStore // nil if Redis not configured
}

// NewHandler creates a new API handler. idempotency may be nil.
func NewHandler(logger *zap.Logger, pipeline Pipeline, idempotency IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		pipeline:    pipeline,
		idempotency: idempotency,
	}
}

// CreateNotification handles POST /notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req notify.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		stored, err := h.idempotency.Begin(ctx, idempotencyScope, key)
		switch {
		case errors.Is(err, redis.ErrInFlight):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", key),
			)
			key = ""
		case stored != nil:
			metrics.RecordIdempotencyHit()
			contentType := "application/json"
			if stored.StatusCode >= http.StatusBadRequest {
				contentType = "application/problem+json"
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(stored.StatusCode)
			_, _ = w.Write(stored.Body)
			return
		}
	} else {
		key = ""
	}

	result, err := h.pipeline.Publish(ctx, &req)

	var de *push.DispatchError
	switch {
	case errors.As(err, &de):
		// The row exists; a replay must not write it again.
		h.logger.Error("push dispatch failed",
			zap.Error(err),
			zap.String("notification_id", result.Notification.ID.String()),
		)
		body := h.writeError(w, http.StatusInternalServerError, "push_error", "Push dispatch failed", err.Error())
		h.complete(ctx, key, http.StatusInternalServerError, body)
		return
	case err != nil:
		h.abandon(ctx, key)
		h.writePipelineError(w, err)
		return
	}

	body := h.writeJSON(w, http.StatusCreated, CreateResponse{
		Success: true,
		Data:    result.Notification,
		Push:    result.Push,
	})
	h.complete(ctx, key, http.StatusCreated, body)
}

// ReceiveWebhook handles POST /webhooks?source_id=...
// The call is acknowledged once the payload is logged, whether or not it
// produced a notification.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing source_id", "source_id query parameter is required")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", err.Error())
		return
	}
	if !json.Valid(raw) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", "body must be valid JSON")
		return
	}

	result, err := h.pipeline.IngestWebhook(r.Context(), sourceID, raw)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	resp := WebhookResponse{Message: "Webhook received, no notification required"}
	if !result.Suppressed() {
		resp.Message = "Webhook processed"
		resp.NotificationID = result.Notification.ID.String()
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// TopicSubscribers handles POST /topics/subscribers
func (h *Handler) TopicSubscribers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", "use POST")
		return
	}

	var req struct {
		TopicID string `json:"topic_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	subscribers, err := h.pipeline.TopicSubscribers(r.Context(), req.TopicID)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, subscribers)
}

// writePipelineError maps pipeline errors onto statuses. Anything
// unrecognized is a 500 carrying the raw error text.
func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	var verr *notify.ValidationError
	var nf *notify.NotFoundError
	var malformed *notify.MalformedPayloadError

	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid request", verr.Error())
	case errors.As(err, &nf) && nf.Kind == notify.KindWebhookSource:
		h.writeError(w, http.StatusNotFound, "not_found", "Webhook source not found", nf.Error())
	case errors.As(err, &nf):
		h.writeError(w, http.StatusBadRequest, "not_found", "Topic not found", nf.Error())
	case errors.As(err, &malformed):
		h.writeError(w, http.StatusBadRequest, "malformed_payload", "Malformed payload", malformed.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

func (h *Handler) complete(ctx context.Context, key string, status int, body []byte) {
	if key == "" {
		return
	}
	if err := h.idempotency.Complete(ctx, idempotencyScope, key, &redis.StoredResponse{StatusCode: status, Body: body}); err != nil {
		h.logger.Warn("failed to store idempotency result",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

func (h *Handler) abandon(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := h.idempotency.Abandon(ctx, idempotencyScope, key); err != nil {
		h.logger.Warn("failed to release idempotency key",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

// writeJSON writes v and returns the encoded body.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) []byte {
	return h.write(w, status, "application/json", v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) []byte {
	return h.write(w, status, "application/problem+json", ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func (h *Handler) write(w http.ResponseWriter, status int, contentType string, v any) []byte {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
	return buf.Bytes()
}
