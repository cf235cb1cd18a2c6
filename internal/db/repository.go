package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for the pipeline. It is bound to
// one Querier, normally the connection checked out for a single request.
type Repository struct {
	q      Querier
	logger *zap.Logger
}

// NewRepository creates a repository on top of q
func NewRepository(q Querier, logger *zap.Logger) *Repository {
	return &Repository{
		q:      q,
		logger: logger,
	}
}

// CreateNotification inserts a new notification and fills in the
// generated id, status and timestamps.
func (r *Repository) CreateNotification(ctx context.Context, notif *Notification) error {
	query := `
		INSERT INTO notifications (
			title, message, severity, status, type, site, topic_id, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id, status, created_at, updated_at
	`

	if notif.Status == "" {
		notif.Status = StatusNew
	}

	var metadata any
	if len(notif.Metadata) > 0 {
		metadata = string(notif.Metadata)
	}

	err := r.q.QueryRow(
		ctx,
		query,
		notif.Title,
		notif.Message,
		notif.Severity,
		notif.Status,
		notif.Type,
		notif.Site,
		notif.TopicID,
		metadata,
	).Scan(&notif.ID, &notif.Status, &notif.CreatedAt, &notif.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("title", notif.Title),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("severity", notif.Severity),
		zap.String("type", notif.Type),
	)

	return nil
}

// GetTopicIDByName resolves a topic name. ErrNotFound when no topic has it.
func (r *Repository) GetTopicIDByName(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.q.QueryRow(ctx, `SELECT id FROM topics WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("query topic: %w", err)
	}
	return id, nil
}

// GetWebhookSource looks up a webhook source by the id callers present.
func (r *Repository) GetWebhookSource(ctx context.Context, id string) (*WebhookSource, error) {
	query := `
		SELECT id, name, source_type, topic_id
		FROM webhook_sources
		WHERE id = $1
	`

	var src WebhookSource
	err := r.q.QueryRow(ctx, query, id).Scan(
		&src.ID,
		&src.Name,
		&src.SourceType,
		&src.TopicID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook source: %w", err)
	}

	return &src, nil
}

// LogWebhookEvent appends the verbatim payload to the audit log.
func (r *Repository) LogWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (source_id, raw_payload)
		VALUES ($1, $2)
		RETURNING id, received_at
	`

	err := r.q.QueryRow(ctx, query, event.SourceID, string(event.RawPayload)).
		Scan(&event.ID, &event.ReceivedAt)
	if err != nil {
		r.logger.Error("failed to log webhook event",
			zap.Error(err),
			zap.String("source_id", event.SourceID),
		)
		return fmt.Errorf("insert webhook event: %w", err)
	}

	return nil
}

// ListSubscriberIDs returns the ids of users subscribed to a topic.
func (r *Repository) ListSubscriberIDs(ctx context.Context, topicID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `SELECT user_id FROM subscriptions WHERE topic_id = $1`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return ids, nil
}

// ListPushEndpoints returns the push endpoint ids of the given users that
// have push enabled and a registered endpoint.
func (r *Repository) ListPushEndpoints(ctx context.Context, userIDs []uuid.UUID) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	query := `
		SELECT onesignal_player_id
		FROM notification_preferences
		WHERE user_id = ANY($1::uuid[])
		  AND push_enabled = TRUE
		  AND onesignal_player_id IS NOT NULL
		  AND onesignal_player_id <> ''
	`

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query notification preferences: %w", err)
	}
	defer rows.Close()

	var endpoints []string
	for rows.Next() {
		var endpoint string
		if err := rows.Scan(&endpoint); err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return endpoints, nil
}

// ListTopicSubscribers returns the public profile of every user subscribed
// to a topic, ordered by name.
func (r *Repository) ListTopicSubscribers(ctx context.Context, topicID uuid.UUID) ([]Subscriber, error) {
	query := `
		SELECT u.id, u.full_name, u.email
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.topic_id = $1
		ORDER BY u.full_name, u.id
	`

	rows, err := r.q.Query(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("query topic subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []Subscriber{}
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(&s.ID, &s.FullName, &s.Email); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscribers = append(subscribers, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return subscribers, nil
}

// OrderWatermark returns the latest last_modified stored for a realm, or
// fallback when the realm has no orders yet.
func (r *Repository) OrderWatermark(ctx context.Context, realmKey string, fallback time.Time) (time.Time, error) {
	var latest *time.Time
	err := r.q.QueryRow(ctx,
		`SELECT MAX(last_modified) FROM sfcc_orders WHERE realm_key = $1`,
		realmKey,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("query order watermark: %w", err)
	}
	if latest == nil {
		return fallback, nil
	}
	return *latest, nil
}

// UpsertOrders writes a batch of orders in one statement. Rows collide on
// (order_number, realm_key); a colliding row is overwritten unless the
// stored copy is strictly newer. Returns the number of rows written.
func (r *Repository) UpsertOrders(ctx context.Context, orders []Order) (int64, error) {
	orders = latestPerOrder(orders)
	if len(orders) == 0 {
		return 0, nil
	}

	numbers := make([]string, len(orders))
	realms := make([]string, len(orders))
	statuses := make([]string, len(orders))
	modified := make([]time.Time, len(orders))
	raws := make([]string, len(orders))
	for i, o := range orders {
		numbers[i] = o.OrderNumber
		realms[i] = o.RealmKey
		statuses[i] = o.Status
		modified[i] = o.LastModified
		raw := o.Raw
		if len(raw) == 0 {
			raw = json.RawMessage(`{}`)
		}
		raws[i] = string(raw)
	}

	query := `
		INSERT INTO sfcc_orders (order_number, realm_key, status, last_modified, raw)
		SELECT n, k, s, m, r::jsonb
		FROM unnest($1::text[], $2::text[], $3::text[], $4::timestamptz[], $5::text[])
			AS t(n, k, s, m, r)
		ON CONFLICT (order_number, realm_key) DO UPDATE
		SET status = EXCLUDED.status,
			last_modified = EXCLUDED.last_modified,
			raw = EXCLUDED.raw,
			updated_at = NOW()
		WHERE sfcc_orders.last_modified <= EXCLUDED.last_modified
	`

	tag, err := r.q.Exec(ctx, query, numbers, realms, statuses, modified, raws)
	if err != nil {
		r.logger.Error("failed to upsert orders",
			zap.Error(err),
			zap.Int("count", len(orders)),
		)
		return 0, fmt.Errorf("upsert orders: %w", err)
	}

	return tag.RowsAffected(), nil
}

// latestPerOrder collapses duplicate keys, keeping the most recently
// modified copy. A single INSERT cannot touch the same key twice.
func latestPerOrder(orders []Order) []Order {
	type key struct{ number, realm string }
	index := make(map[key]int, len(orders))
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		k := key{o.OrderNumber, o.RealmKey}
		if i, ok := index[k]; ok {
			if !o.LastModified.Before(out[i].LastModified) {
				out[i] = o
			}
			continue
		}
		index[k] = len(out)
		out = append(out, o)
	}
	return out
}
