package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultIdempotencyTTL is how long a completed response is replayed.
	DefaultIdempotencyTTL = 24 * time.Hour

	// reservationTTL bounds how long an abandoned in-flight key blocks
	// retries.
	reservationTTL = 2 * time.Minute

	inFlightMarker = "in-flight"

	// beginAttempts covers one reservation expiring between SETNX and GET.
	beginAttempts = 2
)

// ErrInFlight is returned when a request with the same key is still being
// processed.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

// StoredResponse is a completed response kept for replay.
type StoredResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	StoredAt   int64           `json:"stored_at"`
}

// idempotencyCmds is the subset of go-redis the store issues.
type idempotencyCmds interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Idempotency replays completed responses for a repeated Idempotency-Key.
type Idempotency struct {
	rdb    idempotencyCmds
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotency creates the store. A zero ttl uses DefaultIdempotencyTTL.
func NewIdempotency(client *Client, ttl time.Duration, logger *zap.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Idempotency{
		rdb:    client.rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func idempotencyKey(scope, key string) string {
	return "idempotency:" + scope + ":" + key
}

// Begin reserves key within scope. It returns the stored response when
// the key already completed, ErrInFlight when another request holds it,
// and (nil, nil) when the caller now owns the key.
func (s *Idempotency) Begin(ctx context.Context, scope, key string) (*StoredResponse, error) {
	rkey := idempotencyKey(scope, key)

	var val string
	for attempt := 1; ; attempt++ {
		reserved, err := s.rdb.SetNX(ctx, rkey, inFlightMarker, reservationTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if reserved {
			return nil, nil
		}

		val, err = s.rdb.Get(ctx, rkey).Result()
		if err == nil {
			break
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis get: %w", err)
		}
		// Expired between the two calls.
		if attempt == beginAttempts {
			return nil, fmt.Errorf("idempotency key %s vanished after %d attempts", rkey, attempt)
		}
	}

	if val == inFlightMarker {
		return nil, ErrInFlight
	}

	var stored StoredResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}

	s.logger.Debug("idempotent replay",
		zap.String("scope", scope),
		zap.Int("status_code", stored.StatusCode),
	)

	return &stored, nil
}

// Complete records the response for key, replacing the reservation.
func (s *Idempotency) Complete(ctx context.Context, scope, key string, resp *StoredResponse) error {
	if resp.StoredAt == 0 {
		resp.StoredAt = time.Now().Unix()
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode stored response: %w", err)
	}

	if err := s.rdb.Set(ctx, idempotencyKey(scope, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Abandon drops the reservation so the request can be retried.
func (s *Idempotency) Abandon(ctx context.Context, scope, key string) error {
	if err := s.rdb.Del(ctx, idempotencyKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
