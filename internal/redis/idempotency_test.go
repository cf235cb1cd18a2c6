package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

func TestIdempotency_FirstRequestOwnsKey(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewIdempotency(client, 0, zap.NewNop())

	stored, err := s.Begin(context.Background(), "notifications", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != nil {
		t.Fatalf("expected no stored response, got %+v", stored)
	}
}

func TestIdempotency_InFlight(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewIdempotency(client, 0, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Begin(ctx, "notifications", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	if _, err := s.Begin(ctx, "notifications", "key-1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
}

func TestIdempotency_Replay(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewIdempotency(client, time.Hour, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Begin(ctx, "notifications", "key-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	body := json.RawMessage(`{"success":true}`)
	if err := s.Complete(ctx, "notifications", "key-1", &StoredResponse{StatusCode: 201, Body: body}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored, err := s.Begin(ctx, "notifications", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored == nil || stored.StatusCode != 201 || string(stored.Body) != string(body) {
		t.Fatalf("expected stored response, got %+v", stored)
	}
	if stored.StoredAt == 0 {
		t.Error("stored_at should be set")
	}
}

func TestIdempotency_Abandon(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewIdempotency(client, 0, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Begin(ctx, "notifications", "key-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Abandon(ctx, "notifications", "key-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	stored, err := s.Begin(ctx, "notifications", "key-1")
	if err != nil || stored != nil {
		t.Fatalf("abandoned key should be reusable, got %+v, %v", stored, err)
	}
}

func TestIdempotency_ScopesAreIsolated(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewIdempotency(client, 0, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Begin(ctx, "notifications", "key-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.Begin(ctx, "webhooks", "key-1"); err != nil {
		t.Fatalf("other scope should not collide: %v", err)
	}
}

func TestIdempotency_ReservationExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewIdempotency(client, 0, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Begin(ctx, "notifications", "key-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	mr.FastForward(reservationTTL + time.Second)

	if _, err := s.Begin(ctx, "notifications", "key-1"); err != nil {
		t.Fatalf("expired reservation should be reclaimed, got %v", err)
	}
}

func TestIdempotency_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewIdempotency(client, 0, zap.NewNop())
	mr.Close()

	if _, err := s.Begin(context.Background(), "notifications", "key-1"); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}

// vanishingRedis reports the key as held on SETNX but gone on GET, as when
// the reservation expires between the two calls.
type vanishingRedis struct {
	reserveOn int
	setnx     int
	gets      int
}

func (v *vanishingRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	v.setnx++
	return redis.NewBoolResult(v.setnx == v.reserveOn, nil)
}

func (v *vanishingRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v.gets++
	return redis.NewStringResult("", redis.Nil)
}

func (v *vanishingRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (v *vanishingRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return redis.NewIntResult(1, nil)
}

func TestIdempotency_VanishedKeyRetriedOnce(t *testing.T) {
	tests := []struct {
		name      string
		reserveOn int
		wantErr   bool
		wantSetNX int
	}{
		{name: "second reservation wins", reserveOn: 2, wantErr: false, wantSetNX: 2},
		{name: "gives up after two attempts", reserveOn: 0, wantErr: true, wantSetNX: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &vanishingRedis{reserveOn: tt.reserveOn}
			s := &Idempotency{rdb: fake, ttl: time.Hour, logger: zap.NewNop()}

			stored, err := s.Begin(context.Background(), "notifications", "key-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if stored != nil {
				t.Errorf("expected no stored response, got %+v", stored)
			}
			if fake.setnx != tt.wantSetNX {
				t.Errorf("expected %d SETNX calls, got %d", tt.wantSetNX, fake.setnx)
			}
		})
	}
}
