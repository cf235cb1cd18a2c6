package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// fakeRow scans with a caller-supplied function.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeQuerier records calls. Query is not supported.
type fakeQuerier struct {
	row      fakeRow
	rowArgs  []any
	execSQL  string
	execArgs []any
	execTag  pgconn.CommandTag
	execErr  error
	calls    int
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls++
	f.execSQL = sql
	f.execArgs = args
	return f.execTag, f.execErr
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.calls++
	return nil, errors.New("query not supported by fake")
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.calls++
	f.rowArgs = args
	return f.row
}

func TestGetTopicIDByName_NotFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
	repo := NewRepository(q, zap.NewNop())

	_, err := repo.GetTopicIDByName(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTopicIDByName_Found(t *testing.T) {
	want := uuid.New()
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*uuid.UUID) = want
		return nil
	}}}
	repo := NewRepository(q, zap.NewNop())

	got, err := repo.GetTopicIDByName(context.Background(), "ops")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestGetWebhookSource_NotFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
	repo := NewRepository(q, zap.NewNop())

	_, err := repo.GetWebhookSource(context.Background(), "src-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderWatermark(t *testing.T) {
	fallback := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stored := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		latest *time.Time
		want   time.Time
	}{
		{name: "no orders yet", latest: nil, want: fallback},
		{name: "stored watermark", latest: &stored, want: stored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error {
				*dest[0].(**time.Time) = tt.latest
				return nil
			}}}
			repo := NewRepository(q, zap.NewNop())

			got, err := repo.OrderWatermark(context.Background(), "eu", fallback)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpsertOrders_Empty(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRepository(q, zap.NewNop())

	n, err := repo.UpsertOrders(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", n, err)
	}
	if q.calls != 0 {
		t.Errorf("empty batch should not touch the database, got %d calls", q.calls)
	}
}

func TestUpsertOrders_SingleStatement(t *testing.T) {
	q := &fakeQuerier{execTag: pgconn.NewCommandTag("INSERT 0 2")}
	repo := NewRepository(q, zap.NewNop())

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	orders := []Order{
		{OrderNumber: "A1", RealmKey: "eu", Status: "new", LastModified: t1},
		{OrderNumber: "A1", RealmKey: "eu", Status: "shipped", LastModified: t1.Add(time.Hour)},
		{OrderNumber: "B2", RealmKey: "eu", Status: "new", LastModified: t1},
	}

	n, err := repo.UpsertOrders(context.Background(), orders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
	if q.calls != 1 {
		t.Errorf("expected one statement, got %d", q.calls)
	}

	numbers := q.execArgs[0].([]string)
	statuses := q.execArgs[2].([]string)
	if len(numbers) != 2 || numbers[0] != "A1" || statuses[0] != "shipped" {
		t.Errorf("duplicates not collapsed to latest: %v %v", numbers, statuses)
	}
	raws := q.execArgs[4].([]string)
	if raws[0] != "{}" {
		t.Errorf("missing raw should default to {}, got %q", raws[0])
	}
}

func TestUpsertOrders_ExecError(t *testing.T) {
	q := &fakeQuerier{execErr: errors.New("deadlock")}
	repo := NewRepository(q, zap.NewNop())

	_, err := repo.UpsertOrders(context.Background(), []Order{{OrderNumber: "A1", RealmKey: "eu"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestListPushEndpoints_NoUsers(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRepository(q, zap.NewNop())

	endpoints, err := repo.ListPushEndpoints(context.Background(), nil)
	if err != nil || endpoints != nil {
		t.Fatalf("expected nil, nil; got %v, %v", endpoints, err)
	}
	if q.calls != 0 {
		t.Errorf("expected no query, got %d calls", q.calls)
	}
}

func TestLogWebhookEvent_StoresPayloadVerbatim(t *testing.T) {
	raw := json.RawMessage(`{"b": 1,  "a":[ 2 ]}`)
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error { return nil }}}
	repo := NewRepository(q, zap.NewNop())

	if err := repo.LogWebhookEvent(context.Background(), &WebhookEvent{SourceID: "src-1", RawPayload: raw}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := q.rowArgs[1].(string); got != string(raw) {
		t.Errorf("payload altered: got %q, want %q", got, raw)
	}
}

func TestMigration_AuditPayloadKeepsBytes(t *testing.T) {
	schema, err := migrationsFS.ReadFile("migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	// The audit copy keeps the caller's bytes.
	if !strings.Contains(string(schema), "raw_payload JSON NOT NULL") {
		t.Error("webhook_events.raw_payload should be a json column")
	}
}
