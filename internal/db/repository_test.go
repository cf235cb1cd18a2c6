package db

import (
	"testing"
	"time"
)

func TestLatestPerOrder(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	orders := []Order{
		{OrderNumber: "1001", RealmKey: "eu", Status: "new", LastModified: t0},
		{OrderNumber: "1001", RealmKey: "us", Status: "new", LastModified: t0},
		{OrderNumber: "1001", RealmKey: "eu", Status: "shipped", LastModified: t0.Add(time.Hour)},
		{OrderNumber: "1001", RealmKey: "eu", Status: "stale", LastModified: t0.Add(-time.Hour)},
		{OrderNumber: "1002", RealmKey: "eu", Status: "new", LastModified: t0},
	}

	got := latestPerOrder(orders)

	if len(got) != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", len(got))
	}
	if got[0].Status != "shipped" {
		t.Errorf("expected latest copy to win, got status %q", got[0].Status)
	}
	if got[1].RealmKey != "us" || got[2].OrderNumber != "1002" {
		t.Errorf("expected first-seen order preserved, got %+v", got)
	}
}

func TestLatestPerOrder_EqualTimestampsLastWins(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	got := latestPerOrder([]Order{
		{OrderNumber: "1", RealmKey: "eu", Status: "first", LastModified: t0},
		{OrderNumber: "1", RealmKey: "eu", Status: "second", LastModified: t0},
	})

	if len(got) != 1 || got[0].Status != "second" {
		t.Errorf("expected later duplicate to win, got %+v", got)
	}
}

func TestLatestPerOrder_Empty(t *testing.T) {
	if got := latestPerOrder(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}
