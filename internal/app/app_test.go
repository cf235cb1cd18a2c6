package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/config"
	"github.com/lalithlochan/pulse/internal/invoke"
)

func TestNewPusher(t *testing.T) {
	unconfigured, breaker := NewPusher(&config.Config{}, zap.NewNop())
	if unconfigured.Configured() {
		t.Error("dispatcher without credentials should not be configured")
	}
	if breaker != nil {
		t.Error("no breaker expected without a provider")
	}

	configured, breaker := NewPusher(&config.Config{OneSignalAppID: "app", OneSignalAPIKey: "key"}, zap.NewNop())
	if !configured.Configured() {
		t.Error("dispatcher with credentials should be configured")
	}
	if breaker == nil || breaker.Stats().Name != "onesignal" {
		t.Error("expected the onesignal breaker")
	}
}

func TestNewAlerter_NoTargets(t *testing.T) {
	a := NewAlerter(context.Background(), &config.Config{}, zap.NewNop())
	if a.Len() != 0 {
		t.Errorf("expected no targets, got %d", a.Len())
	}
}

func TestNewInvoker(t *testing.T) {
	inv, err := NewInvoker(context.Background(), &config.Config{InvokeTransport: config.TransportNone}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := inv.(*invoke.NoopInvoker); !ok {
		t.Errorf("expected noop invoker, got %T", inv)
	}

	_, err = NewInvoker(context.Background(), &config.Config{InvokeTransport: "carrier-pigeon"}, zap.NewNop())
	var cerr *config.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestNewNotificationConsumer_RequiresQueue(t *testing.T) {
	_, err := NewNotificationConsumer(context.Background(), &config.Config{}, zap.NewNop())
	var cerr *config.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestNewSyncer_LoadsRealms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realms.yaml")
	if err := os.WriteFile(path, []byte("realms:\n  - key: eu\n    base_url: https://eu.example.com\n"), 0o600); err != nil {
		t.Fatalf("write realms: %v", err)
	}

	s, err := NewSyncer(&config.Config{RealmsFile: path}, nil, invoke.NewNoopInvoker(zap.NewNop()), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected syncer")
	}

	if _, err := NewSyncer(&config.Config{RealmsFile: filepath.Join(t.TempDir(), "nope.yaml")}, nil, nil, nil, zap.NewNop()); err == nil {
		t.Error("missing realms file should fail")
	}
}

func TestNewRunner_WithoutBucket(t *testing.T) {
	r, err := NewRunner(context.Background(), &config.Config{}, invoke.NewNoopInvoker(zap.NewNop()), zap.NewNop())
	if err != nil || r == nil {
		t.Fatalf("expected runner, got %v", err)
	}
}
