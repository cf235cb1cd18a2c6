package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.InvokeTransport != TransportNone {
		t.Errorf("expected no transport by default, got %q", cfg.InvokeTransport)
	}
	if cfg.WebhookRateLimit != 120 {
		t.Errorf("expected rate limit 120, got %d", cfg.WebhookRateLimit)
	}
	if cfg.OneSignal().Configured() {
		t.Error("push should not be configured without credentials")
	}
}

func TestLoad_DatabaseMustBeExplicit(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cerr *ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cerr) || cerr.Key != "DATABASE_URL" {
		t.Fatalf("expected DATABASE_URL ConfigurationError, got %v", err)
	}

	t.Setenv("DB_HOST", "db.internal")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("explicit DB_HOST should validate, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/pulse")
	t.Setenv("ONESIGNAL_APP_ID", "app")
	t.Setenv("ONESIGNAL_API_KEY", "key")
	t.Setenv("PUSH_TIMEOUT", "5")
	t.Setenv("ORDER_SYNC_INTERVAL", "15m")
	t.Setenv("INVOKE_TRANSPORT", "SQS")
	t.Setenv("SQS_NOTIFICATION_QUEUE_URL", "https://sqs/notify")
	t.Setenv("ALERT_SES_TO", "ops@example.com, oncall@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.Database().DSN() != "postgres://u:p@db:5432/pulse" {
		t.Errorf("database url should win, got %q", cfg.Database().DSN())
	}
	if !cfg.OneSignal().Configured() {
		t.Error("push should be configured")
	}
	if cfg.PushTimeout != 5*time.Second {
		t.Errorf("expected 5s push timeout, got %v", cfg.PushTimeout)
	}
	if cfg.OrderSyncInterval != 15*time.Minute {
		t.Errorf("expected 15m interval, got %v", cfg.OrderSyncInterval)
	}
	if cfg.InvokeTransport != TransportSQS {
		t.Errorf("expected sqs transport, got %q", cfg.InvokeTransport)
	}
	if q := cfg.Queues(); q["notification"] != "https://sqs/notify" || len(q) != 1 {
		t.Errorf("unexpected queues: %v", q)
	}
	if len(cfg.AlertSESTo) != 2 || cfg.AlertSESTo[1] != "oncall@example.com" {
		t.Errorf("unexpected recipients: %v", cfg.AlertSESTo)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "eighty"},
		{"REDIS_DB", "zero"},
		{"PUSH_TIMEOUT", "soon"},
		{"CONSUMER_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_UnknownTransport(t *testing.T) {
	t.Setenv("INVOKE_TRANSPORT", "kafka")

	_, err := Load()
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Key != "INVOKE_TRANSPORT" {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	var cerr *ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cerr) {
		t.Errorf("missing database should be a configuration error, got %v", err)
	}

	cfg = &Config{DBHost: "localhost", InvokeTransport: TransportNATS}
	if err := cfg.Validate(); err == nil {
		t.Error("nats transport without url should fail")
	}

	cfg.NATSURL = "nats://localhost:4222"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func writeRealms(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realms.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write realms: %v", err)
	}
	return path
}

func TestLoadRealms(t *testing.T) {
	path := writeRealms(t, `
realms:
  - key: eu-prod
    base_url: https://eu.example.com
    site_id: RefArch
    client_id: eu-client
  - key: us-prod
    site_id: RefArchGlobal
`)
	t.Setenv("REALM_EU_PROD_CLIENT_SECRET", "eu-secret")
	t.Setenv("REALM_US_PROD_BASE_URL", "https://us.example.com")
	t.Setenv("REALM_KEYS", "us-prod,apac")
	t.Setenv("REALM_APAC_BASE_URL", "https://apac.example.com")

	realms, err := LoadRealms(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(realms) != 3 {
		t.Fatalf("expected 3 realms, got %d: %+v", len(realms), realms)
	}

	eu := realms[0]
	if eu.Key != "eu-prod" || eu.SiteID != "RefArch" || eu.ClientID != "eu-client" || eu.ClientSecret != "eu-secret" {
		t.Errorf("unexpected eu realm: %+v", eu)
	}
	if realms[1].BaseURL != "https://us.example.com" {
		t.Errorf("env should fill us base url, got %+v", realms[1])
	}
	if realms[2].Key != "apac" || !realms[2].Enabled() {
		t.Errorf("env-only realm should be added, got %+v", realms[2])
	}
}

func TestLoadRealms_Errors(t *testing.T) {
	if _, err := LoadRealms(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	path := writeRealms(t, "realms:\n  - base_url: https://x.example.com\n")
	var cerr *ConfigurationError
	if _, err := LoadRealms(path); !errors.As(err, &cerr) {
		t.Errorf("realm without key should be a configuration error, got %v", err)
	}

	path = writeRealms(t, "realms:\n  - key: a\n  - key: a\n")
	if _, err := LoadRealms(path); err == nil {
		t.Error("duplicate realm should fail")
	}
}

func TestLoadRealms_EnvOnly(t *testing.T) {
	t.Setenv("REALM_KEYS", "eu")
	t.Setenv("REALM_EU_BASE_URL", "https://eu.example.com")

	realms, err := LoadRealms("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(realms) != 1 || realms[0].BaseURL != "https://eu.example.com" {
		t.Errorf("unexpected realms: %+v", realms)
	}
}
