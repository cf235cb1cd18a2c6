package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/invoke"
	"github.com/lalithlochan/pulse/internal/push"
)

// Invocation transports
const (
	TransportSQS  = "sqs"
	TransportNATS = "nats"
	TransportNone = "none"
)

// ConfigurationError reports a required setting that is missing or
// unusable.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database. DatabaseURL wins over the individual fields.
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Push provider
	OneSignalAppID   string
	OneSignalAPIKey  string
	OneSignalBaseURL string
	PushTimeout      time.Duration

	// AWS Services
	AWSRegion   string
	AWSEndpoint string // LocalStack

	// Invocation transport
	InvokeTransport      string
	SQSNotificationQueue string
	SQSOrderProcessQueue string
	NATSURL              string
	NATSSubjectPrefix    string
	ConsumerEnabled      bool
	ConsumerRetryDelay   time.Duration

	// Alerts
	AlertSNSTopicARN string
	AlertSESFrom     string
	AlertSESTo       []string

	// Order sync
	RealmsFile        string
	OrderSyncInterval time.Duration // zero disables the in-process schedule
	UpstreamTimeout   time.Duration

	// Synthetic journeys
	SyntheticBucket      string
	SyntheticUsername    string
	SyntheticPassword    string
	SyntheticStepTimeout time.Duration

	// Webhook ingress
	WebhookRateLimit int // requests per source per minute
	IdempotencyTTL   time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Postgres defaults. The host has none: DB_HOST or DATABASE_URL
		// must be set.
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "pulse",
		DBSSLMode: "disable",

		// Redis defaults
		RedisHost: "localhost",
		RedisPort: 6379,

		PushTimeout: 10 * time.Second,

		AWSRegion: "us-east-1",

		InvokeTransport:    TransportNone,
		NATSSubjectPrefix:  "pulse.invoke.",
		ConsumerRetryDelay: time.Minute,

		UpstreamTimeout: 30 * time.Second,

		SyntheticStepTimeout: 15 * time.Second,

		WebhookRateLimit: 120,
		IdempotencyTTL:   24 * time.Hour,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// Push provider
	cfg.OneSignalAppID = os.Getenv("ONESIGNAL_APP_ID")
	cfg.OneSignalAPIKey = os.Getenv("ONESIGNAL_API_KEY")
	cfg.OneSignalBaseURL = os.Getenv("ONESIGNAL_BASE_URL")

	if cfg.PushTimeout, err = durationEnv("PUSH_TIMEOUT", cfg.PushTimeout); err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	cfg.AWSEndpoint = os.Getenv("AWS_ENDPOINT_URL")

	// Invocation transport
	if transport := os.Getenv("INVOKE_TRANSPORT"); transport != "" {
		cfg.InvokeTransport = strings.ToLower(transport)
	}
	switch cfg.InvokeTransport {
	case TransportSQS, TransportNATS, TransportNone:
	default:
		return nil, &ConfigurationError{Key: "INVOKE_TRANSPORT", Reason: "must be one of sqs, nats, none"}
	}

	cfg.SQSNotificationQueue = os.Getenv("SQS_NOTIFICATION_QUEUE_URL")
	cfg.SQSOrderProcessQueue = os.Getenv("SQS_ORDER_PROCESS_QUEUE_URL")

	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATSURL = url
	}

	if prefix := os.Getenv("NATS_SUBJECT_PREFIX"); prefix != "" {
		cfg.NATSSubjectPrefix = prefix
	}

	if enabled := os.Getenv("CONSUMER_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid CONSUMER_ENABLED: %w", err)
		}
		cfg.ConsumerEnabled = b
	}

	if cfg.ConsumerRetryDelay, err = durationEnv("CONSUMER_RETRY_DELAY", cfg.ConsumerRetryDelay); err != nil {
		return nil, err
	}

	// Alerts
	cfg.AlertSNSTopicARN = os.Getenv("ALERT_SNS_TOPIC_ARN")
	cfg.AlertSESFrom = os.Getenv("ALERT_SES_FROM")
	cfg.AlertSESTo = splitList(os.Getenv("ALERT_SES_TO"))

	// Order sync
	cfg.RealmsFile = os.Getenv("REALMS_FILE")

	if cfg.OrderSyncInterval, err = durationEnv("ORDER_SYNC_INTERVAL", cfg.OrderSyncInterval); err != nil {
		return nil, err
	}

	if cfg.UpstreamTimeout, err = durationEnv("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout); err != nil {
		return nil, err
	}

	// Synthetic journeys
	cfg.SyntheticBucket = os.Getenv("SYNTHETIC_S3_BUCKET")
	cfg.SyntheticUsername = os.Getenv("SYNTHETIC_USERNAME")
	cfg.SyntheticPassword = os.Getenv("SYNTHETIC_PASSWORD")

	if cfg.SyntheticStepTimeout, err = durationEnv("SYNTHETIC_STEP_TIMEOUT", cfg.SyntheticStepTimeout); err != nil {
		return nil, err
	}

	// Webhook ingress
	if cfg.WebhookRateLimit, err = intEnv("WEBHOOK_RATE_LIMIT", cfg.WebhookRateLimit); err != nil {
		return nil, err
	}

	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings every binary needs. A missing database is
// fatal at startup.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.DBHost == "" {
		return &ConfigurationError{Key: "DATABASE_URL", Reason: "database connection is not configured"}
	}
	if c.InvokeTransport == TransportNATS && c.NATSURL == "" {
		return &ConfigurationError{Key: "NATS_URL", Reason: "required when INVOKE_TRANSPORT is nats"}
	}
	return nil
}

// Database returns the connection settings for the db package.
func (c *Config) Database() db.Config {
	return db.Config{
		URL:      c.DatabaseURL,
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

// OneSignal returns the push provider settings. Missing credentials are
// not an error; dispatch then reports not_configured.
func (c *Config) OneSignal() push.OneSignalConfig {
	return push.OneSignalConfig{
		AppID:   c.OneSignalAppID,
		APIKey:  c.OneSignalAPIKey,
		BaseURL: c.OneSignalBaseURL,
		Timeout: c.PushTimeout,
	}
}

// Queues maps invocation targets to their SQS queue URLs.
func (c *Config) Queues() map[string]string {
	queues := map[string]string{}
	if c.SQSNotificationQueue != "" {
		queues[invoke.TargetNotification] = c.SQSNotificationQueue
	}
	if c.SQSOrderProcessQueue != "" {
		queues[invoke.TargetOrderProcess] = c.SQSOrderProcessQueue
	}
	return queues
}

// RedisAddr returns host:port for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("90s") or bare seconds ("90").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
