package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultOneSignalURL is the OneSignal REST API root.
const DefaultOneSignalURL = "https://onesignal.com"

// OneSignalConfig holds the provider credentials.
type OneSignalConfig struct {
	AppID   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Configured reports whether both credentials are present.
func (c OneSignalConfig) Configured() bool {
	return c.AppID != "" && c.APIKey != ""
}

// OneSignalClient sends push messages through the OneSignal REST API.
type OneSignalClient struct {
	client  *http.Client
	appID   string
	apiKey  string
	baseURL string
	logger  *zap.Logger
}

// NewOneSignalClient creates a new OneSignal client
func NewOneSignalClient(cfg OneSignalConfig, logger *zap.Logger) *OneSignalClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOneSignalURL
	}

	return &OneSignalClient{
		client:  &http.Client{Timeout: timeout},
		appID:   cfg.AppID,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		logger:  logger,
	}
}

type localized struct {
	En string `json:"en"`
}

type oneSignalRequest struct {
	AppID            string         `json:"app_id"`
	IncludePlayerIDs []string       `json:"include_player_ids"`
	Headings         localized      `json:"headings"`
	Contents         localized      `json:"contents"`
	Subtitle         localized      `json:"subtitle"`
	Data             map[string]any `json:"data,omitempty"`
}

type oneSignalResponse struct {
	ID         string          `json:"id"`
	Recipients int             `json:"recipients"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

// Send posts msg to /api/v1/notifications. Non-2xx responses and
// transport failures come back as *DispatchError.
func (c *OneSignalClient) Send(ctx context.Context, msg *Message) (string, error) {
	body, err := json.Marshal(oneSignalRequest{
		AppID:            c.appID,
		IncludePlayerIDs: msg.PlayerIDs,
		Headings:         localized{En: msg.Title},
		Contents:         localized{En: msg.Body},
		Subtitle:         localized{En: msg.Subtitle},
		Data:             msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create push request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &DispatchError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &DispatchError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed oneSignalResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.logger.Warn("unparseable push provider response",
			zap.Error(err),
			zap.Int("status_code", resp.StatusCode),
		)
		return "", nil
	}

	if len(parsed.Errors) > 0 && string(parsed.Errors) != "null" {
		c.logger.Warn("push provider accepted request with errors",
			zap.String("provider_id", parsed.ID),
			zap.String("errors", string(parsed.Errors)),
		)
	}

	return parsed.ID, nil
}
