package ordersync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
)

const (
	// DefaultTokenURL is the account manager endpoint issuing client
	// credential tokens.
	DefaultTokenURL = "https://account.demandware.com/dwsso/oauth2/access_token"

	// DefaultAPIVersion is the shop API version queried.
	DefaultAPIVersion = "v23_2"

	// DefaultSiteID is used when a realm names no site.
	DefaultSiteID = "-"

	pageSize = 200
	maxPages = 100
)

// Realm is one upstream commerce environment, synced with its own
// credentials.
type Realm struct {
	Key          string `mapstructure:"key" json:"key"`
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	SiteID       string `mapstructure:"site_id" json:"site_id"`
	ClientID     string `mapstructure:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" json:"-"`
	TokenURL     string `mapstructure:"token_url" json:"token_url"`
	APIVersion   string `mapstructure:"api_version" json:"api_version"`
}

// Enabled reports whether the realm has somewhere to sync from.
func (r Realm) Enabled() bool {
	return strings.TrimSpace(r.BaseURL) != ""
}

// ClientConfig configures the upstream HTTP client.
type ClientConfig struct {
	Timeout time.Duration
}

// Client talks to the upstream commerce API.
type Client struct {
	client *http.Client
	logger *zap.Logger
}

// NewClient creates an upstream client. Every call is bounded by the
// configured timeout.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token exchanges the realm's client credentials for a bearer token.
func (c *Client) Token(ctx context.Context, realm Realm) (string, error) {
	tokenURL := realm.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	form := url.Values{"grant_type": []string{"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &UpstreamAuthError{Realm: realm.Key, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(realm.ClientID, realm.ClientSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamAuthError{Realm: realm.Key, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UpstreamAuthError{Realm: realm.Key, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamAuthError{
			Realm:      realm.Key,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", &UpstreamAuthError{Realm: realm.Key, Err: fmt.Errorf("parse token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return "", &UpstreamAuthError{Realm: realm.Key, Err: errors.New("empty access token")}
	}

	return tok.AccessToken, nil
}

type rangeFilter struct {
	Field string `json:"field"`
	From  string `json:"from"`
}

type searchRequest struct {
	Query struct {
		FilteredQuery struct {
			Query struct {
				MatchAll struct{} `json:"match_all_query"`
			} `json:"query"`
			Filter struct {
				Range rangeFilter `json:"range_filter"`
			} `json:"filter"`
		} `json:"filtered_query"`
	} `json:"query"`
	Select string       `json:"select"`
	Sorts  []searchSort `json:"sorts"`
	Start  int          `json:"start"`
	Count  int          `json:"count"`
}

type searchSort struct {
	Field     string `json:"field"`
	SortOrder string `json:"sort_order"`
}

type searchHit struct {
	Data json.RawMessage `json:"data"`
}

type searchResponse struct {
	Count int         `json:"count"`
	Total int         `json:"total"`
	Hits  []searchHit `json:"hits"`
}

type orderFields struct {
	OrderNo      string    `json:"order_no"`
	Status       string    `json:"status"`
	LastModified time.Time `json:"last_modified"`
}

// SearchOrders pages through every order of the realm modified since the
// watermark. Only order number, status and last modified are selected.
func (c *Client) SearchOrders(ctx context.Context, realm Realm, token string, since time.Time) ([]db.Order, error) {
	version := realm.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	site := realm.SiteID
	if site == "" {
		site = DefaultSiteID
	}

	endpoint := fmt.Sprintf("%s/s/%s/dw/shop/%s/order_search",
		strings.TrimRight(realm.BaseURL, "/"), url.PathEscape(site), version)
	if realm.ClientID != "" {
		endpoint += "?client_id=" + url.QueryEscape(realm.ClientID)
	}

	var orders []db.Order
	for page := 0; page < maxPages; page++ {
		var sr searchRequest
		sr.Query.FilteredQuery.Filter.Range = rangeFilter{
			Field: "last_modified",
			From:  since.UTC().Format(time.RFC3339),
		}
		sr.Select = "(count,total,hits.(data.(order_no,status,last_modified)))"
		sr.Sorts = []searchSort{{Field: "last_modified", SortOrder: "asc"}}
		sr.Start = page * pageSize
		sr.Count = pageSize

		result, err := c.searchPage(ctx, realm, endpoint, token, &sr)
		if err != nil {
			return nil, err
		}

		for _, hit := range result.Hits {
			var f orderFields
			if err := json.Unmarshal(hit.Data, &f); err != nil {
				return nil, &UpstreamRequestError{Realm: realm.Key, Err: fmt.Errorf("decode order: %w", err)}
			}
			if f.OrderNo == "" {
				continue
			}
			orders = append(orders, db.Order{
				OrderNumber:  f.OrderNo,
				RealmKey:     realm.Key,
				Status:       f.Status,
				LastModified: f.LastModified,
				Raw:          hit.Data,
			})
		}

		if len(result.Hits) == 0 || sr.Start+len(result.Hits) >= result.Total {
			return orders, nil
		}
	}

	c.logger.Warn("order search stopped at page limit",
		zap.String("realm", realm.Key),
		zap.Int("orders", len(orders)),
	)
	return orders, nil
}

func (c *Client) searchPage(ctx context.Context, realm Realm, endpoint, token string, sr *searchRequest) (*searchResponse, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, &UpstreamRequestError{Realm: realm.Key, Err: fmt.Errorf("marshal search: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamRequestError{Realm: realm.Key, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamRequestError{Realm: realm.Key, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamRequestError{Realm: realm.Key, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamRequestError{
			Realm:      realm.Key,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(respBody))),
		}
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &UpstreamRequestError{Realm: realm.Key, Err: fmt.Errorf("parse search response: %w", err)}
	}

	c.logger.Debug("order search page",
		zap.String("realm", realm.Key),
		zap.Int("start", sr.Start),
		zap.Int("hits", len(result.Hits)),
		zap.Int("total", result.Total),
	)

	return &result, nil
}
