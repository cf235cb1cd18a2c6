package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"access_token":"abc123","token_type":"Bearer","expires_in":1799}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{}, zap.NewNop())

	tok, err := c.Token(context.Background(), Realm{Key: "eu", TokenURL: srv.URL, ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "abc123" {
		t.Errorf("expected token abc123, got %q", tok)
	}

	_, err = c.Token(context.Background(), Realm{Key: "eu", TokenURL: srv.URL, ClientID: "client", ClientSecret: "wrong"})
	var authErr *UpstreamAuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected UpstreamAuthError, got %v", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized || authErr.Realm != "eu" {
		t.Errorf("unexpected error fields: %+v", authErr)
	}
}

func TestToken_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Timeout: 20 * time.Millisecond}, zap.NewNop())

	_, err := c.Token(context.Background(), Realm{Key: "eu", TokenURL: srv.URL})
	var authErr *UpstreamAuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected UpstreamAuthError on timeout, got %v", err)
	}
}

func TestSearchOrders_Pages(t *testing.T) {
	const total = 250
	var requests []searchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/s/RefArch/dw/shop/v23_2/order_search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		if r.URL.Query().Get("client_id") != "client" {
			t.Errorf("missing client_id")
		}

		var sr searchRequest
		if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		requests = append(requests, sr)

		end := sr.Start + sr.Count
		if end > total {
			end = total
		}
		hits := make([]string, 0, end-sr.Start)
		for i := sr.Start; i < end; i++ {
			hits = append(hits, fmt.Sprintf(`{"data":{"order_no":"%05d","status":"new","last_modified":"2026-03-01T10:00:00.000Z"}}`, i))
		}
		fmt.Fprintf(w, `{"count":%d,"total":%d,"hits":[%s]}`, len(hits), total, strings.Join(hits, ","))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{}, zap.NewNop())
	since := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	orders, err := c.SearchOrders(context.Background(), Realm{Key: "eu", BaseURL: srv.URL + "/", SiteID: "RefArch", ClientID: "client"}, "tok", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(orders) != total {
		t.Errorf("expected %d orders, got %d", total, len(orders))
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(requests))
	}
	if requests[1].Start != 200 || requests[0].Count != 200 {
		t.Errorf("unexpected paging: %+v", requests)
	}
	if requests[0].Query.FilteredQuery.Filter.Range.From != "2026-02-28T00:00:00Z" {
		t.Errorf("unexpected range filter: %+v", requests[0].Query.FilteredQuery.Filter.Range)
	}
	if !strings.Contains(requests[0].Select, "order_no") {
		t.Errorf("select should name order_no, got %q", requests[0].Select)
	}

	first := orders[0]
	if first.RealmKey != "eu" || first.OrderNumber != "00000" || first.Status != "new" {
		t.Errorf("unexpected order: %+v", first)
	}
	if len(first.Raw) == 0 {
		t.Error("raw snapshot should be kept")
	}
}

func TestSearchOrders_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"fault":{"type":"ClientAccessForbiddenException"}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{}, zap.NewNop())

	_, err := c.SearchOrders(context.Background(), Realm{Key: "us", BaseURL: srv.URL}, "tok", time.Now())
	var reqErr *UpstreamRequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected UpstreamRequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", reqErr.StatusCode)
	}
}

func TestRealmEnabled(t *testing.T) {
	if (Realm{Key: "x"}).Enabled() {
		t.Error("realm without base url should be disabled")
	}
	if !(Realm{Key: "x", BaseURL: "https://x"}).Enabled() {
		t.Error("realm with base url should be enabled")
	}
}
