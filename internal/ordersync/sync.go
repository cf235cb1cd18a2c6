// Package ordersync pulls changed orders from every configured realm into
// the order table and hands the batch to downstream processing.
package ordersync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/alert"
	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/invoke"
	"github.com/lalithlochan/pulse/internal/metrics"
)

// DefaultLookback bounds the first sync of a realm with no stored orders.
const DefaultLookback = 24 * time.Hour

// Store is the database surface used by a sync run. *db.Repository
// satisfies it.
type Store interface {
	OrderWatermark(ctx context.Context, realmKey string, fallback time.Time) (time.Time, error)
	UpsertOrders(ctx context.Context, orders []db.Order) (int64, error)
}

// AcquireFunc checks out one connection for the whole run.
type AcquireFunc func(ctx context.Context, fn func(Store) error) error

// Upstream fetches orders from a realm.
type Upstream interface {
	Token(ctx context.Context, realm Realm) (string, error)
	SearchOrders(ctx context.Context, realm Realm, token string, since time.Time) ([]db.Order, error)
}

// Invoker enqueues the downstream processing call.
type Invoker interface {
	Invoke(ctx context.Context, target string, payload any) (string, error)
}

// RealmError records one realm's failure.
type RealmError struct {
	Realm string `json:"realm"`
	Error string `json:"error"`
}

// Summary is the outcome of one run.
type Summary struct {
	TotalSynced     int          `json:"totalSynced"`
	RealmsProcessed int          `json:"realmsProcessed"`
	Errors          []RealmError `json:"errors"`
}

// Failed reports whether any realm errored.
func (s *Summary) Failed() bool {
	return len(s.Errors) > 0
}

// ProcessRequest is the payload handed to the order processing target.
type ProcessRequest struct {
	OrderNumbers []string `json:"orderNumbers"`
}

// Syncer runs order sync across realms.
type Syncer struct {
	realms   []Realm
	acquire  AcquireFunc
	upstream Upstream
	invoker  Invoker
	alerter  alert.Alerter
	logger   *zap.Logger
	now      func() time.Time
}

// NewSyncer creates a syncer. alerter may be nil.
func NewSyncer(realms []Realm, acquire AcquireFunc, upstream Upstream, invoker Invoker, alerter alert.Alerter, logger *zap.Logger) *Syncer {
	return &Syncer{
		realms:   realms,
		acquire:  acquire,
		upstream: upstream,
		invoker:  invoker,
		alerter:  alerter,
		logger:   logger,
		now:      time.Now,
	}
}

// Run syncs every enabled realm in turn. A failing realm is recorded in
// the summary and does not stop the others. When any orders were synced
// the order processing target is invoked exactly once with all of them.
// The returned error is reserved for failures outside any one realm.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{Errors: []RealmError{}}
	var orderNumbers []string

	err := s.acquire(ctx, func(store Store) error {
		for _, realm := range s.realms {
			if !realm.Enabled() {
				s.logger.Debug("realm skipped, no base url", zap.String("realm", realm.Key))
				continue
			}
			summary.RealmsProcessed++

			numbers, err := s.syncRealm(ctx, store, realm)
			if err != nil {
				s.logger.Error("realm sync failed",
					zap.Error(err),
					zap.String("realm", realm.Key),
				)
				metrics.RecordOrderSyncError(realm.Key)
				summary.Errors = append(summary.Errors, RealmError{Realm: realm.Key, Error: err.Error()})
				continue
			}

			summary.TotalSynced += len(numbers)
			orderNumbers = append(orderNumbers, numbers...)
			metrics.RecordOrdersSynced(realm.Key, len(numbers))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("order sync: %w", err)
	}

	if len(orderNumbers) > 0 {
		id, err := s.invoker.Invoke(ctx, invoke.TargetOrderProcess, ProcessRequest{OrderNumbers: orderNumbers})
		if err != nil {
			return summary, fmt.Errorf("invoke order processing: %w", err)
		}
		s.logger.Info("order processing invoked",
			zap.String("message_id", id),
			zap.Int("orders", len(orderNumbers)),
		)
	}

	if summary.Failed() {
		s.raise(ctx, summary)
	}

	s.logger.Info("order sync finished",
		zap.Int("total_synced", summary.TotalSynced),
		zap.Int("realms_processed", summary.RealmsProcessed),
		zap.Int("errors", len(summary.Errors)),
	)

	return summary, nil
}

// syncRealm returns the distinct order numbers written for realm.
func (s *Syncer) syncRealm(ctx context.Context, store Store, realm Realm) ([]string, error) {
	token, err := s.upstream.Token(ctx, realm)
	if err != nil {
		return nil, err
	}

	since, err := store.OrderWatermark(ctx, realm.Key, s.now().Add(-DefaultLookback))
	if err != nil {
		return nil, err
	}

	orders, err := s.upstream.SearchOrders(ctx, realm, token, since)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		s.logger.Info("realm up to date", zap.String("realm", realm.Key), zap.Time("since", since))
		return nil, nil
	}

	for i := range orders {
		orders[i].RealmKey = realm.Key
	}

	written, err := store.UpsertOrders(ctx, orders)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(orders))
	numbers := make([]string, 0, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.OrderNumber]; ok {
			continue
		}
		seen[o.OrderNumber] = struct{}{}
		numbers = append(numbers, o.OrderNumber)
	}

	s.logger.Info("realm synced",
		zap.String("realm", realm.Key),
		zap.Time("since", since),
		zap.Int("orders", len(numbers)),
		zap.Int64("rows_written", written),
	)

	return numbers, nil
}

func (s *Syncer) raise(ctx context.Context, summary *Summary) {
	if s.alerter == nil {
		return
	}

	lines := make([]string, 0, len(summary.Errors))
	for _, e := range summary.Errors {
		lines = append(lines, e.Realm+": "+e.Error)
	}

	err := s.alerter.Alert(ctx, alert.Alert{
		Subject:  fmt.Sprintf("Order sync failed for %d realm(s)", len(summary.Errors)),
		Body:     strings.Join(lines, "\n"),
		Severity: db.SeverityHigh,
		Source:   "ordersync",
	})
	if err != nil {
		s.logger.Error("failed to raise order sync alert", zap.Error(err))
	}
}
