package ordersync

import "fmt"

// UpstreamAuthError is returned when a realm's token exchange fails.
type UpstreamAuthError struct {
	Realm      string
	StatusCode int
	Err        error
}

func (e *UpstreamAuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("realm %s: token exchange returned status %d: %v", e.Realm, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("realm %s: token exchange failed: %v", e.Realm, e.Err)
}

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

// UpstreamRequestError is returned when an order query against a realm
// fails.
type UpstreamRequestError struct {
	Realm      string
	StatusCode int
	Err        error
}

func (e *UpstreamRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("realm %s: order search returned status %d: %v", e.Realm, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("realm %s: order search failed: %v", e.Realm, e.Err)
}

func (e *UpstreamRequestError) Unwrap() error { return e.Err }
