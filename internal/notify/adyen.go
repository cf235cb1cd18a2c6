package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event codes that always notify.
var adyenAlwaysNotify = map[string]bool{
	"CHARGEBACK":                 true,
	"NOTIFICATION_OF_CHARGEBACK": true,
	"REFUND_FAILED":              true,
	"CAPTURE_FAILED":             true,
	"PAYOUT_DECLINE":             true,
}

// Event codes that notify only when success is not the string "true".
var adyenSettlement = map[string]bool{
	"AUTHORISATION": true,
	"CAPTURE":       true,
	"REFUND":        true,
	"CANCELLATION":  true,
}

type adyenAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type adyenItem struct {
	EventCode           string          `json:"eventCode"`
	Success             json.RawMessage `json:"success"`
	MerchantAccountCode string          `json:"merchantAccountCode"`
	MerchantReference   string          `json:"merchantReference"`
	PSPReference        string          `json:"pspReference"`
	Reason              string          `json:"reason"`
	Amount              *adyenAmount    `json:"amount"`
}

type adyenNotification struct {
	NotificationItems []struct {
		NotificationRequestItem *adyenItem `json:"NotificationRequestItem"`
	} `json:"notificationItems"`
}

// AdyenTransformer handles Adyen standard notification batches. Only the
// first item of a batch is inspected.
type AdyenTransformer struct{}

func (AdyenTransformer) Transform(raw json.RawMessage) (*Request, error) {
	var payload adyenNotification
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &MalformedPayloadError{Source: SourceAdyen, Err: err}
	}
	if len(payload.NotificationItems) == 0 {
		return nil, &MalformedPayloadError{Source: SourceAdyen, Err: errors.New("notificationItems is empty")}
	}
	item := payload.NotificationItems[0].NotificationRequestItem
	if item == nil || item.EventCode == "" {
		return nil, &MalformedPayloadError{Source: SourceAdyen, Err: errors.New("first item has no eventCode")}
	}

	success := successFlag(item.Success)
	code := strings.ToUpper(item.EventCode)

	shouldNotify := adyenAlwaysNotify[code] || (adyenSettlement[code] && success != "true")
	if !shouldNotify {
		return nil, nil
	}

	amount := formatAmount(item.Amount)
	ref := item.MerchantReference
	if ref == "" {
		ref = item.PSPReference
	}

	var title, message string
	switch {
	case code == "AUTHORISATION":
		title = "Payment authorization failed"
		message = fmt.Sprintf("Authorization of %s failed for order %s", orDash(amount), orDash(ref))
	case strings.Contains(code, "CHARGEBACK"):
		title = "Chargeback received"
		message = fmt.Sprintf("Chargeback of %s raised against order %s", orDash(amount), orDash(ref))
	default:
		title = "Adyen payment event: " + code
		message = fmt.Sprintf("%s reported for order %s", code, orDash(ref))
		if amount != "" {
			message += " (" + amount + ")"
		}
	}
	if item.Reason != "" {
		message += ". Reason: " + item.Reason
	}

	metadata, err := json.Marshal(map[string]string{
		"merchantReference": item.MerchantReference,
		"pspReference":      item.PSPReference,
		"eventCode":         item.EventCode,
		"amount":            amount,
		"reason":            item.Reason,
		"success":           success,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal adyen metadata: %w", err)
	}

	return &Request{
		Title:    title,
		Message:  message,
		Severity: "high",
		Type:     "payment",
		Site:     item.MerchantAccountCode,
		Metadata: metadata,
	}, nil
}

// successFlag returns the flag when Adyen sent it as a JSON string. Any
// other encoding, including the boolean true, yields "".
func successFlag(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// formatAmount renders minor units as "12.34 EUR".
func formatAmount(a *adyenAmount) string {
	if a == nil {
		return ""
	}
	value := fmt.Sprintf("%.2f", float64(a.Value)/100)
	if a.Currency == "" {
		return value
	}
	return value + " " + a.Currency
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
