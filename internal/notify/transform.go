package notify

import (
	"encoding/json"
	"strings"
)

// Source types with a dedicated transformer
const (
	SourceAdyen   = "adyen"
	SourceGeneric = "generic"
)

// Transformer turns a raw webhook body into a notification request. A nil
// request with a nil error means the payload was deliberately suppressed.
// Errors are reserved for bodies that cannot be read at all.
type Transformer interface {
	Transform(raw json.RawMessage) (*Request, error)
}

// TransformerFor selects the transformer for a webhook source type.
// Unrecognized types fall back to the generic transformer.
func TransformerFor(sourceType string) Transformer {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case SourceAdyen:
		return AdyenTransformer{}
	default:
		return GenericTransformer{}
	}
}
