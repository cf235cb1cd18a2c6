package notify

import (
	"encoding/json"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		req        Request
		wantFields []string
	}{
		{
			name: "valid",
			req:  Request{Title: "Disk full", Message: "db-1 at 95%"},
		},
		{
			name:       "both missing",
			req:        Request{},
			wantFields: []string{"title", "message"},
		},
		{
			name:       "whitespace only counts as missing",
			req:        Request{Title: "   ", Message: "\t\n"},
			wantFields: []string{"title", "message"},
		},
		{
			name:       "message missing",
			req:        Request{Title: "Disk full"},
			wantFields: []string{"message"},
		},
		{
			name:       "bad topic id reported with missing fields",
			req:        Request{Title: "x", TopicID: "not-a-uuid"},
			wantFields: []string{"message", "topic_id"},
		},
		{
			name: "valid topic id",
			req:  Request{Title: "x", Message: "y", TopicID: "6f1c1f9e-1f0a-4c7e-9f3a-2b8d1c0e5a11"},
		},
		{
			name:       "invalid metadata",
			req:        Request{Title: "x", Message: "y", Metadata: json.RawMessage(`{bad`)},
			wantFields: []string{"metadata"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := Validate(&tt.req)

			if len(tt.wantFields) == 0 {
				if verr != nil {
					t.Fatalf("expected no error, got %v", verr)
				}
				return
			}

			if verr == nil {
				t.Fatalf("expected violations %v, got none", tt.wantFields)
			}
			if len(verr.Fields) != len(tt.wantFields) {
				t.Fatalf("expected %d violations, got %d: %v", len(tt.wantFields), len(verr.Fields), verr)
			}
			for i, field := range tt.wantFields {
				if verr.Fields[i].Field != field {
					t.Errorf("violation %d: got field %q, want %q", i, verr.Fields[i].Field, field)
				}
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	verr := Validate(&Request{})
	want := "validation failed: title: is required; message: is required"
	if verr.Error() != want {
		t.Errorf("Error() = %q, want %q", verr.Error(), want)
	}
}
