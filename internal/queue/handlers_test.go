package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"photoshopai/backend/internal/store"
)

func TestRefundKeyMatchesRequestRefund(t *testing.T) {
	j := store.GenerationJob{
		ID:    uuid.New(),
		Input: json.RawMessage(`{"prompt":"x","idempotency_key":"req-9"}`),
	}
	// Must equal the failure-path key derived from the same debit, so the
	// second refund of the pair is an idempotent no-op.
	if got := refundKey(j); got != "req-9:refund" {
		t.Errorf("refundKey = %q, want req-9:refund", got)
	}
}

func TestRefundKeyFallsBackToJobID(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
	}{
		{"no input", nil},
		{"empty key", json.RawMessage(`{"idempotency_key":""}`)},
		{"malformed input", json.RawMessage(`{`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := store.GenerationJob{ID: uuid.New(), Input: tt.input}
			want := j.ID.String() + ":reaper-refund"
			if got := refundKey(j); got != want {
				t.Errorf("refundKey = %q, want %q", got, want)
			}
		})
	}
}
