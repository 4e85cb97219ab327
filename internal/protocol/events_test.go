package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestReviewEventRoundTrip(t *testing.T) {
	ev := &ReviewEvent{
		Type: EventReviewUpdated,
		Review: ReviewPayload{
			ID:         "r-1",
			Name:       "StudiousGrad",
			TextReview: "Third floor is silent.",
			NoiseLevel: 5,
			BusyLevel:  3,
			Location:   "loc-1",
			Weather:    "sunny",
			Datetime:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
		OccurredAt: time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
	}

	data, err := EncodeReviewEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"type":"review.updated"`, `"noiseLevel":5`, `"occurredAt"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("encoded event %s missing %s", data, field)
		}
	}

	got, err := DecodeReviewEvent(data)
	if err != nil {
		t.Fatalf("DecodeReviewEvent error = %v", err)
	}
	if got.Review != ev.Review || !got.OccurredAt.Equal(ev.OccurredAt) {
		t.Errorf("decoded = %+v, want %+v", got, ev)
	}
}

func TestDecodeReviewEventRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"type":`},
		{"unknown type", `{"type":"review.archived","review":{"id":"r"}}`},
		{"missing review id", `{"type":"review.created","review":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeReviewEvent([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
