// Package protocol defines the JSON messages exchanged over Kafka.
package protocol

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Review event types
const (
	EventReviewCreated = "review.created"
	EventReviewUpdated = "review.updated"
	EventReviewDeleted = "review.deleted"
)

// ReviewEvent is published after a review mutation commits. Messages are
// keyed by location id so one location's events stay ordered.
type ReviewEvent struct {
	Type       string        `json:"type"`
	Review     ReviewPayload `json:"review"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// ReviewPayload is the review as it stood after the mutation (or just
// before it, for deletions).
type ReviewPayload struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	TextReview string    `json:"textReview"`
	NoiseLevel int       `json:"noiseLevel"`
	BusyLevel  int       `json:"busyLevel"`
	Location   string    `json:"location"`
	Weather    string    `json:"weather"`
	Datetime   time.Time `json:"datetime"`
}

// EncodeReviewEvent encodes a ReviewEvent to JSON
func EncodeReviewEvent(ev *ReviewEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeReviewEvent decodes JSON to ReviewEvent and rejects unknown types
func DecodeReviewEvent(data []byte) (*ReviewEvent, error) {
	var ev ReviewEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case EventReviewCreated, EventReviewUpdated, EventReviewDeleted:
	default:
		return nil, fmt.Errorf("unknown review event type %q", ev.Type)
	}
	if ev.Review.ID == "" {
		return nil, fmt.Errorf("review event %s without review id", ev.Type)
	}
	return &ev, nil
}
