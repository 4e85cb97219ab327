package queue

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/logging"
	"github.com/smukkama/calmcorners/internal/metrics"
	"github.com/smukkama/calmcorners/internal/protocol"
)

// MessageWriter is the part of Producer the publisher needs.
type MessageWriter interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// BreakerConfig tunes the circuit breaker around the producer.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// PublishTimeout bounds one write to the broker.
	PublishTimeout time.Duration
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		PublishTimeout:   5 * time.Second,
	}
}

// ReviewPublisher implements catalog.EventPublisher on top of Kafka. Once
// the broker keeps failing the breaker opens and events are dropped
// immediately instead of holding up requests.
type ReviewPublisher struct {
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
	now     func() time.Time
}

// NewReviewPublisher wraps writer with a circuit breaker.
func NewReviewPublisher(writer MessageWriter, cfg BreakerConfig) *ReviewPublisher {
	settings := gobreaker.Settings{
		Name:        "review-events",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return &ReviewPublisher{
		writer:  writer,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		timeout: cfg.PublishTimeout,
		now:     time.Now,
	}
}

// PublishReviewEvent encodes r and writes it keyed by its location.
func (p *ReviewPublisher) PublishReviewEvent(ctx context.Context, kind catalog.EventKind, r *catalog.Review) error {
	data, err := protocol.EncodeReviewEvent(&protocol.ReviewEvent{
		Type:       string(kind),
		Review:     toPayload(r),
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode review event: %w", err)
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return struct{}{}, p.writer.Publish(wctx, r.Location, data)
	})
	if err != nil {
		metrics.EventPublishFailures.Inc()
		return fmt.Errorf("publish %s for review %s: %w", kind, r.ID, err)
	}
	return nil
}

// State reports the breaker state for health output.
func (p *ReviewPublisher) State() string {
	return p.breaker.State().String()
}

func toPayload(r *catalog.Review) protocol.ReviewPayload {
	return protocol.ReviewPayload{
		ID:         r.ID,
		Name:       r.Name,
		TextReview: r.TextReview,
		NoiseLevel: r.NoiseLevel,
		BusyLevel:  r.BusyLevel,
		Location:   r.Location,
		Weather:    string(r.Weather),
		Datetime:   r.Datetime,
	}
}
