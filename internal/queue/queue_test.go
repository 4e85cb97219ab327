package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/protocol"
)

type fakeWriter struct {
	mu    sync.Mutex
	keys  []string
	data  [][]byte
	err   error
	calls int
}

func (w *fakeWriter) Publish(_ context.Context, key string, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.keys = append(w.keys, key)
	w.data = append(w.data, value)
	return nil
}

func testReview() *catalog.Review {
	return &catalog.Review{
		ID:         "r-1",
		Name:       "ZenSeeker",
		TextReview: "Water features are calming.",
		NoiseLevel: 5,
		BusyLevel:  5,
		Location:   "loc-9",
		Weather:    catalog.WeatherPartlyCloudy,
		Datetime:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestReviewPublisherKeysByLocation(t *testing.T) {
	w := &fakeWriter{}
	p := NewReviewPublisher(w, DefaultBreakerConfig())

	if err := p.PublishReviewEvent(context.Background(), catalog.EventReviewCreated, testReview()); err != nil {
		t.Fatalf("PublishReviewEvent error = %v", err)
	}
	if len(w.keys) != 1 || w.keys[0] != "loc-9" {
		t.Fatalf("keys = %v, want [loc-9]", w.keys)
	}

	ev, err := protocol.DecodeReviewEvent(w.data[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != protocol.EventReviewCreated || ev.Review.ID != "r-1" || ev.Review.Weather != "partly_cloudy" {
		t.Errorf("event = %+v", ev)
	}
}

func TestReviewPublisherOpensBreaker(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	p := NewReviewPublisher(w, BreakerConfig{FailureThreshold: 2, Timeout: time.Minute, PublishTimeout: time.Second})

	for i := 0; i < 5; i++ {
		if err := p.PublishReviewEvent(context.Background(), catalog.EventReviewUpdated, testReview()); err == nil {
			t.Fatal("expected publish error")
		}
	}
	if w.calls != 2 {
		t.Errorf("writer calls = %d, want 2 before the breaker opened", w.calls)
	}
	if p.State() != "open" {
		t.Errorf("breaker state = %s, want open", p.State())
	}
}

type fakeSource struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{msgs: make(chan kafka.Message, 100)}
}

func (s *fakeSource) Consume(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *fakeSource) committedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed)
}

func TestBatchConsumerFlushesFullBatch(t *testing.T) {
	src := newFakeSource()
	batches := make(chan int, 10)
	bc := NewBatchConsumer(src, func(_ context.Context, b []kafka.Message) error {
		batches <- len(b)
		return nil
	}, 3, time.Hour)

	bc.Start(context.Background())
	for i := 0; i < 3; i++ {
		src.msgs <- kafka.Message{Offset: int64(i)}
	}

	select {
	case n := <-batches:
		if n != 3 {
			t.Errorf("batch size = %d, want 3", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not flushed")
	}
	bc.Stop()

	if got := src.committedCount(); got != 3 {
		t.Errorf("committed = %d, want 3", got)
	}
}

func TestBatchConsumerFlushesOnStop(t *testing.T) {
	src := newFakeSource()
	var mu sync.Mutex
	var handled int
	bc := NewBatchConsumer(src, func(_ context.Context, b []kafka.Message) error {
		mu.Lock()
		handled += len(b)
		mu.Unlock()
		return nil
	}, 10, time.Hour)

	bc.Start(context.Background())
	src.msgs <- kafka.Message{Offset: 1}
	src.msgs <- kafka.Message{Offset: 2}

	deadline := time.Now().Add(2 * time.Second)
	for len(src.msgs) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Let the run loop take the last fetched message.
	time.Sleep(50 * time.Millisecond)
	bc.Stop()

	mu.Lock()
	defer mu.Unlock()
	if handled != 2 {
		t.Errorf("handled = %d, want 2", handled)
	}
}

func TestBatchConsumerKeepsFailedBatch(t *testing.T) {
	src := newFakeSource()
	var mu sync.Mutex
	attempts, delivered := 0, 0
	done := make(chan struct{})
	bc := NewBatchConsumer(src, func(_ context.Context, b []kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("smtp unavailable")
		}
		delivered += len(b)
		if delivered == 2 {
			close(done)
		}
		return nil
	}, 1, 20*time.Millisecond)

	bc.Start(context.Background())
	src.msgs <- kafka.Message{Offset: 1}

	// The first flush fails and message 1 is retried by a later flush.
	time.Sleep(10 * time.Millisecond)
	src.msgs <- kafka.Message{Offset: 2}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("failed batch was not retried")
	}
	bc.Stop()

	if got := src.committedCount(); got != 2 {
		t.Errorf("committed = %d, want 2", got)
	}
}

func TestBatchConsumerHoldsBackWhileFailing(t *testing.T) {
	src := newFakeSource()
	var mu sync.Mutex
	attempts, largest := 0, 0
	bc := NewBatchConsumer(src, func(_ context.Context, b []kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if len(b) > largest {
			largest = len(b)
		}
		return errors.New("smtp unavailable")
	}, 2, 10*time.Millisecond)

	for i := 0; i < 6; i++ {
		src.msgs <- kafka.Message{Offset: int64(i)}
	}
	bc.Start(context.Background())
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	gotAttempts, gotLargest := attempts, largest
	mu.Unlock()

	if gotLargest > 2 {
		t.Errorf("largest batch handed to the handler = %d, want at most 2", gotLargest)
	}
	// Two messages sit in the failed batch and one is held by the fetcher.
	if left := len(src.msgs); left < 3 {
		t.Errorf("unread messages = %d, want at least 3 while the batch is failing", left)
	}
	if gotAttempts == 0 || gotAttempts > 6 {
		t.Errorf("handler attempts = %d, want a few backed-off retries", gotAttempts)
	}

	bc.Stop()
	if got := src.committedCount(); got != 0 {
		t.Errorf("committed = %d, want 0", got)
	}
}

func TestNextBackoff(t *testing.T) {
	bc := NewBatchConsumer(newFakeSource(), nil, 1, time.Second)
	tests := []struct {
		prev, want time.Duration
	}{
		{0, time.Second},
		{time.Second, 2 * time.Second},
		{4 * time.Second, 8 * time.Second},
		{8 * time.Second, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := bc.nextBackoff(tt.prev); got != tt.want {
			t.Errorf("nextBackoff(%v) = %v, want %v", tt.prev, got, tt.want)
		}
	}
}

func TestCreateTopicWithoutBrokers(t *testing.T) {
	if err := CreateTopic(nil, "calmcorners.reviews", 1, 1); err == nil {
		t.Error("CreateTopic with no brokers succeeded")
	}
}
