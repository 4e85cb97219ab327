package queue

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/calmcorners/internal/logging"
)

// maxBackoffFactor bounds the retry delay of a failed batch in multiples of
// the flush interval.
const maxBackoffFactor = 8

// MessageSource is the part of Consumer the batch consumer needs.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// BatchHandler processes one batch. Offsets are committed only when it
// returns nil.
type BatchHandler func(ctx context.Context, batch []kafka.Message) error

// BatchConsumer collects messages and hands them to a handler when the
// batch is full or the flush interval elapses.
type BatchConsumer struct {
	source        MessageSource
	handle        BatchHandler
	batchSize     int
	flushInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewBatchConsumer creates a new batch consumer
func NewBatchConsumer(source MessageSource, handle BatchHandler, batchSize int, flushInterval time.Duration) *BatchConsumer {
	return &BatchConsumer{
		source:        source,
		handle:        handle,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Start begins consuming in the background
func (bc *BatchConsumer) Start(ctx context.Context) {
	ctx, bc.cancel = context.WithCancel(ctx)
	bc.wg.Add(1)
	go bc.run(ctx)
}

// Stop stops consuming and flushes whatever is pending
func (bc *BatchConsumer) Stop() {
	if bc.cancel != nil {
		bc.cancel()
	}
	bc.wg.Wait()
}

func (bc *BatchConsumer) run(ctx context.Context) {
	defer bc.wg.Done()

	msgCh := make(chan kafka.Message)
	go bc.fetch(ctx, msgCh)

	ticker := time.NewTicker(bc.flushInterval)
	defer ticker.Stop()

	var (
		batch   []kafka.Message
		retry   <-chan time.Time
		backoff time.Duration
	)
	// settle records the outcome of a flush. A kept batch is retried
	// after an exponential backoff instead of on the next message.
	settle := func(kept []kafka.Message) {
		batch = kept
		if len(batch) == 0 {
			retry, backoff = nil, 0
			return
		}
		backoff = bc.nextBackoff(backoff)
		retry = time.After(backoff)
		logging.Warn().Int("messages", len(batch)).Dur("retry_in", backoff).Msg("batch kept for retry")
	}

	for {
		// Nothing new is read while a failed batch is pending, so a batch
		// never grows past batchSize.
		in := msgCh
		if retry != nil {
			in = nil
		}

		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				bc.flush(flushCtx, batch)
				cancel()
			}
			return

		case <-retry:
			settle(bc.flush(ctx, batch))

		case <-ticker.C:
			if retry == nil && len(batch) > 0 {
				logging.Debug().Int("messages", len(batch)).Msg("flush interval reached")
				settle(bc.flush(ctx, batch))
			}

		case msg := <-in:
			batch = append(batch, msg)
			if len(batch) >= bc.batchSize {
				logging.Debug().Int("messages", len(batch)).Msg("batch full")
				settle(bc.flush(ctx, batch))
			}
		}
	}
}

// nextBackoff doubles the retry delay, starting at the flush interval and
// capped at maxBackoffFactor flush intervals.
func (bc *BatchConsumer) nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return bc.flushInterval
	}
	next := prev * 2
	if limit := bc.flushInterval * maxBackoffFactor; next > limit {
		next = limit
	}
	return next
}

func (bc *BatchConsumer) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := bc.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error().Err(err).Msg("consumer error")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// flush hands batch to the handler and commits it. It returns the batch to
// keep: nil on success, the same batch when the handler failed.
func (bc *BatchConsumer) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if err := bc.handle(ctx, batch); err != nil {
		logging.Error().Err(err).Int("messages", len(batch)).Msg("batch handler failed")
		return batch
	}
	if err := bc.source.Commit(ctx, batch...); err != nil {
		logging.Error().Err(err).Msg("failed to commit offsets")
	}
	logging.Info().Int("messages", len(batch)).Msg("batch flushed")
	return nil
}
