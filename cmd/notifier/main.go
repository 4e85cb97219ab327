package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/calmcorners/internal/logging"
	"github.com/smukkama/calmcorners/internal/notification"
	"github.com/smukkama/calmcorners/internal/protocol"
	"github.com/smukkama/calmcorners/internal/queue"
	"github.com/smukkama/calmcorners/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	logging.Info().Msg("starting review digest notifier")

	// Create email notifier
	notifier := notification.NewEmailNotifier(&cfg.SMTP)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		logging.Warn().Err(err).Msg("digests will be logged only")
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReviews, cfg.Digest.ConsumerGroup)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	digests := queue.NewBatchConsumer(consumer, digestBatch(notifier), cfg.Digest.BatchSize, cfg.Digest.FlushInterval)
	digests.Start(ctx)

	logging.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.TopicReviews).
		Int("batch_size", cfg.Digest.BatchSize).
		Dur("flush_interval", cfg.Digest.FlushInterval).
		Msg("notifier is running")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info().Msg("shutting down gracefully")
	digests.Stop()
	stats := consumer.Stats()
	logging.Info().Int64("messages", stats.Messages).Int64("errors", stats.Errors).Msg("consumer stats")
}

// digestBatch mails one digest per batch. Messages that do not decode are
// logged and skipped so they cannot block the partition.
func digestBatch(notifier *notification.EmailNotifier) queue.BatchHandler {
	return func(ctx context.Context, batch []kafka.Message) error {
		events := make([]protocol.ReviewEvent, 0, len(batch))
		for _, msg := range batch {
			ev, err := protocol.DecodeReviewEvent(msg.Value)
			if err != nil {
				logging.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("skipping undecodable review event")
				continue
			}
			events = append(events, *ev)
		}
		return notifier.SendDigest(events)
	}
}
