package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/calmcorners/internal/api"
	"github.com/smukkama/calmcorners/internal/app"
	"github.com/smukkama/calmcorners/internal/cache"
	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/logging"
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

	logging.Info().Str("backend", cfg.Store.Backend).Msg("starting calmcorners API server")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	store, err := app.OpenStore(startupCtx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	var opts []catalog.Option

	// Cache the unfiltered location list in Redis
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(startupCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logging.Warn().Err(err).Msg("redis unavailable, location cache disabled")
		} else {
			defer client.Close()
			opts = append(opts, catalog.WithCache(cache.NewLocations(client, cfg.Redis.TTL)))
			logging.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("location cache enabled")
		}
	}

	// Publish review events to Kafka
	var publisher *queue.ReviewPublisher
	if cfg.Kafka.Enabled {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReviews, cfg.Kafka.Partitions, 1); err != nil {
			logging.Warn().Err(err).Str("topic", cfg.Kafka.TopicReviews).Msg("topic creation failed (may already exist)")
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReviews)
		defer producer.Close()

		publisher = queue.NewReviewPublisher(producer, queue.DefaultBreakerConfig())
		opts = append(opts, catalog.WithPublisher(publisher))
		logging.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.TopicReviews).Msg("review events enabled")
	}

	svc := catalog.NewService(store, opts...)

	if cfg.SeedDemoData {
		if err := catalog.SeedDemoData(startupCtx, svc); err != nil {
			logging.Fatal().Err(err).Msg("failed to seed demo data")
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewRouter(svc, api.Config{CORSOrigins: cfg.HTTP.CORSOrigins, RateLimitPerMin: cfg.HTTP.RateLimitPerMin, RateLimitEnabled: cfg.HTTP.RateLimitEnabled}),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Report the event publisher's breaker state periodically
	if publisher != nil {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				logging.Debug().Str("breaker", publisher.State()).Msg("review publisher state")
			}
		}()
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-serverErr:
		logging.Error().Err(err).Msg("HTTP server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
