package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletlink"
	"github.com/layer-3/walletlink/adapters/events"
	"github.com/layer-3/walletlink/adapters/metrics"
	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/config"
	transport "github.com/layer-3/walletlink/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := watermill.NewStdLogger(cfg.LogDebug, cfg.LogTrace)

	stores, err := walletlink.NewRedisStores(ctx, cfg.RedisURL, store.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	redisClient := stores.RedisClient()

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to create Redis publisher: %v", err)
	}

	// No consumer group: every peer reads every message of the streams it follows.
	// Reading from the start of a stream delivers what a peer published before we subscribed.
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:         redisClient,
			FanOutOldestId: "0",
		},
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to create Redis subscriber: %v", err)
	}

	registry := prometheus.NewRegistry()
	eventCounter, err := metrics.NewEventCounter(registry, events.NewWatermillPublisher(publisher))
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	client, err := walletlink.NewClient(ctx, publisher, subscriber, stores,
		walletlink.WithLogger(logger),
		walletlink.WithEventPublisher(eventCounter),
		walletlink.WithMetadata(cfg.Metadata),
		walletlink.WithKeyServer(cfg.KeyServerURL),
		walletlink.WithErrorHandler(func(err error) {
			logger.Error("Inbound message failed", err, nil)
		}),
	)
	if err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}

	if cfg.ControlToken == "" {
		logger.Info("WALLETLINK_CONTROL_TOKEN is empty, the control API is unauthenticated", nil)
	}
	router := transport.SetupRouter(client, cfg.ControlToken)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Control API listening", watermill.LogFields{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("Server failed: %v", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shut down server: %v", err)
	}
	if err := subscriber.Close(); err != nil {
		log.Printf("Failed to close subscriber: %v", err)
	}
	if err := client.Close(); err != nil {
		log.Printf("Failed to close client: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Printf("Failed to close publisher: %v", err)
	}
}
