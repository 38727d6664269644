// Package main provides the Navio gateway: the websocket event delivery
// endpoint backed by the topic broker.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/navio-ai/navio/pkg/eventbus"
	"github.com/navio-ai/navio/pkg/gateway"
	"github.com/navio-ai/navio/pkg/persistence"
	"github.com/navio-ai/navio/pkg/stream"
	"github.com/navio-ai/navio/pkg/stream/ws"
)

type Gateway struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus

	broker *stream.Broker
	server *http.Server
}

func NewGateway(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *Gateway {
	broker := stream.NewBroker(logger).
		WithValidator(gateway.NewTopicValidator(persistence)).
		WithSnapshotProvider(gateway.NewSnapshotProvider(persistence))

	return &Gateway{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		broker:      broker,
	}
}

// Start consumes the event bus into the broker and serves the websocket
// endpoint until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context, port int) error {
	relay := gateway.NewRelay(g.broker, g.eventBus, g.logger)
	if err := relay.Start(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(g.broker, g.logger))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := g.persistence.HealthCheck(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	g.server = &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)

	go func() {
		errs <- g.server.ListenAndServe()
	}()

	g.logger.Info("Gateway listening", "port", port)

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return g.server.Shutdown(shutdownCtx)
	}
}
