/*
main.go - Application entry point

PURPOSE:
  Starts the expense ingestion service: the stream consumer and the HTTP
  API share one store, one facade, and one set of transition rules.

STARTUP SEQUENCE:
  1. Load environment config, apply flag overrides
  2. Open SQLite store
  3. Build the expense facade
  4. Start the stream consumer (if STREAM_URL is set)
  5. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Cancel the consumer context; workers finish in-flight applies
  2. Stop accepting new connections, drain active requests (30s timeout)
  3. Close the database

EXAMPLES:
  # API only, file database
  ./server -db=./data/expenses.db

  # Full ingestion
  STREAM_URL=https://example.com/expenses/stream ./server

SEE ALSO:
  - config/config.go: Environment variables
  - consumer:         Ingestion loop
  - api:              HTTP surface
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cashcog/expense-engine/api"
	"github.com/cashcog/expense-engine/config"
	"github.com/cashcog/expense-engine/consumer"
	"github.com/cashcog/expense-engine/expense"
	"github.com/cashcog/expense-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path (use :memory: for in-memory)")
	streamURL := flag.String("stream", cfg.StreamURL, "expense event stream URL (empty disables the consumer)")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	service := expense.NewService(store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan struct{})
	if *streamURL != "" {
		source := consumer.NewHTTPStreamSource(*streamURL, log)
		dead := &consumer.StoreDeadLetter{Store: store, Log: log}
		c := consumer.New(source, service, dead, log, consumer.Config{
			Workers:      cfg.ConsumerWorkers,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		})
		go func() {
			defer close(consumerDone)
			if err := c.Run(ctx); err != nil {
				log.Error("consumer stopped", zap.Error(err))
			}
		}()
		log.Info("stream consumer started",
			zap.String("url", *streamURL),
			zap.Int("workers", cfg.ConsumerWorkers))
	} else {
		close(consumerDone)
		log.Info("no stream URL configured, running API only")
	}

	handler := api.NewHandler(service, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()
	<-consumerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
