// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/app"
	"github.com/unclebandit/smsleopard-segments/internal/config"
	"github.com/unclebandit/smsleopard-segments/internal/platform/logging"
	"github.com/unclebandit/smsleopard-segments/internal/platform/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.QueueDriver != "amqp" {
		return fmt.Errorf("worker needs QUEUE_DRIVER=amqp, got %q", cfg.QueueDriver)
	}

	shutdownTracing, err := otel.Setup(ctx, "campaign-worker", cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	if err := a.StartConsumers(); err != nil {
		return err
	}
	logger.Info("worker running, waiting for messages")
	<-ctx.Done()
	return nil
}
