package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"clinicops/internal/notifications"
	kafka_config "clinicops/pkg/kafka/config"
	"clinicops/pkg/logger"
)

const ServiceName = "notifier"

func main() {
	log := logger.New(logger.Config{
		Level:   logger.INFO,
		Format:  logger.JSON,
		Service: ServiceName,
	})

	kafkaCfg := kafka_config.Load()
	log.Info("Starting notifier service", "brokers", kafkaCfg.Brokers)

	handler := notifications.NewHandler(&notifications.LogSender{Log: log}, log)
	consumer, err := notifications.NewConsumer(kafkaCfg, handler, log)
	if err != nil {
		log.Fatal("Failed to create notification consumer", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		sig := <-shutdown
		log.Info("Shutdown signal received", "signal", sig)
		cancel()
	}()

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Consumer stopped with error", "error", err)
	}

	if err := consumer.Close(); err != nil {
		log.Error("Failed to close consumer", "error", err)
	}
	log.Info("Notifier stopped")
}
