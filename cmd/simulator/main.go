package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/cmd/simulator/internal/generator"
	"github.com/dzmarkets/pricewire/pkg/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Ensure the submissions topic exists with the partition count the
	// gateway expects; a failure only costs that guarantee.
	ensurer := generator.NewTopicEnsurer(logger, generator.DialBroker, generator.SystemClock{})
	if err := ensurer.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
		logger.Warn("Submissions topic not confirmed ready", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	basePrices := make(map[string]float64)
	for i, p := range cfg.Simulator.Products {
		basePrices[p] = 80.0 + float64(i)*40.0
	}

	gen := generator.NewSubmissionGenerator(
		logger,
		writer,
		cfg.Simulator.Products,
		cfg.Simulator.Markets,
		cfg.Simulator.Vendors,
		cfg.Simulator.UserID,
		basePrices,
		generator.NewSeededRand(),
		generator.SystemClock{},
	)

	go gen.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	// Flush Kafka Buffer (CRITICAL)
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
