// Package ingest feeds price submissions from Kafka into the hub, so bulk
// producers can report prices without holding a websocket session.
// Submissions go through the same validate-persist-broadcast path as
// websocket submits.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/protocol"
	"github.com/dzmarkets/pricewire/pkg/models"
)

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Submitter is the hub-side entry point for ingested prices.
type Submitter interface {
	SubmitPrice(ctx context.Context, p protocol.NewPricePayload) (models.PriceEntry, error)
}

type Bridge struct {
	logger     *zap.Logger
	reader     KafkaReader
	hub        Submitter
	numWorkers int
}

func NewBridge(logger *zap.Logger, reader KafkaReader, hub Submitter, numWorkers int) *Bridge {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Bridge{logger: logger, reader: reader, hub: hub, numWorkers: numWorkers}
}

// Run consumes until ctx is cancelled, then drains the workers.
func (b *Bridge) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, b.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < b.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go b.worker(i, workerChans[i], &wg)
	}

	go func() {
		b.logger.Info("Ingest bridge started", zap.Int("workers", b.numWorkers))
		for {
			m, err := b.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				b.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic sharding: submissions for one product stay in
			// order on one worker.
			workerID := getWorkerID(m.Key, b.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				b.logger.Warn("Dropping slow submission",
					zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	b.logger.Info("Shutdown signal received, stopping ingest bridge...")

	for _, ch := range workerChans {
		close(ch)
	}
	wg.Wait()

	return nil
}

func (b *Bridge) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	for payload := range msgs {
		var submission protocol.NewPricePayload
		if err := json.Unmarshal(payload, &submission); err != nil {
			b.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}

		entry, err := b.hub.SubmitPrice(ctx, submission)
		if err != nil {
			b.logger.Warn("Submission rejected",
				zap.String("product", submission.ProductID),
				zap.String("market", submission.MarketID),
				zap.Error(err))
			continue
		}

		b.logger.Debug("Submission ingested",
			zap.String("entry", entry.ID), zap.Int("worker_id", id))
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
