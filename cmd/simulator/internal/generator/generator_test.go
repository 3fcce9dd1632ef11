package generator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/cmd/simulator/internal/generator"
	"github.com/dzmarkets/pricewire/cmd/simulator/internal/testutils"
)

func TestGenerator_Logic(t *testing.T) {
	logger := zap.NewNop()
	mockWriter := &testutils.MockSubmissionWriter{}

	// Fix Randomness: Always pick Index 0, 0.5 gives zero fluctuation
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.5}
	mockClock := &testutils.MockClock{}

	products := []string{"tomato"}
	basePrices := map[string]float64{"tomato": 100.0}

	gen := generator.NewSubmissionGenerator(logger, mockWriter,
		products, []string{"m1"}, []string{"v1"}, "simulator", basePrices, mockRand, mockClock)

	// MockClock.Sleep returns instantly, so a short deadline covers many ticks
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	gen.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	if len(mockWriter.Messages) == 0 {
		t.Fatal("Expected messages to be generated")
	}

	if string(mockWriter.Messages[0].Key) != "tomato" {
		t.Errorf("Expected message keyed by product, got %s", mockWriter.Messages[0].Key)
	}

	var sub generator.Submission
	if err := json.Unmarshal(mockWriter.Messages[0].Value, &sub); err != nil {
		t.Fatalf("Generated invalid JSON: %v", err)
	}

	if sub.ProductID != "tomato" || sub.MarketID != "m1" || sub.VendorID != "v1" {
		t.Errorf("Unexpected submission ids: %+v", sub)
	}
	if sub.UserID != "simulator" {
		t.Errorf("Expected simulator user, got %s", sub.UserID)
	}

	// (0.5 * 10) - 5 = 0 fluctuation, so price equals the base price
	if !sub.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected price 100, got %s", sub.Price)
	}
	if sub.Currency != "DZD" {
		t.Errorf("Expected DZD currency, got %s", sub.Currency)
	}
}

func TestTopicEnsurer_WaitsForPartitions(t *testing.T) {
	conn := &testutils.MockBrokerConn{ReadyAfter: 2}
	clock := &testutils.MockClock{}
	ensurer := generator.NewTopicEnsurer(zap.NewNop(), conn.Dial(), clock)

	if err := ensurer.Ensure(context.Background(), []string{"broker:9092"}, "price_submissions"); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	if len(conn.CreatedTopics) != 1 || conn.CreatedTopics[0] != "price_submissions" {
		t.Errorf("Expected price_submissions created, got %v", conn.CreatedTopics)
	}
	if clock.Elapsed == 0 {
		t.Error("Readiness polling should pace itself through the clock")
	}
}

func TestTopicEnsurer_GivesUpWhenNeverReady(t *testing.T) {
	conn := &testutils.MockBrokerConn{ReadyAfter: 100}
	ensurer := generator.NewTopicEnsurer(zap.NewNop(), conn.Dial(), &testutils.MockClock{})

	if err := ensurer.Ensure(context.Background(), []string{"broker:9092"}, "price_submissions"); err == nil {
		t.Error("Expected an error when partitions never appear")
	}
}
