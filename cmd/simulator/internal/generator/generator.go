package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/pkg/models"
)

// Submission mirrors the gateway's new-price-entry payload.
type Submission struct {
	ProductID string          `json:"productId"`
	MarketID  string          `json:"marketId"`
	VendorID  string          `json:"vendorId"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Notes     string          `json:"notes,omitempty"`
	UserID    string          `json:"userId"`
}

// SubmissionGenerator publishes synthetic price submissions to the
// submissions topic, keyed by product so per-product ordering survives
// partitioning.
type SubmissionGenerator struct {
	logger     *zap.Logger
	writer     SubmissionWriter
	products   []string
	markets    []string
	vendors    []string
	userID     string
	basePrices map[string]float64
	rand       Rand
	clock      Clock
}

func NewSubmissionGenerator(
	logger *zap.Logger,
	writer SubmissionWriter,
	products, markets, vendors []string,
	userID string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
) *SubmissionGenerator {
	return &SubmissionGenerator{
		logger:     logger,
		writer:     writer,
		products:   products,
		markets:    markets,
		vendors:    vendors,
		userID:     userID,
		basePrices: basePrices,
		rand:       rnd,
		clock:      clock,
	}
}

func (sg *SubmissionGenerator) Run(ctx context.Context) {
	sg.logger.Info("Simulator Started", zap.Strings("products", sg.products))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(sg.products) == 0 || len(sg.markets) == 0 || len(sg.vendors) == 0 {
				sg.clock.Sleep(1 * time.Second)
				continue
			}

			product := sg.products[sg.rand.Intn(len(sg.products))]
			fluctuation := (sg.rand.Float64() * 10) - 5
			price := sg.basePrices[product] + fluctuation

			submission := Submission{
				ProductID: product,
				MarketID:  sg.markets[sg.rand.Intn(len(sg.markets))],
				VendorID:  sg.vendors[sg.rand.Intn(len(sg.vendors))],
				Price:     decimal.NewFromFloat(price).Round(2),
				Currency:  models.DefaultCurrency,
				UserID:    sg.userID,
			}

			payload, _ := json.Marshal(submission) // Error ignored for simplicity in loop

			err := sg.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(product),
				Value: payload,
			})

			if err != nil {
				sg.logger.Error("Kafka Write Error", zap.Error(err))
			}

			sg.clock.Sleep(100 * time.Millisecond)
		}
	}
}
