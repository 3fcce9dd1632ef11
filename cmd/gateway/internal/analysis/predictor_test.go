package analysis_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/analysis"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/testutils"
	"github.com/dzmarkets/pricewire/pkg/models"
)

type fakeCompleter struct {
	Reply      string
	Err        error
	LastPrompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.LastPrompt = user
	return f.Reply, f.Err
}

func seedHistory(store *testutils.MemStore, prices ...int64) {
	store.Seed("tomato", "m1", "v1", "u1")
	base := time.Now().AddDate(0, 0, -len(prices))
	for i, price := range prices {
		store.Entries = append(store.Entries, models.PriceEntry{
			ID:        "e",
			ProductID: "tomato",
			MarketID:  "m1",
			VendorID:  "v1",
			Price:     decimal.NewFromInt(price),
			Date:      base.AddDate(0, 0, i),
		})
	}
}

func TestPredict_StructuredReply(t *testing.T) {
	store := testutils.NewMemStore()
	seedHistory(store, 100, 100, 100, 100, 120, 120, 120, 120)

	completer := &fakeCompleter{Reply: `Here is my analysis:
{"predictedPrice": 125, "priceRange": {"min": 115, "max": 135}, "confidence": 85,
 "factors": ["seasonal demand"], "analysis": "prices rising"}`}

	p := analysis.NewPredictor(store, completer, zap.NewNop())
	pred, err := p.Predict(context.Background(), "tomato", "m1", 30)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !pred.PredictedPrice.Equal(decimal.NewFromInt(125)) {
		t.Errorf("Expected predicted price 125, got %s", pred.PredictedPrice)
	}
	if pred.Confidence != 85 {
		t.Errorf("Expected confidence 85, got %d", pred.Confidence)
	}
	// First half averages 100, second half 120: a 20% rise
	if pred.Trend != models.TrendUp {
		t.Errorf("Expected up trend, got %s", pred.Trend)
	}
	if pred.Samples != 8 {
		t.Errorf("Expected 8 samples, got %d", pred.Samples)
	}
	if !strings.Contains(completer.LastPrompt, "tomato") {
		t.Error("Prompt should carry the product data")
	}
}

func TestPredict_FallbackOnUnparseableReply(t *testing.T) {
	store := testutils.NewMemStore()
	seedHistory(store, 100, 110, 90, 100, 110, 90, 100)

	completer := &fakeCompleter{Reply: "Prices will probably stay around one hundred dinars."}

	p := analysis.NewPredictor(store, completer, zap.NewNop())
	pred, err := p.Predict(context.Background(), "tomato", "m1", 30)
	if err != nil {
		t.Fatalf("Fallback path must not error: %v", err)
	}

	if pred.PredictedPrice.IsZero() {
		t.Error("Fallback should use the computed average")
	}
	if pred.Confidence != 70 {
		t.Errorf("Fallback confidence should be 70, got %d", pred.Confidence)
	}
	if !pred.PriceRange.Min.Equal(decimal.NewFromInt(90)) || !pred.PriceRange.Max.Equal(decimal.NewFromInt(110)) {
		t.Errorf("Fallback range should be observed min/max, got %+v", pred.PriceRange)
	}
	if pred.Analysis != completer.Reply {
		t.Error("Raw reply should be kept as the analysis text")
	}
}

func TestPredict_InsufficientHistory(t *testing.T) {
	store := testutils.NewMemStore()
	seedHistory(store, 100, 110, 105) // below the 7-point minimum

	p := analysis.NewPredictor(store, &fakeCompleter{}, zap.NewNop())
	_, err := p.Predict(context.Background(), "tomato", "m1", 30)

	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestPredict_UnknownProduct(t *testing.T) {
	store := testutils.NewMemStore()
	store.Seed("tomato", "m1", "v1", "u1")

	p := analysis.NewPredictor(store, &fakeCompleter{}, zap.NewNop())
	_, err := p.Predict(context.Background(), "ghost", "m1", 30)

	var nferr *models.EntityNotFoundError
	if !errors.As(err, &nferr) || nferr.Kind != models.KindProduct {
		t.Fatalf("Expected product-not-found, got %v", err)
	}
}

func TestPredict_CompleterFailure(t *testing.T) {
	store := testutils.NewMemStore()
	seedHistory(store, 100, 100, 100, 100, 100, 100, 100)

	p := analysis.NewPredictor(store, &fakeCompleter{Err: errors.New("upstream timeout")}, zap.NewNop())
	_, err := p.Predict(context.Background(), "tomato", "m1", 30)

	var ierr *models.InternalError
	if !errors.As(err, &ierr) {
		t.Fatalf("Expected InternalError, got %v", err)
	}
}

func TestPredict_StableTrendWithinDeadBand(t *testing.T) {
	store := testutils.NewMemStore()
	// Halves average 100 vs 101: under the 2% band
	seedHistory(store, 100, 100, 100, 100, 101, 101, 101, 101)

	completer := &fakeCompleter{Reply: `{"predictedPrice": 100, "confidence": 90}`}
	p := analysis.NewPredictor(store, completer, zap.NewNop())
	pred, err := p.Predict(context.Background(), "tomato", "m1", 30)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pred.Trend != models.TrendStable {
		t.Errorf("Expected stable trend, got %s", pred.Trend)
	}
}
