package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/repository"
	"github.com/dzmarkets/pricewire/pkg/models"
)

const (
	historyWindowDays = 90
	minHistoryPoints  = 7
	trendDeadBandPct  = 2.0
)

const systemPrompt = "You are an expert price prediction specialist with deep knowledge of " +
	"Algerian market dynamics, seasonal patterns, and economic factors affecting prices."

// Predictor builds a statistical profile of a product's price history at a
// market and asks the reasoning collaborator for a structured forecast. When
// the collaborator's reply cannot be parsed, the computed statistics stand in.
type Predictor struct {
	store     repository.EntityStore
	completer Completer
	logger    *zap.Logger
	now       func() time.Time
}

func NewPredictor(store repository.EntityStore, completer Completer, logger *zap.Logger) *Predictor {
	return &Predictor{store: store, completer: completer, logger: logger, now: time.Now}
}

// historyStats are the locally computed figures fed into the prompt and used
// as the parse-failure fallback.
type historyStats struct {
	Average    decimal.Decimal
	Min        decimal.Decimal
	Max        decimal.Decimal
	Current    decimal.Decimal
	Volatility decimal.Decimal
	Trend      string
	Samples    int
}

func (p *Predictor) Predict(ctx context.Context, productID, marketID string, days int) (models.PricePrediction, error) {
	var none models.PricePrediction

	product, err := p.store.GetProduct(ctx, productID)
	if err != nil {
		return none, err
	}
	market, err := p.store.GetMarket(ctx, marketID)
	if err != nil {
		return none, err
	}

	since := p.now().AddDate(0, 0, -historyWindowDays)
	history, err := p.store.PriceHistory(ctx, productID, marketID, since)
	if err != nil {
		return none, err
	}
	if len(history) < minHistoryPoints {
		return none, &models.ValidationError{
			Field:  "history",
			Reason: fmt.Sprintf("need at least %d observations for a prediction, have %d", minHistoryPoints, len(history)),
		}
	}

	stats := computeStats(history)
	prompt := buildPrompt(product, market, history, stats, days)

	prediction := models.PricePrediction{
		ProductID:  productID,
		MarketID:   marketID,
		Trend:      stats.Trend,
		Volatility: stats.Volatility,
		Samples:    stats.Samples,
	}

	reply, err := p.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return none, &models.InternalError{Op: "price analysis", Err: err}
	}

	if verdict, ok := parseVerdict(reply); ok {
		prediction.PredictedPrice = verdict.PredictedPrice
		prediction.PriceRange = verdict.PriceRange
		prediction.Confidence = verdict.Confidence
		prediction.Factors = verdict.Factors
		prediction.Risks = verdict.Risks
		prediction.Recommendations = verdict.Recommendations
		prediction.SeasonalNotes = verdict.SeasonalNotes
		prediction.Analysis = verdict.Analysis
		return prediction, nil
	}

	// Unparseable reply: fall back to the computed statistics and keep the
	// raw text as the analysis.
	p.logger.Warn("Prediction reply was not structured, using computed statistics",
		zap.String("product", productID), zap.String("market", marketID))
	prediction.PredictedPrice = stats.Average
	prediction.PriceRange = models.PriceRange{Min: stats.Min, Max: stats.Max}
	prediction.Confidence = 70
	prediction.Analysis = reply
	return prediction, nil
}

func computeStats(history []models.PriceEntry) historyStats {
	prices := make([]decimal.Decimal, len(history))
	for i, e := range history {
		prices[i] = e.Price
	}

	stats := historyStats{
		Average: decimal.Avg(prices[0], prices[1:]...),
		Min:     decimal.Min(prices[0], prices[1:]...),
		Max:     decimal.Max(prices[0], prices[1:]...),
		Current: prices[len(prices)-1],
		Samples: len(prices),
	}
	stats.Volatility = volatility(prices, stats.Average)
	stats.Trend = trend(prices)
	return stats
}

// volatility is the population standard deviation of the price series.
func volatility(prices []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	if len(prices) < 2 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range prices {
		d := p.Sub(mean)
		sum = sum.Add(d.Mul(d))
	}
	variance, _ := sum.Div(decimal.NewFromInt(int64(len(prices)))).Float64()
	return decimal.NewFromFloat(math.Sqrt(variance)).Round(4)
}

// trend compares the first-half and second-half averages with a 2% dead band.
func trend(prices []decimal.Decimal) string {
	if len(prices) < 2 {
		return models.TrendStable
	}
	half := len(prices) / 2
	firstAvg := decimal.Avg(prices[0], prices[1:half]...)
	secondAvg := decimal.Avg(prices[half], prices[half+1:]...)
	if firstAvg.IsZero() {
		return models.TrendStable
	}

	changePct, _ := secondAvg.Sub(firstAvg).Div(firstAvg).Mul(decimal.NewFromInt(100)).Float64()
	if math.Abs(changePct) < trendDeadBandPct {
		return models.TrendStable
	}
	if changePct > 0 {
		return models.TrendUp
	}
	return models.TrendDown
}

func buildPrompt(product models.ProductRef, market models.MarketRef, history []models.PriceEntry, stats historyStats, days int) string {
	type point struct {
		Date  string `json:"date"`
		Price string `json:"price"`
	}
	points := make([]point, len(history))
	for i, e := range history {
		points[i] = point{Date: e.Date.Format(time.RFC3339), Price: e.Price.String()}
	}

	input := map[string]any{
		"product":        product,
		"market":         market,
		"historicalData": points,
		"predictionDays": days,
		"currentPrice":   stats.Current,
		"statistics": map[string]any{
			"averagePrice":    stats.Average,
			"minPrice":        stats.Min,
			"maxPrice":        stats.Max,
			"priceVolatility": stats.Volatility,
			"trend":           stats.Trend,
		},
	}
	data, _ := json.MarshalIndent(input, "", "  ")

	return fmt.Sprintf(`Analyze the following historical price data and provide price predictions:

%s

Provide a detailed prediction for the next %d days.

Format your response as a JSON object with the following structure:
{
  "predictedPrice": number,
  "priceRange": {"min": number, "max": number},
  "confidence": number,
  "factors": ["factor1", "factor2"],
  "risks": ["risk1", "risk2"],
  "recommendations": ["recommendation1", "recommendation2"],
  "seasonalNotes": string,
  "analysis": string
}

The predicted price should be the expected average price for the prediction period.`, data, days)
}

type verdict struct {
	PredictedPrice  decimal.Decimal   `json:"predictedPrice"`
	PriceRange      models.PriceRange `json:"priceRange"`
	Confidence      int               `json:"confidence"`
	Factors         []string          `json:"factors"`
	Risks           []string          `json:"risks"`
	Recommendations []string          `json:"recommendations"`
	SeasonalNotes   string            `json:"seasonalNotes"`
	Analysis        string            `json:"analysis"`
}

// parseVerdict extracts the first {...} block from the reply and decodes it.
func parseVerdict(reply string) (verdict, bool) {
	var v verdict
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return v, false
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err != nil {
		return v, false
	}
	if v.PredictedPrice.IsZero() {
		return v, false
	}
	return v, true
}
