package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when a submission carries no currency code.
const DefaultCurrency = "DZD"

// ProductRef carries the denormalized product fields attached to broadcasts.
type ProductRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// MarketRef carries the denormalized market fields attached to broadcasts.
type MarketRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// VendorRef carries the denormalized vendor fields attached to broadcasts.
type VendorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserRef carries the denormalized submitter fields attached to broadcasts.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PriceEntry is one persisted price observation for a product at a market
// via a vendor. Immutable once created.
type PriceEntry struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	MarketID  string          `json:"marketId"`
	VendorID  string          `json:"vendorId"`
	UserID    string          `json:"userId"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Notes     string          `json:"notes,omitempty"`
	Date      time.Time       `json:"date"`

	Product ProductRef `json:"product"`
	Market  MarketRef  `json:"market"`
	Vendor  VendorRef  `json:"vendor"`
	User    UserRef    `json:"user"`
}

// SubscriptionFilter selects price entries by any combination of product,
// market and vendor. All fields optional.
type SubscriptionFilter struct {
	ProductID string `json:"productId,omitempty"`
	MarketID  string `json:"marketId,omitempty"`
	VendorID  string `json:"vendorId,omitempty"`
}

// IsEmpty reports whether no criteria are set.
func (f SubscriptionFilter) IsEmpty() bool {
	return f.ProductID == "" && f.MarketID == "" && f.VendorID == ""
}

// Matches reports whether the entry satisfies every non-empty criterion.
func (f SubscriptionFilter) Matches(e PriceEntry) bool {
	if f.ProductID != "" && f.ProductID != e.ProductID {
		return false
	}
	if f.MarketID != "" && f.MarketID != e.MarketID {
		return false
	}
	if f.VendorID != "" && f.VendorID != e.VendorID {
		return false
	}
	return true
}

// Alert conditions.
const (
	ConditionAbove = "above"
	ConditionBelow = "below"
)

// PriceAlert is a per-session threshold watch. Never persisted; it remains
// active after firing (repeat-fire) until the owning session disconnects.
type PriceAlert struct {
	ProductID   string          `json:"productId"`
	MarketID    string          `json:"marketId"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
	Condition   string          `json:"condition"`
}

// Triggers reports whether the entry satisfies the alert threshold. Both
// directions are boundary-inclusive.
func (a PriceAlert) Triggers(e PriceEntry) bool {
	if a.ProductID != e.ProductID || a.MarketID != e.MarketID {
		return false
	}
	switch a.Condition {
	case ConditionAbove:
		return e.Price.GreaterThanOrEqual(a.TargetPrice)
	case ConditionBelow:
		return e.Price.LessThanOrEqual(a.TargetPrice)
	}
	return false
}

// MarketSummary is an on-demand snapshot of one market's activity. Counts of
// zero are valid; the summary reflects store state at computation time only.
type MarketSummary struct {
	MarketID          string       `json:"marketId"`
	TotalEntries      int64        `json:"totalEntries"`
	TodayEntries      int64        `json:"todayEntries"`
	ActiveVendors     int64        `json:"activeVendors"`
	AvailableProducts int64        `json:"availableProducts"`
	LatestPrices      []PriceEntry `json:"latestPrices"`
}

// ProductSummary is an on-demand snapshot of one product's pricing across
// markets. Avg/min/max cover the product's entire history.
type ProductSummary struct {
	ProductID        string          `json:"productId"`
	TotalEntries     int64           `json:"totalEntries"`
	TodayEntries     int64           `json:"todayEntries"`
	AvailableMarkets int64           `json:"availableMarkets"`
	AveragePrice     decimal.Decimal `json:"averagePrice"`
	MinPrice         decimal.Decimal `json:"minPrice"`
	MaxPrice         decimal.Decimal `json:"maxPrice"`
	LatestPrices     []PriceEntry    `json:"latestPrices"`
}

// PriceStats are whole-history aggregates for a product.
type PriceStats struct {
	Average decimal.Decimal `json:"average"`
	Min     decimal.Decimal `json:"min"`
	Max     decimal.Decimal `json:"max"`
	Samples int64           `json:"samples"`
}

// PriceRange bounds a prediction.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Price trends.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// PricePrediction is the structured verdict of the analysis collaborator,
// backed by locally computed statistics when the model reply cannot be parsed.
type PricePrediction struct {
	ProductID       string          `json:"productId"`
	MarketID        string          `json:"marketId"`
	PredictedPrice  decimal.Decimal `json:"predictedPrice"`
	PriceRange      PriceRange      `json:"priceRange"`
	Confidence      int             `json:"confidence"`
	Factors         []string        `json:"factors,omitempty"`
	Risks           []string        `json:"risks,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	SeasonalNotes   string          `json:"seasonalNotes,omitempty"`
	Analysis        string          `json:"analysis,omitempty"`
	Trend           string          `json:"trend"`
	Volatility      decimal.Decimal `json:"volatility"`
	Samples         int             `json:"samples"`
}
