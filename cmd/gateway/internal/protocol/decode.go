package protocol

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dzmarkets/pricewire/pkg/models"
)

// NewPricePayload is a validated price submission.
type NewPricePayload struct {
	ProductID string          `json:"productId"`
	MarketID  string          `json:"marketId"`
	VendorID  string          `json:"vendorId"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Notes     string          `json:"notes,omitempty"`
	UserID    string          `json:"userId"`
}

// SetAlertPayload is a validated alert registration.
type SetAlertPayload struct {
	ProductID   string          `json:"productId"`
	MarketID    string          `json:"marketId"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
	Condition   string          `json:"condition"`
}

// AnalysisPayload is a validated prediction request.
type AnalysisPayload struct {
	ProductID      string `json:"productId"`
	MarketID       string `json:"marketId"`
	PredictionDays int    `json:"predictionDays"`
}

// DecodeID accepts either a bare JSON string ("m1") or an object carrying the
// named field ({"marketId":"m1"}); clients of the original event surface sent
// bare ids.
func DecodeID(raw json.RawMessage, field string) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if strings.TrimSpace(id) == "" {
			return "", &models.ValidationError{Field: field, Reason: "must not be empty"}
		}
		return id, nil
	}

	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", &models.ValidationError{Field: field, Reason: "malformed payload"}
	}
	if strings.TrimSpace(obj[field]) == "" {
		return "", &models.ValidationError{Field: field, Reason: "must not be empty"}
	}
	return obj[field], nil
}

// DecodeFilter decodes a subscription filter. An empty filter is valid: it
// implies no group membership changes.
func DecodeFilter(raw json.RawMessage) (models.SubscriptionFilter, error) {
	var f models.SubscriptionFilter
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, &models.ValidationError{Field: "subscription", Reason: "malformed payload"}
	}
	return f, nil
}

// DecodeNewPrice decodes and validates a price submission. Currency defaults
// to DZD when omitted.
func DecodeNewPrice(raw json.RawMessage) (NewPricePayload, error) {
	var p NewPricePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, &models.ValidationError{Field: "price entry", Reason: "malformed payload"}
	}
	return p, p.Validate()
}

// Validate checks required fields. Exported so the Kafka ingest path can
// apply the same boundary rules as the websocket path.
func (p *NewPricePayload) Validate() error {
	switch {
	case strings.TrimSpace(p.ProductID) == "":
		return &models.ValidationError{Field: "productId", Reason: "must not be empty"}
	case strings.TrimSpace(p.MarketID) == "":
		return &models.ValidationError{Field: "marketId", Reason: "must not be empty"}
	case strings.TrimSpace(p.VendorID) == "":
		return &models.ValidationError{Field: "vendorId", Reason: "must not be empty"}
	case strings.TrimSpace(p.UserID) == "":
		return &models.ValidationError{Field: "userId", Reason: "must not be empty"}
	case !p.Price.IsPositive():
		return &models.ValidationError{Field: "price", Reason: "must be positive"}
	}

	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}
	if len(p.Currency) != 3 {
		return &models.ValidationError{Field: "currency", Reason: "must be a 3-letter code"}
	}
	p.Currency = strings.ToUpper(p.Currency)
	return nil
}

// DecodeSetAlert decodes and validates an alert registration.
func DecodeSetAlert(raw json.RawMessage) (SetAlertPayload, error) {
	var p SetAlertPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, &models.ValidationError{Field: "price alert", Reason: "malformed payload"}
	}
	switch {
	case strings.TrimSpace(p.ProductID) == "":
		return p, &models.ValidationError{Field: "productId", Reason: "must not be empty"}
	case strings.TrimSpace(p.MarketID) == "":
		return p, &models.ValidationError{Field: "marketId", Reason: "must not be empty"}
	case !p.TargetPrice.IsPositive():
		return p, &models.ValidationError{Field: "targetPrice", Reason: "must be positive"}
	case p.Condition != models.ConditionAbove && p.Condition != models.ConditionBelow:
		return p, &models.ValidationError{Field: "condition", Reason: "must be above or below"}
	}
	return p, nil
}

// DecodeAnalysis decodes and validates a prediction request. PredictionDays
// defaults to 30 and is capped at a year.
func DecodeAnalysis(raw json.RawMessage) (AnalysisPayload, error) {
	var p AnalysisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, &models.ValidationError{Field: "analysis", Reason: "malformed payload"}
	}
	switch {
	case strings.TrimSpace(p.ProductID) == "":
		return p, &models.ValidationError{Field: "productId", Reason: "must not be empty"}
	case strings.TrimSpace(p.MarketID) == "":
		return p, &models.ValidationError{Field: "marketId", Reason: "must not be empty"}
	}
	if p.PredictionDays == 0 {
		p.PredictionDays = 30
	}
	if p.PredictionDays < 1 || p.PredictionDays > 365 {
		return p, &models.ValidationError{Field: "predictionDays", Reason: "must be between 1 and 365"}
	}
	return p, nil
}
