package protocol

import "encoding/json"

// Inbound events.
const (
	EventJoinMarket            = "join-market"
	EventLeaveMarket           = "leave-market"
	EventJoinProduct           = "join-product"
	EventLeaveProduct          = "leave-product"
	EventSubscribePrices       = "subscribe-prices"
	EventUnsubscribePrices     = "unsubscribe-prices"
	EventNewPriceEntry         = "new-price-entry"
	EventRequestMarketSummary  = "request-market-summary"
	EventRequestProductSummary = "request-product-summary"
	EventSetPriceAlert         = "set-price-alert"
	EventRequestPriceAnalysis  = "request-price-analysis"
)

// Outbound events.
const (
	EventMessage             = "message"
	EventError               = "error"
	EventRecentPrices        = "recent-prices"
	EventPriceUpdate         = "price-update"
	EventPriceEntryCreated   = "price-entry-created"
	EventPriceEntryError     = "price-entry-error"
	EventMarketSummary       = "market-summary"
	EventMarketSummaryError  = "market-summary-error"
	EventProductSummary      = "product-summary"
	EventProductSummaryError = "product-summary-error"
	EventPriceAlertSet       = "price-alert-set"
	EventPriceAlert          = "price-alert"
	EventPriceAnalysis       = "price-analysis"
	EventPriceAnalysisError  = "price-analysis-error"
)

// Request is the inbound wire envelope. Data is decoded per event into a
// typed payload before it reaches the hub.
type Request struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Response is the outbound wire envelope.
type Response struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ErrorPayload carries a human-readable failure message on *-error events.
type ErrorPayload struct {
	Error string `json:"error"`
}

// WelcomePayload is sent once on connect.
type WelcomePayload struct {
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
	Timestamp string `json:"timestamp"`
}
