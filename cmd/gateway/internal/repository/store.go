package repository

import (
	"context"
	"time"

	"github.com/dzmarkets/pricewire/pkg/models"
)

// EntityStore is the gateway to the persistent entity store. The hub verifies
// foreign keys through the Get* lookups before persisting, and the aggregator
// issues its reads through the same interface.
type EntityStore interface {
	GetProduct(ctx context.Context, id string) (models.ProductRef, error)
	GetMarket(ctx context.Context, id string) (models.MarketRef, error)
	GetVendor(ctx context.Context, id string) (models.VendorRef, error)
	GetUser(ctx context.Context, id string) (models.UserRef, error)

	// CreatePriceEntry persists a fully-hydrated entry. Single write, no
	// partial state on failure.
	CreatePriceEntry(ctx context.Context, entry models.PriceEntry) error

	// RecentPrices returns up to limit entries matching the filter, newest
	// first, hydrated with product/market/vendor/user display fields.
	RecentPrices(ctx context.Context, filter models.SubscriptionFilter, limit int) ([]models.PriceEntry, error)

	// CountEntries counts entries matching the filter, optionally restricted
	// to entries at or after since.
	CountEntries(ctx context.Context, filter models.SubscriptionFilter, since *time.Time) (int64, error)

	CountActiveVendors(ctx context.Context, marketID string) (int64, error)
	CountMarketProducts(ctx context.Context, marketID string) (int64, error)
	CountProductMarkets(ctx context.Context, productID string) (int64, error)

	// ProductPriceStats aggregates avg/min/max over the product's entire
	// history. Zero stats with Samples == 0 for an unseen product.
	ProductPriceStats(ctx context.Context, productID string) (models.PriceStats, error)

	// PriceHistory returns entries for product+market at or after since,
	// oldest first.
	PriceHistory(ctx context.Context, productID, marketID string, since time.Time) ([]models.PriceEntry, error)

	Close() error
}

// RateLimiter bounds connection attempts per origin.
type RateLimiter interface {
	Allow(ctx context.Context, ip string) (bool, error)
}
