// Package aggregate computes on-demand market and product summaries from the
// entity store. Each summary issues its reads independently and in parallel;
// there is deliberately no snapshot isolation across them, so an entry
// created mid-computation may appear in some counts and not others.
package aggregate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/repository"
	"github.com/dzmarkets/pricewire/pkg/models"
)

const latestLimit = 5

type Aggregator struct {
	store repository.EntityStore
	now   func() time.Time
}

func New(store repository.EntityStore, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

// midnight is the start of the current day in local time.
func (a *Aggregator) midnight() time.Time {
	n := a.now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, n.Location())
}

// MarketSummary assembles activity counts and the latest entries for one
// market. An empty market yields a zero-valued summary, not an error.
func (a *Aggregator) MarketSummary(ctx context.Context, marketID string) (models.MarketSummary, error) {
	summary := models.MarketSummary{MarketID: marketID, LatestPrices: []models.PriceEntry{}}
	filter := models.SubscriptionFilter{MarketID: marketID}
	since := a.midnight()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary.TotalEntries, err = a.store.CountEntries(ctx, filter, nil)
		return err
	})
	g.Go(func() (err error) {
		summary.TodayEntries, err = a.store.CountEntries(ctx, filter, &since)
		return err
	})
	g.Go(func() (err error) {
		summary.ActiveVendors, err = a.store.CountActiveVendors(ctx, marketID)
		return err
	})
	g.Go(func() (err error) {
		summary.AvailableProducts, err = a.store.CountMarketProducts(ctx, marketID)
		return err
	})
	g.Go(func() error {
		latest, err := a.store.RecentPrices(ctx, filter, latestLimit)
		if err != nil {
			return err
		}
		if latest != nil {
			summary.LatestPrices = latest
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.MarketSummary{}, &models.InternalError{Op: "market summary", Err: err}
	}
	return summary, nil
}

// ProductSummary is the market summary's product-side analogue, plus
// whole-history avg/min/max and the count of markets carrying the product.
func (a *Aggregator) ProductSummary(ctx context.Context, productID string) (models.ProductSummary, error) {
	summary := models.ProductSummary{ProductID: productID, LatestPrices: []models.PriceEntry{}}
	filter := models.SubscriptionFilter{ProductID: productID}
	since := a.midnight()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		summary.TotalEntries, err = a.store.CountEntries(ctx, filter, nil)
		return err
	})
	g.Go(func() (err error) {
		summary.TodayEntries, err = a.store.CountEntries(ctx, filter, &since)
		return err
	})
	g.Go(func() (err error) {
		summary.AvailableMarkets, err = a.store.CountProductMarkets(ctx, productID)
		return err
	})
	g.Go(func() error {
		stats, err := a.store.ProductPriceStats(ctx, productID)
		if err != nil {
			return err
		}
		summary.AveragePrice = stats.Average
		summary.MinPrice = stats.Min
		summary.MaxPrice = stats.Max
		return nil
	})
	g.Go(func() error {
		latest, err := a.store.RecentPrices(ctx, filter, latestLimit)
		if err != nil {
			return err
		}
		if latest != nil {
			summary.LatestPrices = latest
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.ProductSummary{}, &models.InternalError{Op: "product summary", Err: err}
	}
	return summary, nil
}
