package hub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/hub"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/protocol"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/testutils"
	"github.com/dzmarkets/pricewire/pkg/models"
)

func setup() (*hub.Hub, *testutils.MemStore) {
	store := testutils.NewMemStore()
	store.Seed("tomato", "m1", "v1", "u1")
	return hub.NewHub(store, zap.NewNop()), store
}

func req(event string, data any) protocol.Request {
	raw, _ := json.Marshal(data)
	return protocol.Request{Event: event, Data: raw}
}

func submitReq(product, market, vendor, user string, price float64) protocol.Request {
	return req(protocol.EventNewPriceEntry, map[string]any{
		"productId": product,
		"marketId":  market,
		"vendorId":  vendor,
		"userId":    user,
		"price":     price,
	})
}

func TestHub_Welcome(t *testing.T) {
	h, _ := setup()
	c := testutils.NewMockConn("c1")

	h.Register(c)

	if c.LastEvent() != protocol.EventMessage {
		t.Errorf("Expected welcome message on connect, got %s", c.LastEvent())
	}
}

func TestHub_FanOut_Targeting(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	joined := testutils.NewMockConn("joined")
	other := testutils.NewMockConn("other")
	h.Register(joined)
	h.Register(other)

	h.HandleCommand(ctx, joined, req(protocol.EventJoinMarket, "m1"))
	h.HandleCommand(ctx, other, req(protocol.EventJoinMarket, "m2"))

	submitter := testutils.NewMockConn("submitter")
	h.Register(submitter)
	h.HandleCommand(ctx, submitter, submitReq("tomato", "m1", "v1", "u1", 220))

	if submitter.LastEvent() != protocol.EventPriceEntryCreated {
		t.Fatalf("Expected creation ack, got %s", submitter.LastEvent())
	}
	if joined.PushCount() != 1 {
		t.Errorf("Session joined to market:m1 should receive exactly 1 push, got %d", joined.PushCount())
	}
	if other.PushCount() != 0 {
		t.Errorf("Session joined to market:m2 should receive nothing, got %d", other.PushCount())
	}
}

func TestHub_FanOut_SubscriberScenario(t *testing.T) {
	// Two sessions: one subscribed to product:tomato, one to market:m2.
	// A submission for (tomato, m1) reaches only the first.
	h, _ := setup()
	ctx := context.Background()

	productSub := testutils.NewMockConn("product-sub")
	marketSub := testutils.NewMockConn("market-sub")
	h.Register(productSub)
	h.Register(marketSub)

	h.HandleCommand(ctx, productSub, req(protocol.EventSubscribePrices, models.SubscriptionFilter{ProductID: "tomato"}))
	h.HandleCommand(ctx, marketSub, req(protocol.EventSubscribePrices, models.SubscriptionFilter{MarketID: "m2"}))

	if productSub.CountEvent(protocol.EventRecentPrices) != 1 {
		t.Fatal("Subscribe should reply with recent-prices")
	}

	h.HandleCommand(ctx, productSub, submitReq("tomato", "m1", "v1", "u1", 220))

	if productSub.PushCount() != 1 {
		t.Errorf("product:tomato subscriber should get the push, got %d", productSub.PushCount())
	}
	if marketSub.PushCount() != 0 {
		t.Errorf("market:m2 subscriber should get nothing, got %d", marketSub.PushCount())
	}
}

func TestHub_FanOut_Dedup(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventJoinMarket, "m1"))
	h.HandleCommand(ctx, c, req(protocol.EventJoinProduct, "tomato"))

	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 100))

	if c.PushCount() != 1 {
		t.Errorf("Session in two matching groups must receive exactly one push, got %d", c.PushCount())
	}
}

func TestHub_FanOut_OrderMatchesPersistence(t *testing.T) {
	// Concurrent submissions to one group must arrive in the order they were
	// persisted.
	h, store := setup()
	ctx := context.Background()

	sub := testutils.NewMockConn("sub")
	h.Register(sub)
	h.HandleCommand(ctx, sub, req(protocol.EventJoinMarket, "m1"))

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.SubmitPrice(ctx, protocol.NewPricePayload{
				ProductID: "tomato",
				MarketID:  "m1",
				VendorID:  "v1",
				UserID:    "u1",
				Price:     decimal.NewFromInt(int64(i + 1)),
				Currency:  "DZD",
			})
		}(i)
	}
	wg.Wait()

	if sub.PushCount() != n {
		t.Fatalf("Expected %d pushes, got %d", n, sub.PushCount())
	}

	store.Mu.Lock()
	persisted := make([]string, len(store.Entries))
	for i, e := range store.Entries {
		persisted[i] = e.ID
	}
	store.Mu.Unlock()

	sub.Mu.Lock()
	defer sub.Mu.Unlock()
	for i, raw := range sub.RawBytes {
		var pushed struct {
			Data models.PriceEntry `json:"data"`
		}
		if err := json.Unmarshal([]byte(raw), &pushed); err != nil {
			t.Fatalf("Bad push payload: %v", err)
		}
		if pushed.Data.ID != persisted[i] {
			t.Fatalf("Push %d out of order: got %s, persisted %s", i, pushed.Data.ID, persisted[i])
		}
	}
}

func TestHub_Join_Idempotent(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventJoinMarket, "m1"))
	h.HandleCommand(ctx, c, req(protocol.EventJoinMarket, "m1"))

	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 100))

	if c.PushCount() != 1 {
		t.Errorf("Double join must keep single membership, got %d pushes", c.PushCount())
	}
}

func TestHub_Leave_NeverJoined_NoOp(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventLeaveMarket, "m1"))

	if c.CountEvent(protocol.EventError) != 0 {
		t.Error("Leaving a group never joined must be a silent no-op")
	}
}

func TestHub_Unsubscribe_KeepsIndependentGroups(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventJoinMarket, "m1"))
	h.HandleCommand(ctx, c, req(protocol.EventSubscribePrices, models.SubscriptionFilter{ProductID: "tomato"}))
	h.HandleCommand(ctx, c, req(protocol.EventUnsubscribePrices, models.SubscriptionFilter{ProductID: "tomato"}))

	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 100))

	if c.PushCount() != 1 {
		t.Errorf("market:m1 membership joined independently must survive unsubscribe, got %d pushes", c.PushCount())
	}
}

func TestHub_Submit_EntityNotFound(t *testing.T) {
	h, store := setup()
	ctx := context.Background()

	watcher := testutils.NewMockConn("watcher")
	h.Register(watcher)
	h.HandleCommand(ctx, watcher, req(protocol.EventJoinMarket, "m1"))

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "ghost-vendor", "u1", 100))

	if c.LastEvent() != protocol.EventPriceEntryError {
		t.Fatalf("Expected price-entry-error, got %s", c.LastEvent())
	}
	resp, _ := c.LastResponse()
	if msg := resp.Data.(protocol.ErrorPayload).Error; msg != "vendor not found: ghost-vendor" {
		t.Errorf("Error should name the missing kind, got %q", msg)
	}

	store.Mu.Lock()
	persisted := len(store.Entries)
	store.Mu.Unlock()
	if persisted != 0 {
		t.Error("Nothing may be persisted when a referenced entity is missing")
	}
	if watcher.PushCount() != 0 {
		t.Error("No broadcast may happen on a rejected submission")
	}
}

func TestHub_Submit_FirstMissingKindWins(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	// Every referenced entity is missing; product is reported first.
	h.HandleCommand(ctx, c, submitReq("nope", "nope", "nope", "nope", 100))

	resp, _ := c.LastResponse()
	if msg := resp.Data.(protocol.ErrorPayload).Error; msg != "product not found: nope" {
		t.Errorf("Expected product reported first, got %q", msg)
	}
}

func TestHub_Submit_PersistenceFailure_Isolated(t *testing.T) {
	h, store := setup()
	ctx := context.Background()

	watcher := testutils.NewMockConn("watcher")
	h.Register(watcher)
	h.HandleCommand(ctx, watcher, req(protocol.EventJoinMarket, "m1"))

	store.CreateErr = fmt.Errorf("disk full")

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 100))

	if c.LastEvent() != protocol.EventPriceEntryError {
		t.Errorf("Submitter must be told about the failure, got %s", c.LastEvent())
	}
	if watcher.PushCount() != 0 {
		t.Error("No broadcast may happen on a failed write")
	}

	// The hub stays healthy for everyone else.
	store.CreateErr = nil
	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 100))
	if c.LastEvent() != protocol.EventPriceEntryCreated {
		t.Errorf("Hub should recover after a store failure, got %s", c.LastEvent())
	}
	if watcher.PushCount() != 1 {
		t.Errorf("Watcher should receive the successful broadcast, got %d", watcher.PushCount())
	}
}

func TestHub_Submit_ValidationRejected(t *testing.T) {
	h, store := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", -5))

	if c.LastEvent() != protocol.EventPriceEntryError {
		t.Fatalf("Expected price-entry-error for negative price, got %s", c.LastEvent())
	}

	store.Mu.Lock()
	defer store.Mu.Unlock()
	if len(store.Entries) != 0 {
		t.Error("Validation failures must reject before any state change")
	}
}

func TestHub_Submit_DefaultCurrency(t *testing.T) {
	h, store := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 42))

	store.Mu.Lock()
	defer store.Mu.Unlock()
	if len(store.Entries) != 1 || store.Entries[0].Currency != "DZD" {
		t.Errorf("Currency should default to DZD, got %+v", store.Entries)
	}
}

func TestHub_DisconnectRace(t *testing.T) {
	// Run with `go test -race ./...`
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventJoinMarket, "m1"))

	submitter := testutils.NewMockConn("submitter")
	h.Register(submitter)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.HandleCommand(ctx, submitter, submitReq("tomato", "m1", "v1", "u1", 100))
	}()
	go func() {
		defer wg.Done()
		h.Unregister(c)
	}()
	wg.Wait()

	// After Unregister returned, no further push may reach the session.
	delivered := c.PushCount()
	h.HandleCommand(ctx, submitter, submitReq("tomato", "m1", "v1", "u1", 101))
	if c.PushCount() != delivered {
		t.Error("Push delivered to a session after its disconnect completed")
	}
}

func TestHub_Alert_FireAndRepeat(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventSetPriceAlert, map[string]any{
		"productId":   "tomato",
		"marketId":    "m1",
		"targetPrice": 100,
		"condition":   "above",
	}))

	if c.LastEvent() != protocol.EventPriceAlertSet {
		t.Fatalf("Expected price-alert-set ack, got %s", c.LastEvent())
	}

	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 99))
	if n := c.CountEvent(protocol.EventPriceAlert); n != 0 {
		t.Errorf("Alert must not fire below target, got %d", n)
	}

	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 100))
	if n := c.CountEvent(protocol.EventPriceAlert); n != 1 {
		t.Errorf("Alert must fire at exactly the target, got %d", n)
	}

	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 150))
	if n := c.CountEvent(protocol.EventPriceAlert); n != 2 {
		t.Errorf("Alert must fire again on a second qualifying observation, got %d", n)
	}
}

func TestHub_Alert_DiscardedOnDisconnect(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventSetPriceAlert, map[string]any{
		"productId":   "tomato",
		"marketId":    "m1",
		"targetPrice": 100,
		"condition":   "above",
	}))
	h.Unregister(c)

	submitter := testutils.NewMockConn("submitter")
	h.Register(submitter)
	h.HandleCommand(ctx, submitter, submitReq("tomato", "m1", "v1", "u1", 200))

	if n := c.CountEvent(protocol.EventPriceAlert); n != 0 {
		t.Errorf("Alerts must die with the session, got %d notifications", n)
	}
}

func TestHub_MarketSummary_EmptyMarket(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventRequestMarketSummary, "m1"))

	resp, ok := c.LastResponse()
	if !ok || resp.Event != protocol.EventMarketSummary {
		t.Fatalf("Empty market must yield a summary, not an error, got %s", resp.Event)
	}
	summary := resp.Data.(models.MarketSummary)
	if summary.TotalEntries != 0 || summary.TodayEntries != 0 || summary.AvailableProducts != 0 {
		t.Errorf("Expected zero-valued summary, got %+v", summary)
	}
	if len(summary.LatestPrices) != 0 {
		t.Errorf("Expected empty latest prices, got %d", len(summary.LatestPrices))
	}
}

func TestHub_ProductSummary_Stats(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	for _, price := range []float64{100, 200, 300} {
		h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", price))
	}

	h.HandleCommand(ctx, c, req(protocol.EventRequestProductSummary, "tomato"))

	resp, _ := c.LastResponse()
	if resp.Event != protocol.EventProductSummary {
		t.Fatalf("Expected product-summary, got %s", resp.Event)
	}
	summary := resp.Data.(models.ProductSummary)
	if summary.TotalEntries != 3 {
		t.Errorf("Expected 3 entries, got %d", summary.TotalEntries)
	}
	if !summary.AveragePrice.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Expected avg 200, got %s", summary.AveragePrice)
	}
	if !summary.MinPrice.Equal(decimal.NewFromInt(100)) || !summary.MaxPrice.Equal(decimal.NewFromInt(300)) {
		t.Errorf("Expected min 100 / max 300, got %s / %s", summary.MinPrice, summary.MaxPrice)
	}
	if summary.AvailableMarkets != 1 {
		t.Errorf("Expected 1 market, got %d", summary.AvailableMarkets)
	}
}

func TestHub_RoundTrip_PushMatchesReadBack(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, req(protocol.EventJoinMarket, "m1"))
	h.HandleCommand(ctx, c, submitReq("tomato", "m1", "v1", "u1", 220))

	if c.PushCount() != 1 {
		t.Fatalf("Expected exactly one push, got %d", c.PushCount())
	}

	var pushed struct {
		Event string            `json:"event"`
		Data  models.PriceEntry `json:"data"`
	}
	if err := json.Unmarshal([]byte(c.RawBytes[0]), &pushed); err != nil {
		t.Fatalf("Push payload is not valid JSON: %v", err)
	}
	if pushed.Event != protocol.EventPriceUpdate {
		t.Fatalf("Expected price-update push, got %s", pushed.Event)
	}

	h.HandleCommand(ctx, c, req(protocol.EventSubscribePrices, models.SubscriptionFilter{MarketID: "m1"}))
	resp, _ := c.LastResponse()
	recent := resp.Data.([]models.PriceEntry)
	if len(recent) != 1 {
		t.Fatalf("Expected the entry back via recent-prices, got %d", len(recent))
	}

	got := recent[0]
	if got.ID != pushed.Data.ID || !got.Price.Equal(pushed.Data.Price) ||
		got.Currency != pushed.Data.Currency || !got.Date.Equal(pushed.Data.Date) {
		t.Errorf("Pushed and read-back entries differ: %+v vs %+v", pushed.Data, got)
	}
}

func TestHub_UnknownEvent(t *testing.T) {
	h, _ := setup()
	ctx := context.Background()

	c := testutils.NewMockConn("c1")
	h.Register(c)
	h.HandleCommand(ctx, c, protocol.Request{Event: "definitely-not-a-thing"})

	if c.LastEvent() != protocol.EventError {
		t.Errorf("Unknown events must produce an error event, got %s", c.LastEvent())
	}
}
