package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/protocol"
	"github.com/dzmarkets/pricewire/pkg/models"
)

// MockConn simulates a connected websocket session
type MockConn struct {
	IDVal    string
	Messages []protocol.Response // Stores structured responses from SendJSON
	RawBytes []string            // Stores raw fan-out payloads from SendBytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockConn(id string) *MockConn {
	return &MockConn{IDVal: id, Messages: make([]protocol.Response, 0)}
}

func (m *MockConn) ID() string { return m.IDVal }

func (m *MockConn) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockConn) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.Response); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockConn) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockConn) LastEvent() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Event
}

func (m *MockConn) LastResponse() (protocol.Response, bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return protocol.Response{}, false
	}
	return m.Messages[len(m.Messages)-1], true
}

// PushCount is the number of raw fan-out payloads received.
func (m *MockConn) PushCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.RawBytes)
}

// CountEvent counts structured responses with the given event name.
func (m *MockConn) CountEvent(event string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for _, r := range m.Messages {
		if r.Event == event {
			n++
		}
	}
	return n
}

// VendorRecord ties a vendor to its market for the active-vendor count.
type VendorRecord struct {
	Ref      models.VendorRef
	MarketID string
	Active   bool
}

// MemStore is an in-memory EntityStore for unit tests.
type MemStore struct {
	Mu       sync.Mutex
	Products map[string]models.ProductRef
	Markets  map[string]models.MarketRef
	Vendors  map[string]VendorRecord
	Users    map[string]models.UserRef
	Entries  []models.PriceEntry

	CreateErr error // Forces CreatePriceEntry to fail when set
}

func NewMemStore() *MemStore {
	return &MemStore{
		Products: make(map[string]models.ProductRef),
		Markets:  make(map[string]models.MarketRef),
		Vendors:  make(map[string]VendorRecord),
		Users:    make(map[string]models.UserRef),
	}
}

// Seed registers one of each entity so a submission referencing them passes
// validation.
func (m *MemStore) Seed(productID, marketID, vendorID, userID string) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Products[productID] = models.ProductRef{ID: productID, Name: productID, Unit: "kg"}
	m.Markets[marketID] = models.MarketRef{ID: marketID, Name: marketID, Location: "Algiers"}
	m.Vendors[vendorID] = VendorRecord{
		Ref:      models.VendorRef{ID: vendorID, Name: vendorID},
		MarketID: marketID,
		Active:   true,
	}
	m.Users[userID] = models.UserRef{ID: userID, Name: userID}
}

func (m *MemStore) GetProduct(ctx context.Context, id string) (models.ProductRef, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	ref, ok := m.Products[id]
	if !ok {
		return ref, &models.EntityNotFoundError{Kind: models.KindProduct, ID: id}
	}
	return ref, nil
}

func (m *MemStore) GetMarket(ctx context.Context, id string) (models.MarketRef, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	ref, ok := m.Markets[id]
	if !ok {
		return ref, &models.EntityNotFoundError{Kind: models.KindMarket, ID: id}
	}
	return ref, nil
}

func (m *MemStore) GetVendor(ctx context.Context, id string) (models.VendorRef, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	rec, ok := m.Vendors[id]
	if !ok {
		return models.VendorRef{}, &models.EntityNotFoundError{Kind: models.KindVendor, ID: id}
	}
	return rec.Ref, nil
}

func (m *MemStore) GetUser(ctx context.Context, id string) (models.UserRef, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	ref, ok := m.Users[id]
	if !ok {
		return ref, &models.EntityNotFoundError{Kind: models.KindUser, ID: id}
	}
	return ref, nil
}

func (m *MemStore) CreatePriceEntry(ctx context.Context, entry models.PriceEntry) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.CreateErr != nil {
		return &models.PersistenceError{Op: "create price entry", Err: m.CreateErr}
	}
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MemStore) RecentPrices(ctx context.Context, filter models.SubscriptionFilter, limit int) ([]models.PriceEntry, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []models.PriceEntry
	// Entries append in creation order; walk backwards for newest first.
	for i := len(m.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Matches(m.Entries[i]) {
			out = append(out, m.Entries[i])
		}
	}
	return out, nil
}

func (m *MemStore) CountEntries(ctx context.Context, filter models.SubscriptionFilter, since *time.Time) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var n int64
	for _, e := range m.Entries {
		if !filter.Matches(e) {
			continue
		}
		if since != nil && e.Date.Before(*since) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemStore) CountActiveVendors(ctx context.Context, marketID string) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var n int64
	for _, rec := range m.Vendors {
		if rec.MarketID == marketID && rec.Active {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CountMarketProducts(ctx context.Context, marketID string) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	seen := make(map[string]bool)
	for _, e := range m.Entries {
		if e.MarketID == marketID {
			seen[e.ProductID] = true
		}
	}
	return int64(len(seen)), nil
}

func (m *MemStore) CountProductMarkets(ctx context.Context, productID string) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	seen := make(map[string]bool)
	for _, e := range m.Entries {
		if e.ProductID == productID {
			seen[e.MarketID] = true
		}
	}
	return int64(len(seen)), nil
}

func (m *MemStore) ProductPriceStats(ctx context.Context, productID string) (models.PriceStats, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var prices []decimal.Decimal
	for _, e := range m.Entries {
		if e.ProductID == productID {
			prices = append(prices, e.Price)
		}
	}
	if len(prices) == 0 {
		return models.PriceStats{}, nil
	}
	return models.PriceStats{
		Average: decimal.Avg(prices[0], prices[1:]...),
		Min:     decimal.Min(prices[0], prices[1:]...),
		Max:     decimal.Max(prices[0], prices[1:]...),
		Samples: int64(len(prices)),
	}, nil
}

func (m *MemStore) PriceHistory(ctx context.Context, productID, marketID string, since time.Time) ([]models.PriceEntry, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []models.PriceEntry
	for _, e := range m.Entries {
		if e.ProductID == productID && e.MarketID == marketID && !e.Date.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) Close() error { return nil }

// FailingStore wraps read failures for aggregation error tests. ReadErr is
// fixed at construction; aggregate reads run concurrently.
type FailingStore struct {
	*MemStore
	ReadErr error
}

func NewFailingStore() *FailingStore {
	return &FailingStore{MemStore: NewMemStore(), ReadErr: errors.New("read failed")}
}

func (f *FailingStore) CountEntries(ctx context.Context, filter models.SubscriptionFilter, since *time.Time) (int64, error) {
	return 0, &models.PersistenceError{Op: "count entries", Err: f.ReadErr}
}
