package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dzmarkets/pricewire/cmd/gateway/internal/aggregate"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/protocol"
	"github.com/dzmarkets/pricewire/cmd/gateway/internal/repository"
	"github.com/dzmarkets/pricewire/pkg/models"
)

// Conn is one connected session as seen by the hub. Sends must be
// non-blocking: a slow consumer drops its own messages, never other
// sessions' fan-out.
type Conn interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// SnapshotWriter mirrors the latest entry per product+market to a cache.
type SnapshotWriter interface {
	Store(ctx context.Context, e models.PriceEntry) error
}

// Predictor produces a price forecast for product+market.
type Predictor interface {
	Predict(ctx context.Context, productID, marketID string, days int) (models.PricePrediction, error)
}

// AlertNotification is the payload of a fired price-alert event.
type AlertNotification struct {
	Alert models.PriceAlert `json:"alert"`
	Entry models.PriceEntry `json:"entry"`
}

// Hub owns the subscription registry, the alert watcher and every live
// session. One RWMutex serializes membership/alert mutation against fan-out
// enumeration: broadcasts hold the read lock while sending, Unregister holds
// the write lock, so no push is delivered after a disconnect returns. Store
// round-trips never run under that lock.
type Hub struct {
	mu       sync.RWMutex
	registry *Registry
	alerts   *AlertWatcher
	sessions map[Conn]bool

	// submitMu orders persist+fan-out pairs so per-group delivery order
	// matches persistence order.
	submitMu sync.Mutex

	store      repository.EntityStore
	aggregator *aggregate.Aggregator
	cache      SnapshotWriter
	predictor  Predictor
	logger     *zap.Logger

	welcomeText string
	now         func() time.Time
	newID       func() string
}

type Option func(*Hub)

func WithSnapshotCache(c SnapshotWriter) Option { return func(h *Hub) { h.cache = c } }
func WithPredictor(p Predictor) Option          { return func(h *Hub) { h.predictor = p } }
func WithWelcomeText(text string) Option        { return func(h *Hub) { h.welcomeText = text } }
func WithClock(now func() time.Time) Option     { return func(h *Hub) { h.now = now } }

func NewHub(store repository.EntityStore, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		registry:    NewRegistry(),
		alerts:      NewAlertWatcher(),
		sessions:    make(map[Conn]bool),
		store:       store,
		logger:      logger,
		welcomeText: "Connected to the live price service",
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.aggregator = aggregate.New(store, h.now)
	return h
}

// Register adds a session and sends the one-time welcome message.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.sessions[c] = true
	total := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info("Client connected", zap.String("session", c.ID()), zap.Int("sessions", total))

	c.SendJSON(protocol.Response{Event: protocol.EventMessage, Data: protocol.WelcomePayload{
		Text:      h.welcomeText,
		SenderID:  "system",
		Timestamp: h.now().Format(time.RFC3339),
	}})
}

// Unregister destroys the session: membership, alerts and the session entry
// go atomically with respect to broadcasts, then the connection is closed.
// Safe to call concurrently with an in-flight broadcast.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	present := h.sessions[c]
	h.registry.RemoveAll(c)
	h.alerts.RemoveAll(c)
	delete(h.sessions, c)
	h.mu.Unlock()

	// The hub never re-creates a destroyed session; a second Unregister for
	// the same connection is a no-op.
	if present {
		c.Close()
		h.logger.Info("Client disconnected", zap.String("session", c.ID()))
	}
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleCommand dispatches one decoded wire event for a session. Every
// failure is scoped to this session; the hub itself never stops.
func (h *Hub) HandleCommand(ctx context.Context, c Conn, req protocol.Request) {
	switch req.Event {
	case protocol.EventJoinMarket:
		h.handleMembership(c, req, GroupMarket, true)
	case protocol.EventLeaveMarket:
		h.handleMembership(c, req, GroupMarket, false)
	case protocol.EventJoinProduct:
		h.handleMembership(c, req, GroupProduct, true)
	case protocol.EventLeaveProduct:
		h.handleMembership(c, req, GroupProduct, false)
	case protocol.EventSubscribePrices:
		h.handleSubscribe(ctx, c, req)
	case protocol.EventUnsubscribePrices:
		h.handleUnsubscribe(c, req)
	case protocol.EventNewPriceEntry:
		h.handleNewPrice(ctx, c, req)
	case protocol.EventRequestMarketSummary:
		h.handleMarketSummary(ctx, c, req)
	case protocol.EventRequestProductSummary:
		h.handleProductSummary(ctx, c, req)
	case protocol.EventSetPriceAlert:
		h.handleSetAlert(c, req)
	case protocol.EventRequestPriceAnalysis:
		h.handleAnalysis(ctx, c, req)
	default:
		h.sendError(c, protocol.EventError, "Unknown event: "+req.Event)
	}
}

func (h *Hub) handleMembership(c Conn, req protocol.Request, kind string, join bool) {
	id, err := protocol.DecodeID(req.Data, kind+"Id")
	if err != nil {
		h.sendError(c, protocol.EventError, err.Error())
		return
	}

	g := Group{Kind: kind, ID: id}
	h.mu.Lock()
	if join {
		h.registry.Join(c, g)
	} else {
		h.registry.Leave(c, g)
	}
	h.mu.Unlock()

	h.logger.Debug("Membership changed",
		zap.String("session", c.ID()), zap.String("group", g.String()), zap.Bool("join", join))
}

func (h *Hub) handleSubscribe(ctx context.Context, c Conn, req protocol.Request) {
	filter, err := protocol.DecodeFilter(req.Data)
	if err != nil {
		h.sendError(c, protocol.EventError, err.Error())
		return
	}

	groups := GroupsForFilter(filter)
	h.mu.Lock()
	for _, g := range groups {
		h.registry.Join(c, g)
	}
	h.mu.Unlock()

	// Store read happens outside the registry lock.
	recent, err := h.store.RecentPrices(ctx, filter, 10)
	if err != nil {
		h.logger.Error("Recent prices lookup failed", zap.Error(err))
		h.sendError(c, protocol.EventError, "Failed to load recent prices")
		return
	}
	if recent == nil {
		recent = []models.PriceEntry{}
	}
	c.SendJSON(protocol.Response{Event: protocol.EventRecentPrices, Data: recent})
}

func (h *Hub) handleUnsubscribe(c Conn, req protocol.Request) {
	filter, err := protocol.DecodeFilter(req.Data)
	if err != nil {
		h.sendError(c, protocol.EventError, err.Error())
		return
	}

	h.mu.Lock()
	for _, g := range GroupsForFilter(filter) {
		h.registry.Leave(c, g)
	}
	h.mu.Unlock()
}

func (h *Hub) handleNewPrice(ctx context.Context, c Conn, req protocol.Request) {
	payload, err := protocol.DecodeNewPrice(req.Data)
	if err != nil {
		h.sendError(c, protocol.EventPriceEntryError, err.Error())
		return
	}

	entry, err := h.SubmitPrice(ctx, payload)
	if err != nil {
		h.sendError(c, protocol.EventPriceEntryError, err.Error())
		return
	}
	c.SendJSON(protocol.Response{Event: protocol.EventPriceEntryCreated, Data: entry})
}

// SubmitPrice validates the submission's foreign keys, persists a new entry
// and fans it out to every session in a matching group, de-duplicated per
// session. Also the entry point for the Kafka ingest bridge.
func (h *Hub) SubmitPrice(ctx context.Context, p protocol.NewPricePayload) (models.PriceEntry, error) {
	if err := p.Validate(); err != nil {
		return models.PriceEntry{}, err
	}

	// Four independent existence checks, issued concurrently. The first
	// missing kind in product, market, vendor, user order wins.
	var (
		product models.ProductRef
		market  models.MarketRef
		vendor  models.VendorRef
		user    models.UserRef

		productErr, marketErr, vendorErr, userErr error
	)

	var g errgroup.Group
	g.Go(func() error { product, productErr = h.store.GetProduct(ctx, p.ProductID); return nil })
	g.Go(func() error { market, marketErr = h.store.GetMarket(ctx, p.MarketID); return nil })
	g.Go(func() error { vendor, vendorErr = h.store.GetVendor(ctx, p.VendorID); return nil })
	g.Go(func() error { user, userErr = h.store.GetUser(ctx, p.UserID); return nil })
	_ = g.Wait()

	for _, err := range []error{productErr, marketErr, vendorErr, userErr} {
		if err != nil {
			return models.PriceEntry{}, err
		}
	}

	entry := models.PriceEntry{
		ID:        h.newID(),
		ProductID: p.ProductID,
		MarketID:  p.MarketID,
		VendorID:  p.VendorID,
		UserID:    p.UserID,
		Price:     p.Price,
		Currency:  p.Currency,
		Notes:     p.Notes,
		Date:      h.now().UTC(),
		Product:   product,
		Market:    market,
		Vendor:    vendor,
		User:      user,
	}

	// submitMu pairs the write with its fan-out so per-group delivery order
	// matches persistence order. Registry operations stay unblocked.
	h.submitMu.Lock()
	defer h.submitMu.Unlock()

	if err := h.store.CreatePriceEntry(ctx, entry); err != nil {
		return models.PriceEntry{}, err
	}

	if h.cache != nil {
		if err := h.cache.Store(ctx, entry); err != nil {
			h.logger.Warn("Snapshot cache write failed", zap.Error(err))
		}
	}

	h.broadcast(entry)
	return entry, nil
}

// broadcast pushes one price-update per member of the entry's market,
// product and vendor groups, then fires matching alerts. Runs under the read
// lock so no session can be torn down mid-push.
func (h *Hub) broadcast(e models.PriceEntry) {
	payload, err := json.Marshal(protocol.Response{Event: protocol.EventPriceUpdate, Data: e})
	if err != nil {
		h.logger.Error("Broadcast marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.registry.Members(GroupsForEntry(e)...)
	for _, c := range targets {
		c.SendBytes(payload)
	}

	for _, m := range h.alerts.Matches(e) {
		m.Conn.SendJSON(protocol.Response{
			Event: protocol.EventPriceAlert,
			Data:  AlertNotification{Alert: m.Alert, Entry: e},
		})
	}

	h.logger.Debug("Price entry broadcast",
		zap.String("entry", e.ID), zap.Int("targets", len(targets)))
}

func (h *Hub) handleMarketSummary(ctx context.Context, c Conn, req protocol.Request) {
	id, err := protocol.DecodeID(req.Data, "marketId")
	if err != nil {
		h.sendError(c, protocol.EventMarketSummaryError, err.Error())
		return
	}

	summary, err := h.aggregator.MarketSummary(ctx, id)
	if err != nil {
		h.logger.Error("Market summary failed", zap.String("market", id), zap.Error(err))
		h.sendError(c, protocol.EventMarketSummaryError, "Failed to generate market summary")
		return
	}
	c.SendJSON(protocol.Response{Event: protocol.EventMarketSummary, Data: summary})
}

func (h *Hub) handleProductSummary(ctx context.Context, c Conn, req protocol.Request) {
	id, err := protocol.DecodeID(req.Data, "productId")
	if err != nil {
		h.sendError(c, protocol.EventProductSummaryError, err.Error())
		return
	}

	summary, err := h.aggregator.ProductSummary(ctx, id)
	if err != nil {
		h.logger.Error("Product summary failed", zap.String("product", id), zap.Error(err))
		h.sendError(c, protocol.EventProductSummaryError, "Failed to generate product summary")
		return
	}
	c.SendJSON(protocol.Response{Event: protocol.EventProductSummary, Data: summary})
}

// AlertSetPayload acknowledges a registered alert.
type AlertSetPayload struct {
	models.PriceAlert
	Message string `json:"message"`
}

func (h *Hub) handleSetAlert(c Conn, req protocol.Request) {
	payload, err := protocol.DecodeSetAlert(req.Data)
	if err != nil {
		h.sendError(c, protocol.EventError, err.Error())
		return
	}

	alert := models.PriceAlert{
		ProductID:   payload.ProductID,
		MarketID:    payload.MarketID,
		TargetPrice: payload.TargetPrice,
		Condition:   payload.Condition,
	}

	h.mu.Lock()
	h.alerts.Set(c, alert)
	h.mu.Unlock()

	c.SendJSON(protocol.Response{Event: protocol.EventPriceAlertSet, Data: AlertSetPayload{
		PriceAlert: alert,
		Message:    "Price alert set for " + alert.Condition + " " + alert.TargetPrice.String(),
	}})
}

func (h *Hub) handleAnalysis(ctx context.Context, c Conn, req protocol.Request) {
	if h.predictor == nil {
		h.sendError(c, protocol.EventPriceAnalysisError, "Price analysis is not available")
		return
	}

	payload, err := protocol.DecodeAnalysis(req.Data)
	if err != nil {
		h.sendError(c, protocol.EventPriceAnalysisError, err.Error())
		return
	}

	prediction, err := h.predictor.Predict(ctx, payload.ProductID, payload.MarketID, payload.PredictionDays)
	if err != nil {
		h.logger.Error("Price analysis failed",
			zap.String("product", payload.ProductID), zap.String("market", payload.MarketID), zap.Error(err))
		h.sendError(c, protocol.EventPriceAnalysisError, err.Error())
		return
	}
	c.SendJSON(protocol.Response{Event: protocol.EventPriceAnalysis, Data: prediction})
}

func (h *Hub) sendError(c Conn, event, msg string) {
	c.SendJSON(protocol.Response{Event: event, Data: protocol.ErrorPayload{Error: msg}})
}
