package hub

import (
	"github.com/dzmarkets/pricewire/pkg/models"
)

// alertKey identifies one alert slot per session. Setting an alert with the
// same product+market+condition replaces the previous one; distinct keys
// coexist.
type alertKey struct {
	productID string
	marketID  string
	condition string
}

// AlertMatch pairs a triggered alert with its owning connection.
type AlertMatch struct {
	Conn  Conn
	Alert models.PriceAlert
}

// AlertWatcher holds per-connection price thresholds. In-memory only, never
// persisted; alerts stay armed after firing (repeat-fire) and vanish with the
// session. Like the Registry it relies on the Hub's mutex for exclusion.
type AlertWatcher struct {
	byConn map[Conn]map[alertKey]models.PriceAlert
}

func NewAlertWatcher() *AlertWatcher {
	return &AlertWatcher{byConn: make(map[Conn]map[alertKey]models.PriceAlert)}
}

// Set registers the alert; reports whether it replaced an existing one.
// Registration always succeeds: no existence validation of product/market.
func (w *AlertWatcher) Set(c Conn, a models.PriceAlert) bool {
	key := alertKey{productID: a.ProductID, marketID: a.MarketID, condition: a.Condition}
	if w.byConn[c] == nil {
		w.byConn[c] = make(map[alertKey]models.PriceAlert)
	}
	_, replaced := w.byConn[c][key]
	w.byConn[c][key] = a
	return replaced
}

// RemoveAll discards the connection's alerts.
func (w *AlertWatcher) RemoveAll(c Conn) {
	delete(w.byConn, c)
}

// Count returns the number of alerts a connection holds.
func (w *AlertWatcher) Count(c Conn) int {
	return len(w.byConn[c])
}

// Matches returns every alert triggered by the entry across all sessions.
func (w *AlertWatcher) Matches(e models.PriceEntry) []AlertMatch {
	var matches []AlertMatch
	for c, alerts := range w.byConn {
		for _, a := range alerts {
			if a.Triggers(e) {
				matches = append(matches, AlertMatch{Conn: c, Alert: a})
			}
		}
	}
	return matches
}
