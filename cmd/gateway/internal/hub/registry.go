package hub

import (
	"github.com/dzmarkets/pricewire/pkg/models"
)

// Group kinds.
const (
	GroupMarket  = "market"
	GroupProduct = "product"
	GroupVendor  = "vendor"
)

// Group is an interest group keyed by entity kind + id. A group exists iff
// its member set is non-empty; the maps below are pruned on last leave.
type Group struct {
	Kind string
	ID   string
}

func (g Group) String() string { return g.Kind + ":" + g.ID }

func MarketGroup(id string) Group  { return Group{Kind: GroupMarket, ID: id} }
func ProductGroup(id string) Group { return Group{Kind: GroupProduct, ID: id} }
func VendorGroup(id string) Group  { return Group{Kind: GroupVendor, ID: id} }

// GroupsForFilter maps the non-empty filter fields to their groups:
// zero, one, two, or three of them.
func GroupsForFilter(f models.SubscriptionFilter) []Group {
	var groups []Group
	if f.MarketID != "" {
		groups = append(groups, MarketGroup(f.MarketID))
	}
	if f.ProductID != "" {
		groups = append(groups, ProductGroup(f.ProductID))
	}
	if f.VendorID != "" {
		groups = append(groups, VendorGroup(f.VendorID))
	}
	return groups
}

// GroupsForEntry are the three groups an entry fans out to.
func GroupsForEntry(e models.PriceEntry) []Group {
	return []Group{
		MarketGroup(e.MarketID),
		ProductGroup(e.ProductID),
		VendorGroup(e.VendorID),
	}
}

// Registry is the bidirectional group membership mapping. It carries no lock
// of its own: the Hub serializes every access under its single mutex, which
// is what keeps fan-out snapshots consistent with disconnects.
type Registry struct {
	members map[Group]map[Conn]bool
	joined  map[Conn]map[Group]bool
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[Group]map[Conn]bool),
		joined:  make(map[Conn]map[Group]bool),
	}
}

// Join adds the connection to the group. Idempotent; reports whether the
// membership is new.
func (r *Registry) Join(c Conn, g Group) bool {
	if r.joined[c][g] {
		return false
	}
	if r.joined[c] == nil {
		r.joined[c] = make(map[Group]bool)
	}
	r.joined[c][g] = true

	if r.members[g] == nil {
		r.members[g] = make(map[Conn]bool)
	}
	r.members[g][c] = true
	return true
}

// Leave removes the connection from the group. Leaving a group never joined
// is a no-op.
func (r *Registry) Leave(c Conn, g Group) {
	if !r.joined[c][g] {
		return
	}
	delete(r.joined[c], g)
	if len(r.joined[c]) == 0 {
		delete(r.joined, c)
	}

	delete(r.members[g], c)
	if len(r.members[g]) == 0 {
		delete(r.members, g)
	}
}

// RemoveAll drops the connection from every group it joined.
func (r *Registry) RemoveAll(c Conn) {
	for g := range r.joined[c] {
		delete(r.members[g], c)
		if len(r.members[g]) == 0 {
			delete(r.members, g)
		}
	}
	delete(r.joined, c)
}

// Members returns the connections joined to any of the groups, de-duplicated
// so a connection in several matching groups appears once.
func (r *Registry) Members(groups ...Group) []Conn {
	seen := make(map[Conn]bool)
	var conns []Conn
	for _, g := range groups {
		for c := range r.members[g] {
			if !seen[c] {
				seen[c] = true
				conns = append(conns, c)
			}
		}
	}
	return conns
}

// Groups returns the groups the connection currently belongs to.
func (r *Registry) Groups(c Conn) []Group {
	var groups []Group
	for g := range r.joined[c] {
		groups = append(groups, g)
	}
	return groups
}

// Size returns the member count of a group (0 means the group does not exist).
func (r *Registry) Size(g Group) int {
	return len(r.members[g])
}
