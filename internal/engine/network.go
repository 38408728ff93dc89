package engine

// RouteEntry is a single routing-table row: how to reach Dest, at what cost,
// and how fresh the information is.
type RouteEntry struct {
	Dest    int
	NextHop int
	Metric  int
	Seq     int64
}

// RouteAdvertisement is what a node periodically broadcasts: its known
// dest->metric pairs, tagged with a freshness sequence number.
type RouteAdvertisement struct {
	Src    int
	Seq    int64
	Routes map[int]int // dest -> metric
}

// routingTable is one node's view of the network: dest -> best known route.
type routingTable struct {
	routes map[int]RouteEntry
}

func newRoutingTable() *routingTable {
	return &routingTable{routes: make(map[int]RouteEntry)}
}

func (t *routingTable) nextHop(dest int) (int, bool) {
	e, ok := t.routes[dest]
	if !ok {
		return 0, false
	}
	return e.NextHop, true
}

// update installs (dest, nextHop, metric, seq) iff it is fresher, or
// equally fresh and strictly cheaper, than the existing entry. Returns true
// if the table changed.
func (t *routingTable) update(dest, nextHop, metric int, seq int64) bool {
	existing, ok := t.routes[dest]
	if !ok {
		t.routes[dest] = RouteEntry{Dest: dest, NextHop: nextHop, Metric: metric, Seq: seq}
		return true
	}
	if seq > existing.Seq {
		t.routes[dest] = RouteEntry{Dest: dest, NextHop: nextHop, Metric: metric, Seq: seq}
		return true
	}
	if seq == existing.Seq && metric < existing.Metric {
		t.routes[dest] = RouteEntry{Dest: dest, NextHop: nextHop, Metric: metric, Seq: seq}
		return true
	}
	return false
}

// NetworkLayer is the distance-vector routing overlay: periodic
// advertisements, next-hop lookup, and removal cleanup.
type NetworkLayer struct {
	tables     map[int]*routingTable
	seqCounter map[int]int64
	adInterval float64
	lastAd     float64
}

// NewNetworkLayer builds a network layer that advertises every adInterval
// simulated seconds.
func NewNetworkLayer(adInterval float64) *NetworkLayer {
	return &NetworkLayer{
		tables:     make(map[int]*routingTable),
		seqCounter: make(map[int]int64),
		adInterval: adInterval,
	}
}

// InitNode gives a node an empty routing table and sequence counter.
func (n *NetworkLayer) InitNode(id int) {
	if _, ok := n.tables[id]; !ok {
		n.tables[id] = newRoutingTable()
		n.seqCounter[id] = 0
	}
}

// RemoveNode drops a node's own table and purges every route elsewhere that
// routes through it.
func (n *NetworkLayer) RemoveNode(id int) {
	delete(n.tables, id)
	delete(n.seqCounter, id)
	for _, table := range n.tables {
		for dest, e := range table.routes {
			if e.NextHop == id {
				delete(table.routes, dest)
			}
		}
	}
}

// GetNextHop returns the next hop from src toward dest, or (0, false) if no
// route is known.
func (n *NetworkLayer) GetNextHop(src, dest int) (int, bool) {
	table, ok := n.tables[src]
	if !ok {
		return 0, false
	}
	return table.nextHop(dest)
}

// ShouldSendAd reports whether the periodic advertisement deadline has been
// reached at simulated time now, and if so resets the deadline.
func (n *NetworkLayer) ShouldSendAd(now float64) bool {
	if now-n.lastAd >= n.adInterval {
		n.lastAd = now
		return true
	}
	return false
}

// GenerateAdvertisement builds the advertisement a node broadcasts this
// round: all its known (dest, metric) pairs under a freshly incremented
// sequence number.
func (n *NetworkLayer) GenerateAdvertisement(id int) RouteAdvertisement {
	table, ok := n.tables[id]
	if !ok {
		return RouteAdvertisement{Src: id, Routes: map[int]int{}}
	}
	n.seqCounter[id]++
	routes := make(map[int]int, len(table.routes))
	for dest, e := range table.routes {
		routes[dest] = e.Metric
	}
	return RouteAdvertisement{Src: id, Seq: n.seqCounter[id], Routes: routes}
}

// ProcessAdvertisement applies an advertisement at receiverID, but only if
// the advertiser is currently a physical neighbor of the receiver. It
// installs a direct (metric 1) route to the advertiser, then one route per
// advertised (dest, metric), each one hop further. Returns true if anything
// changed.
func (n *NetworkLayer) ProcessAdvertisement(ad RouteAdvertisement, receiverID int, neighbors map[int]struct{}) bool {
	table, ok := n.tables[receiverID]
	if !ok {
		return false
	}
	if _, isNeighbor := neighbors[ad.Src]; !isNeighbor {
		return false
	}

	changed := false
	if table.update(ad.Src, ad.Src, 1, ad.Seq) {
		changed = true
	}
	for dest, metric := range ad.Routes {
		if dest == receiverID {
			continue
		}
		if table.update(dest, ad.Src, metric+1, ad.Seq) {
			changed = true
		}
	}
	return changed
}

// Routes returns a snapshot of node id's routing table as RouteEntry values.
func (n *NetworkLayer) Routes(id int) []RouteEntry {
	table, ok := n.tables[id]
	if !ok {
		return nil
	}
	out := make([]RouteEntry, 0, len(table.routes))
	for _, e := range table.routes {
		out = append(out, e)
	}
	return out
}
