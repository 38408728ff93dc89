package engine

import (
	"sync"
)

// pendingDelivery is a broker delivery waiting on subscriber reachability,
// drained by the MQTT processing step once the subscriber is connected.
type pendingDelivery struct {
	subID int
	msg   MqttMessage
	qos   int
}

// Config bundles every tunable the Store needs, resolved from
// internal/config.Config by the caller (cmd/simnetd) so this package stays
// free of YAML concerns.
type Config struct {
	TickStepS        float64
	MAC              MACConfig
	RouteAdIntervalS float64
	MQTTIntervalS    float64
	AckTimeoutS      float64
	MaxRetries       int
	KeepAliveS       float64
	DisconnectMult   float64
	MaxReconnects    int
	PublisherAcks    bool
	Bounds           Bounds
	PHY              map[string]PHYProfile
}

// Store is the sole owner of all simulation state. It is a value the
// application constructs and owns, not a package-level singleton. Every
// exported method is safe to call concurrently: each one locks the Store
// for the duration of a single atomic operation, so no caller ever observes
// a partially advanced tick.
type Store struct {
	mu sync.Mutex

	cfg      Config
	registry *Registry
	physical *Physical
	mobility map[int]Mobility
	mac      *MAC
	network  *NetworkLayer
	brokers  map[int]*Broker
	clients  map[int]*Client

	pendingDeliveries []pendingDelivery
	pendingPubAcks    []pendingPubAck

	running   bool
	now       float64
	nextSeq   int64
	nextMsgID int64
	accum     float64
	mqttAccum float64

	onEvent func(string) // optional logging hook, see cmd/simnetd
	bridge  *Bridge
}

// SetBridge installs the optional mirror bridge (see bridge.go). Passing
// nil disables mirroring.
func (s *Store) SetBridge(b *Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge = b
}

type pendingPubAck struct {
	pubID    int
	brokerID int
	msgID    int64
	want     map[int]struct{} // subscriber IDs whose ack is still outstanding
}

// NewStore builds an empty, paused Store from cfg.
func NewStore(cfg Config) *Store {
	s := &Store{
		cfg:       cfg,
		registry:  NewRegistry(),
		physical:  NewPhysical(cfg.PHY),
		mobility:  make(map[int]Mobility),
		network:   NewNetworkLayer(cfg.RouteAdIntervalS),
		brokers:   make(map[int]*Broker),
		clients:   make(map[int]*Client),
		nextSeq:   1,
		nextMsgID: 1,
	}
	s.mac = NewMAC(cfg.MAC, s.checkRangeLocked, s.forwardPacketLocked)
	return s
}

// OnEvent installs a hook invoked synchronously, with the Store's lock held,
// with a short event tag whenever something log-worthy happens (reconnects,
// disconnects, retransmissions). cmd/simnetd uses this to drive its tagged
// log lines.
func (s *Store) OnEvent(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

func (s *Store) emit(tag string) {
	if s.onEvent != nil {
		s.onEvent(tag)
	}
}

// --- Control ---

func (s *Store) Start() { s.mu.Lock(); s.running = true; s.mu.Unlock() }
func (s *Store) Pause() { s.mu.Lock(); s.running = false; s.mu.Unlock() }

func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reset discards all nodes, packets, and tables and restores now = 0.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.Reset()
	s.mobility = make(map[int]Mobility)
	s.mac = NewMAC(s.cfg.MAC, s.checkRangeLocked, s.forwardPacketLocked)
	s.network = NewNetworkLayer(s.cfg.RouteAdIntervalS)
	s.brokers = make(map[int]*Broker)
	s.clients = make(map[int]*Client)
	s.pendingDeliveries = nil
	s.pendingPubAcks = nil
	s.running = false
	s.now = 0
	s.nextSeq = 1
	s.nextMsgID = 1
	s.accum = 0
	s.mqttAccum = 0
}

// --- Nodes ---

// MobilityKind selects which mobility model a mobile node uses.
type MobilityKind string

const (
	MobilityNone     MobilityKind = ""
	MobilityWaypoint MobilityKind = "waypoint"
	MobilityGrid     MobilityKind = "grid"
)

// AddNode creates a node and its per-layer state (MAC queue, routing table,
// optional MQTT broker/client, optional mobility model) and returns its ID.
// A mobile node defaults to the Random Waypoint model; use
// AddNodeWithMobility to request Grid mobility instead.
func (s *Store) AddNode(role Role, phy PHYKind, x, y float64, mobile bool, speed, sleepRatio float64) int {
	kind := MobilityNone
	if mobile {
		kind = MobilityWaypoint
	}
	return s.AddNodeWithMobility(role, phy, x, y, kind, speed, sleepRatio)
}

// AddNodeWithMobility is AddNode generalized to pick between the Random
// Waypoint (bounded around spawn center) and Grid models, each seeded
// deterministically from the node's own ID.
func (s *Store) AddNodeWithMobility(role Role, phy PHYKind, x, y float64, kind MobilityKind, speed, sleepRatio float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.registry.Add(role, phy, x, y, kind != MobilityNone, speed, sleepRatio)
	s.mac.AddNode(id)
	s.network.InitNode(id)

	switch role {
	case RoleBroker:
		s.brokers[id] = NewBroker(id)
	case RolePublisher, RoleSubscriber:
		s.clients[id] = NewClient(id, role)
	}

	if speed > 0 {
		switch kind {
		case MobilityWaypoint:
			s.mobility[id] = NewRandomWaypoint(id, speed, 2.0, 70.0, x, y)
		case MobilityGrid:
			s.mobility[id] = NewGrid(id, speed, 20.0)
		}
	}
	return id
}

// RemoveNode deletes a node and purges routing entries that went through it.
func (s *Store) RemoveNode(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.Remove(id)
	s.mac.RemoveNode(id)
	s.network.RemoveNode(id)
	delete(s.brokers, id)
	delete(s.clients, id)
	delete(s.mobility, id)
}

// NodeView is the read-only projection of a Node exposed to callers.
type NodeView struct {
	ID         int
	Role       Role
	PHY        PHYKind
	X, Y       float64
	Energy     float64
	Awake      bool
	SleepRatio float64
	IsBroker   bool
}

// ListNodes returns every node in registration order.
func (s *Store) ListNodes() []NodeView {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.registry.All()
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeView{
			ID: n.ID, Role: n.Role, PHY: n.PHY, X: n.Pos.X, Y: n.Pos.Y,
			Energy: n.Energy, Awake: n.Awake, SleepRatio: n.SleepRatio, IsBroker: n.IsBroker,
		})
	}
	return out
}

// RelocateBroker moves a broker to (x, y) and immediately re-evaluates every
// client's reachability, triggering the same connect/disconnect bookkeeping
// as organic movement would.
func (s *Store) RelocateBroker(brokerID int, x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.registry.Get(brokerID)
	if n == nil || !n.IsBroker {
		return
	}
	n.Pos = Position{X: x, Y: y}
	for clientID, client := range s.clients {
		if s.checkRangeLocked(brokerID, clientID) {
			if !client.Connected && client.ReconnectAttempts < s.cfg.MaxReconnects {
				client.Connected = true
				client.ReconnectAttempts++
				client.Stats.Reconnects++
				s.emit("reconnect")
			}
		} else if client.Connected {
			client.Connected = false
			client.Stats.Disconnects++
			s.emit("disconnect")
		}
	}
}

// --- Traffic ---

// Enqueue validates src/dst/PHY/reachability and injects n packets with
// strictly increasing sequence numbers, returning how many were accepted.
func (s *Store) Enqueue(srcID, dstID, n, size int, kind PHYKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.registry.Get(srcID)
	dst := s.registry.Get(dstID)
	if src == nil || dst == nil {
		return 0
	}
	if src.PHY != kind {
		return 0
	}

	nextHop, ok := s.network.GetNextHop(srcID, dstID)
	if !ok {
		nextHop = dstID
	}
	if !s.checkRangeLocked(srcID, nextHop) {
		return 0
	}

	accepted := 0
	for i := 0; i < n; i++ {
		pkt := Packet{
			OrigSrcID: srcID,
			SrcID:     srcID,
			DstID:     dstID,
			NextHopID: nextHop,
			SizeBytes: size,
			Kind:      kind,
			Seq:       s.nextSeq,
			TCreated:  s.now,
		}
		s.nextSeq++
		if s.mac.Enqueue(pkt) {
			accepted++
		}
	}
	return accepted
}

// --- Routing ---

// RoutingTableView is one node's routing table as {dest -> (nextHop, metric)}.
type RoutingTableView struct {
	NodeID int
	Routes []RouteEntry
}

func (s *Store) GetRoutingTable(nodeID int) RoutingTableView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RoutingTableView{NodeID: nodeID, Routes: s.network.Routes(nodeID)}
}

func (s *Store) GetAllRoutingTables() []RoutingTableView {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := s.registry.All()
	out := make([]RoutingTableView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, RoutingTableView{NodeID: n.ID, Routes: s.network.Routes(n.ID)})
	}
	return out
}

// --- MQTT ---

// firstBrokerID returns the active broker's ID. One broker is assumed; with
// more than one, the earliest-registered wins, which is deterministic
// within a run since registration order never changes.
func (s *Store) firstBrokerID() (int, bool) {
	for _, n := range s.registry.All() {
		if n.IsBroker {
			if _, ok := s.brokers[n.ID]; ok {
				return n.ID, true
			}
		}
	}
	return 0, false
}

// Subscribe subscribes clientID to topic at qos, delivering any retained
// message for that topic immediately (queued for the next MQTT processing
// step, same as any other delivery).
func (s *Store) Subscribe(clientID int, topic string, qos int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[clientID]
	if !ok {
		return false
	}
	brokerID, ok := s.firstBrokerID()
	if !ok {
		return false
	}
	client.Subscribe(topic, qos)
	retained := s.brokers[brokerID].Subscribe(clientID, topic, qos)
	for _, msg := range retained {
		effQoS := msg.QoS
		if qos < effQoS {
			effQoS = qos
		}
		s.pendingDeliveries = append(s.pendingDeliveries, pendingDelivery{subID: clientID, msg: msg, qos: effQoS})
	}
	return true
}

// Publish publishes a message from publisherID and returns its assigned
// message ID, or (0, false) if the publisher doesn't exist or there is no
// broker.
func (s *Store) Publish(publisherID int, topic string, payload []byte, qos int, retained bool) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[publisherID]
	if !ok {
		return 0, false
	}
	brokerID, ok := s.firstBrokerID()
	if !ok {
		return 0, false
	}

	msgID := s.nextMsgID
	s.nextMsgID++
	msg := client.Publish(topic, payload, qos, retained, msgID, s.now)
	broker := s.brokers[brokerID]
	deliveries := broker.Publish(msg)

	if s.cfg.PublisherAcks && qos == 1 {
		want := make(map[int]struct{}, len(deliveries))
		for _, d := range deliveries {
			if d.EffectiveQoS == 1 {
				want[d.SubID] = struct{}{}
			}
		}
		s.pendingPubAcks = append(s.pendingPubAcks, pendingPubAck{pubID: publisherID, brokerID: brokerID, msgID: msgID, want: want})
	}

	for _, d := range deliveries {
		s.pendingDeliveries = append(s.pendingDeliveries, pendingDelivery{subID: d.SubID, msg: d.Message, qos: d.EffectiveQoS})
	}

	if s.bridge != nil {
		s.bridge.Mirror(topic, payload, qos, retained)
	}
	return msgID, true
}

// MqttStatsView is the externally visible MQTT stats snapshot.
type MqttStatsView struct {
	Brokers map[int]BrokerStats
	Clients map[int]ClientStats
}

func (s *Store) MqttStats() MqttStatsView {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := MqttStatsView{Brokers: make(map[int]BrokerStats), Clients: make(map[int]ClientStats)}
	for id, b := range s.brokers {
		view.Brokers[id] = b.Stats
	}
	for id, c := range s.clients {
		view.Clients[id] = c.Stats
	}
	return view
}

// MqttReset clears every broker's subscriptions/retained/acks/stats and
// every client's subscriptions/dedup state/stats, without touching nodes,
// MAC, or routing.
func (s *Store) MqttReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.brokers {
		s.brokers[id] = NewBroker(b.ID)
	}
	for id, c := range s.clients {
		s.clients[id] = NewClient(c.ID, c.Role)
	}
	s.pendingDeliveries = nil
	s.pendingPubAcks = nil
}

// TopicCounts returns a snapshot of per-topic message counts, aggregated
// across every broker.
func (s *Store) TopicCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for id := range s.brokers {
		for topic, n := range s.brokers[id].TopicCounts {
			out[topic] += n
		}
	}
	return out
}

// --- Metrics ---

// MetricsView is the externally visible metrics snapshot.
type MetricsView struct {
	Now          float64
	PDR          float64
	AvgLatencyMs float64
	Delivered    int64
	Duplicates   int64
}

func (s *Store) Metrics() MetricsView {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mac.Metrics
	return MetricsView{
		Now:          s.now,
		PDR:          m.PDR,
		AvgLatencyMs: m.AvgRTTMs(),
		Delivered:    m.DequeuedOK,
		Duplicates:   m.Duplicates,
	}
}

// MACMetrics exposes the raw MAC counters for Prometheus wiring.
func (s *Store) MACMetrics() MACMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mac.Metrics
}

// --- capabilities handed to the MAC/network layers ---

// checkRangeLocked must only be called with s.mu held.
func (s *Store) checkRangeLocked(srcID, dstID int) bool {
	src := s.registry.Get(srcID)
	dst := s.registry.Get(dstID)
	if src == nil || dst == nil {
		return false
	}
	return s.physical.InRange(src, dst)
}

// forwardPacketLocked re-enqueues an intermediate-hop packet toward its next
// hop, preserving OrigSrcID so end-to-end dedup survives forwarding. Must
// only be called with s.mu held (it is, since the MAC invokes it
// synchronously from within Tick, itself called under lock).
func (s *Store) forwardPacketLocked(pkt Packet) {
	currentHop := pkt.NextHopID
	finalDest := pkt.DstID

	nextHop, ok := s.network.GetNextHop(currentHop, finalDest)
	if !ok {
		return
	}
	if !s.checkRangeLocked(currentHop, nextHop) {
		return
	}

	forwarded := Packet{
		OrigSrcID: pkt.OrigSrcID,
		SrcID:     currentHop,
		DstID:     finalDest,
		NextHopID: nextHop,
		SizeBytes: pkt.SizeBytes,
		Kind:      pkt.Kind,
		Seq:       pkt.Seq,
		TCreated:  pkt.TCreated,
	}
	s.mac.Enqueue(forwarded)
}

// neighborsLocked returns the set of node IDs within range of id. Must only
// be called with s.mu held.
func (s *Store) neighborsLocked(id int) map[int]struct{} {
	node := s.registry.Get(id)
	out := make(map[int]struct{})
	if node == nil {
		return out
	}
	for _, other := range s.registry.All() {
		if other.ID != id && s.physical.InRange(node, other) {
			out[other.ID] = struct{}{}
		}
	}
	return out
}

// --- The scheduler calls this once per fixed tick ---

// Step advances the simulation by dt: mobility, physical/energy, route
// advertisements (if due), MAC slots (draining accumulated time), and MQTT
// processing (draining its own accumulator), in that order. It is a no-op
// if the Store is paused.
func (s *Store) Step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stepLocked(dt)
}

func (s *Store) stepLocked(dt float64) {
	for id, model := range s.mobility {
		n := s.registry.Get(id)
		if n == nil {
			continue
		}
		n.Pos = model.Advance(n.Pos, dt, s.cfg.Bounds)
	}

	s.now += dt
	for _, n := range s.registry.All() {
		s.physical.EnergyTick(n, dt, s.now)
	}

	if s.network.ShouldSendAd(s.now) {
		for _, n := range s.registry.All() {
			ad := s.network.GenerateAdvertisement(n.ID)
			neighbors := s.neighborsLocked(n.ID)
			for neighborID := range neighbors {
				receiverNeighbors := s.neighborsLocked(neighborID)
				s.network.ProcessAdvertisement(ad, neighborID, receiverNeighbors)
			}
		}
	}

	slotS := s.cfg.MAC.SlotMs / 1000.0
	s.accum += dt
	for s.accum >= slotS {
		s.mac.Tick()
		s.accum -= slotS
	}

	s.mqttAccum += dt
	if s.mqttAccum >= s.cfg.MQTTIntervalS {
		s.processMQTTLocked()
		s.mqttAccum = 0
	}
}

// processMQTTLocked is the periodic MQTT step: keep-alive checks,
// reachability-driven connect/disconnect, deferred-delivery drain, and
// bounded QoS-1 retransmission, in that order. Retransmission runs after
// the drain so a fresh delivery is never retransmitted in the same step.
func (s *Store) processMQTTLocked() {
	now := s.now

	for _, client := range s.clients {
		client.CheckKeepAlive(now, s.cfg.KeepAliveS, s.cfg.DisconnectMult)
	}

	if brokerID, ok := s.firstBrokerID(); ok {
		for clientID, client := range s.clients {
			inRange := s.checkRangeLocked(brokerID, clientID)
			switch {
			case inRange && !client.Connected:
				if client.ReconnectAttempts < s.cfg.MaxReconnects {
					client.Connected = true
					client.ReconnectAttempts++
					client.Stats.Reconnects++
					s.emit("reconnect")
				}
			case !inRange && client.Connected:
				client.Connected = false
				client.Stats.Disconnects++
				s.emit("disconnect")
			}
		}
	}

	remaining := s.pendingDeliveries[:0]
	for _, pd := range s.pendingDeliveries {
		client, ok := s.clients[pd.subID]
		if !ok {
			continue
		}
		if !client.Connected {
			remaining = append(remaining, pd)
			continue
		}
		msgID, needsAck := client.Receive(pd.msg, pd.qos, now)
		if brokerID, ok := s.firstBrokerID(); ok {
			s.brokers[brokerID].Stats.MessagesDelivered++
			if needsAck {
				s.brokers[brokerID].ReceiveAck(msgID, pd.subID)
				s.notePubAckLocked(brokerID, msgID, pd.subID)
			}
		}
	}
	s.pendingDeliveries = remaining

	for _, broker := range s.brokers {
		retx := broker.CheckRetransmissions(now, s.cfg.AckTimeoutS, s.cfg.MaxRetries)
		for _, d := range retx {
			s.emit("retransmit")
			s.pendingDeliveries = append(s.pendingDeliveries, pendingDelivery{subID: d.SubID, msg: d.Message, qos: d.EffectiveQoS})
		}
	}

	if s.cfg.PublisherAcks {
		s.drainPubAcksLocked()
	}
}

// notePubAckLocked records that subscriber subID acked msgID, for the
// optional publisher-ack feature.
func (s *Store) notePubAckLocked(brokerID int, msgID int64, subID int) {
	if !s.cfg.PublisherAcks {
		return
	}
	for i := range s.pendingPubAcks {
		p := &s.pendingPubAcks[i]
		if p.brokerID == brokerID && p.msgID == msgID {
			delete(p.want, subID)
		}
	}
}

// drainPubAcksLocked delivers a publisher-side ack once every expected
// subscriber ack for that message has arrived. Off by default.
func (s *Store) drainPubAcksLocked() {
	remaining := s.pendingPubAcks[:0]
	for _, p := range s.pendingPubAcks {
		if len(p.want) > 0 {
			remaining = append(remaining, p)
			continue
		}
		if client, ok := s.clients[p.pubID]; ok {
			client.Stats.AcksReceived++
		}
	}
	s.pendingPubAcks = remaining
}
