package engine

import "math/rand"

// MACConfig holds the slotted-CSMA/CA tunables.
type MACConfig struct {
	SlotMs          float64
	QueueCapacity   int
	CWMin           int
	CWMax           int
	RetryLimit      int
	BaseLossProb    float64
	CollisionLosses bool
	Seed            int64
}

// txQueue is a bounded FIFO of packets awaiting transmission.
type txQueue struct {
	capacity int
	items    []Packet
	drops    int64
}

func newTxQueue(capacity int) *txQueue {
	return &txQueue{capacity: capacity}
}

func (q *txQueue) enqueue(p Packet) bool {
	if len(q.items) >= q.capacity {
		q.drops++
		return false
	}
	q.items = append(q.items, p)
	return true
}

func (q *txQueue) peek() (Packet, bool) {
	if len(q.items) == 0 {
		return Packet{}, false
	}
	return q.items[0], true
}

func (q *txQueue) pop() {
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
}

// channel is the shared single-slot medium: a map of node ID to the packet
// it's transmitting this slot. It is cleared at the start of every slot.
type channel struct {
	tx map[int]Packet
}

func newChannel() *channel { return &channel{tx: make(map[int]Packet)} }

func (c *channel) clear() { c.tx = make(map[int]Packet) }
func (c *channel) busy() bool { return len(c.tx) > 0 }
func (c *channel) startTx(nodeID int, p Packet) { c.tx[nodeID] = p }

// endSlot reports whether two or more nodes transmitted this slot and
// returns the set of node IDs that did.
func (c *channel) endSlot() (collision bool, nodes []int) {
	nodes = make([]int, 0, len(c.tx))
	for id := range c.tx {
		nodes = append(nodes, id)
	}
	collision = len(nodes) > 1
	c.clear()
	return collision, nodes
}

// nodeMAC is per-node CSMA/CA state: FIFO, contention window, backoff,
// retry count, and the packet currently occupying the channel (if any).
type nodeMAC struct {
	id          int
	queue       *txQueue
	cw          int
	backoff     int
	retryCount  int
	awaitingAck *Packet
}

// MACMetrics are the counters the MAC layer accumulates over a run.
type MACMetrics struct {
	Enqueued     int64
	DequeuedOK   int64
	DequeuedFail int64
	Retries      int64
	Collisions   int64
	Duplicates   int64
	QueueDrops   int64
	BytesOK      int64
	RTTMsTotal   float64
	RTTSamples   int64
	PDR          float64
}

// AvgRTTMs returns the mean RTT over all delivered packets, or 0 if none
// have been delivered yet.
func (m MACMetrics) AvgRTTMs() float64 {
	if m.RTTSamples == 0 {
		return 0
	}
	return m.RTTMsTotal / float64(m.RTTSamples)
}

// RangeChecker reports whether two node IDs can currently reach each other.
// The MAC never inspects positions directly; this callback is its only
// window onto geometry.
type RangeChecker func(srcID, dstID int) bool

// ForwardFunc hands an intermediate-hop packet back to the Store so it can
// be re-enqueued toward the next hop.
type ForwardFunc func(Packet)

// MAC is the slotted single-channel CSMA/CA engine: per-node FIFOs, channel
// arbitration, collision/loss handling, binary-exponential backoff, and
// multi-hop forwarding via callback.
type MAC struct {
	cfg     MACConfig
	rng     *rand.Rand
	ch      *channel
	nodes   map[int]*nodeMAC
	order   []int
	Metrics MACMetrics
	seen    map[dedupKey]struct{}
	slot    int64

	RangeCheck RangeChecker
	Forward    ForwardFunc
}

// NewMAC builds a MAC engine seeded for reproducible backoff/loss draws.
func NewMAC(cfg MACConfig, rangeCheck RangeChecker, forward ForwardFunc) *MAC {
	return &MAC{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		ch:         newChannel(),
		nodes:      make(map[int]*nodeMAC),
		seen:       make(map[dedupKey]struct{}),
		RangeCheck: rangeCheck,
		Forward:    forward,
	}
}

// AddNode registers a node with an empty FIFO. A no-op if already present.
func (m *MAC) AddNode(id int) {
	if _, ok := m.nodes[id]; ok {
		return
	}
	nm := &nodeMAC{id: id, queue: newTxQueue(m.cfg.QueueCapacity)}
	m.nodes[id] = nm
	m.order = append(m.order, id)
}

// RemoveNode drops a node's MAC state entirely (used on node removal).
func (m *MAC) RemoveNode(id int) {
	delete(m.nodes, id)
	for i, nid := range m.order {
		if nid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Enqueue appends a packet to its sender's FIFO, returning false (and
// counting a queue drop) if the FIFO is full. The first enqueue after
// idleness (cw == 0) seeds a fresh contention window and backoff draw.
func (m *MAC) Enqueue(p Packet) bool {
	st, ok := m.nodes[p.SrcID]
	if !ok {
		return false
	}
	if !st.queue.enqueue(p) {
		m.Metrics.QueueDrops++
		return false
	}
	m.Metrics.Enqueued++
	if st.cw == 0 {
		st.cw = m.cfg.CWMin
		st.backoff = m.rng.Intn(st.cw)
	}
	return true
}

// Tick runs one MAC slot: channel reset, per-node transmit decisions in
// registration order, collision/loss classification, and outcome handling.
func (m *MAC) Tick() {
	m.slot++
	m.ch.clear()

	for _, id := range m.order {
		st := m.nodes[id]
		if st.awaitingAck != nil {
			continue
		}
		head, ok := st.queue.peek()
		if !ok {
			continue
		}
		if m.ch.busy() {
			continue
		}
		if st.backoff > 0 {
			st.backoff--
			continue
		}
		m.ch.startTx(id, head)
		pkt := head
		st.awaitingAck = &pkt
	}

	collision, txNodes := m.ch.endSlot()
	if collision {
		m.Metrics.Collisions++
	}

	for _, id := range txNodes {
		st := m.nodes[id]
		pkt := *st.awaitingAck

		outOfRange := false
		if m.RangeCheck != nil {
			outOfRange = !m.RangeCheck(pkt.SrcID, pkt.NextHopID)
		}
		randLoss := m.rng.Float64() < m.cfg.BaseLossProb
		failed := (collision && m.cfg.CollisionLosses) || randLoss || outOfRange

		if failed {
			st.retryCount++
			m.Metrics.Retries++
			if st.retryCount > m.cfg.RetryLimit {
				st.queue.pop()
				m.Metrics.DequeuedFail++
				st.retryCount = 0
				st.cw = m.cfg.CWMin
			} else {
				st.cw = clampInt(st.cw*2, m.cfg.CWMin, m.cfg.CWMax)
			}
			st.backoff = m.rng.Intn(st.cw)
			st.awaitingAck = nil
		} else {
			m.deliver(st, pkt)
		}
	}

	sent := m.Metrics.DequeuedOK + m.Metrics.DequeuedFail
	if sent > 0 {
		m.Metrics.PDR = float64(m.Metrics.DequeuedOK) / float64(sent)
	} else {
		m.Metrics.PDR = 0
	}
}

func (m *MAC) deliver(st *nodeMAC, pkt Packet) {
	if pkt.IsFinalHop() {
		key := dedupKey{origSrc: pkt.OrigSrcID, dst: pkt.DstID, seq: pkt.Seq}
		if _, dup := m.seen[key]; dup {
			m.Metrics.Duplicates++
		} else {
			m.seen[key] = struct{}{}
			m.Metrics.DequeuedOK++
			m.Metrics.BytesOK += int64(pkt.SizeBytes)
			nowMs := float64(m.slot) * m.cfg.SlotMs
			m.Metrics.RTTSamples++
			rtt := nowMs - pkt.TCreated*1000.0
			if rtt < 0 {
				rtt = 0
			}
			m.Metrics.RTTMsTotal += rtt
		}
	} else if m.Forward != nil {
		m.Forward(pkt)
	}

	st.queue.pop()
	st.retryCount = 0
	st.cw = m.cfg.CWMin
	st.backoff = m.rng.Intn(st.cw)
	st.awaitingAck = nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
