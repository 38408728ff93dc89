package engine

// MqttMessage is immutable once created except for the dup flag, which is
// only ever set by producing a fresh copy.
type MqttMessage struct {
	Topic       string
	Payload     []byte
	QoS         int
	MsgID       int64
	PublisherID int
	Timestamp   float64
	Dup         bool
	Retained    bool
}

// pendingAckKey identifies one outstanding QoS-1 delivery.
type pendingAckKey struct {
	msgID int64
	subID int
}

// PendingAck tracks one QoS-1 delivery awaiting acknowledgment.
type PendingAck struct {
	MsgID      int64
	SubID      int
	Message    MqttMessage
	RetryCount int
	LastSent   float64
}

// Delivery is one (subscriber, message, effective QoS) hop the broker wants
// delivered. Store is responsible for actually routing it to a Client,
// since that's where physical reachability lives.
type Delivery struct {
	SubID        int
	Message      MqttMessage
	EffectiveQoS int
}

// BrokerStats are the broker-side counters.
type BrokerStats struct {
	MessagesReceived  int64
	MessagesDelivered int64
	QoS0Messages      int64
	QoS1Messages      int64
	DuplicatesSent    int64
	AcksReceived      int64
}

// Broker is the MQTT broker side: subscriptions, retained messages, and
// bounded QoS-1 retransmission.
type Broker struct {
	ID            int
	subscriptions map[string]map[int]int // topic -> clientID -> qos
	retained      map[string]MqttMessage
	pendingAcks   map[pendingAckKey]*PendingAck
	Stats         BrokerStats
	TopicCounts   map[string]int64
}

// NewBroker constructs an empty broker for node id.
func NewBroker(id int) *Broker {
	return &Broker{
		ID:            id,
		subscriptions: make(map[string]map[int]int),
		retained:      make(map[string]MqttMessage),
		pendingAcks:   make(map[pendingAckKey]*PendingAck),
		TopicCounts:   make(map[string]int64),
	}
}

// Subscribe records (clientID, topic, qos) and returns any retained message
// for immediate delivery to the new subscriber.
func (b *Broker) Subscribe(clientID int, topic string, qos int) []MqttMessage {
	if b.subscriptions[topic] == nil {
		b.subscriptions[topic] = make(map[int]int)
	}
	b.subscriptions[topic][clientID] = qos
	if msg, ok := b.retained[topic]; ok {
		return []MqttMessage{msg}
	}
	return nil
}

// Unsubscribe removes a client's subscription to topic.
func (b *Broker) Unsubscribe(clientID int, topic string) {
	delete(b.subscriptions[topic], clientID)
}

// Publish routes a message to every current subscriber of its topic, using
// effective qos = min(publisher qos, subscriber qos) per subscription.
// QoS-1 deliveries are tracked for ack if not already pending.
func (b *Broker) Publish(msg MqttMessage) []Delivery {
	b.Stats.MessagesReceived++
	b.TopicCounts[msg.Topic]++

	if msg.Retained {
		b.retained[msg.Topic] = msg
	}

	subs := b.subscriptions[msg.Topic]
	deliveries := make([]Delivery, 0, len(subs))
	for subID, subQoS := range subs {
		effQoS := msg.QoS
		if subQoS < effQoS {
			effQoS = subQoS
		}
		if effQoS == 0 {
			b.Stats.QoS0Messages++
		} else {
			b.Stats.QoS1Messages++
			key := pendingAckKey{msgID: msg.MsgID, subID: subID}
			if _, ok := b.pendingAcks[key]; !ok {
				b.pendingAcks[key] = &PendingAck{MsgID: msg.MsgID, SubID: subID, Message: msg, LastSent: msg.Timestamp}
			}
		}
		deliveries = append(deliveries, Delivery{SubID: subID, Message: msg, EffectiveQoS: effQoS})
	}
	return deliveries
}

// ReceiveAck clears a pending QoS-1 delivery once its subscriber acks.
func (b *Broker) ReceiveAck(msgID int64, subID int) {
	key := pendingAckKey{msgID: msgID, subID: subID}
	if _, ok := b.pendingAcks[key]; ok {
		delete(b.pendingAcks, key)
		b.Stats.AcksReceived++
	}
}

// CheckRetransmissions sweeps pending acks: anything older than timeout is
// retransmitted (as a fresh dup=true copy) up to maxRetries times, after
// which it's dropped for good.
func (b *Broker) CheckRetransmissions(now, timeout float64, maxRetries int) []Delivery {
	var out []Delivery
	for key, pending := range b.pendingAcks {
		if now-pending.LastSent <= timeout {
			continue
		}
		if pending.RetryCount < maxRetries {
			dup := pending.Message
			dup.Dup = true
			pending.RetryCount++
			pending.LastSent = now
			b.Stats.DuplicatesSent++
			out = append(out, Delivery{SubID: pending.SubID, Message: dup, EffectiveQoS: 1})
		} else {
			delete(b.pendingAcks, key)
		}
	}
	return out
}

// PendingAckCount reports the number of QoS-1 deliveries still awaiting ack
// (for introspection/metrics).
func (b *Broker) PendingAckCount() int { return len(b.pendingAcks) }

// ClientStats are the per-client counters.
type ClientStats struct {
	MessagesPublished  int64
	MessagesReceived   int64
	DuplicatesReceived int64
	AcksSent           int64
	AcksReceived       int64
	Disconnects        int64
	Reconnects         int64
}

// Client is one MQTT publisher/subscriber/sensor endpoint: subscribed
// topics, dup-detection state, connectivity, and keep-alive bookkeeping.
type Client struct {
	ID                int
	Role              Role
	SubscribedTopics  map[string]int // topic -> requested qos
	receivedMsgIDs    map[int64]struct{}
	Connected         bool
	LastActivity      float64
	ReconnectAttempts int
	Stats             ClientStats
}

// NewClient constructs a connected client for node id.
func NewClient(id int, role Role) *Client {
	return &Client{
		ID:               id,
		Role:             role,
		SubscribedTopics: make(map[string]int),
		receivedMsgIDs:   make(map[int64]struct{}),
		Connected:        true,
	}
}

// Subscribe records topic/qos locally (the broker-side bookkeeping happens
// through Broker.Subscribe, invoked by Store).
func (c *Client) Subscribe(topic string, qos int) {
	c.SubscribedTopics[topic] = qos
}

// Receive processes an inbound delivery at effectiveQoS. It returns
// (msgID, true) when an ack must be sent back to the broker. QoS-1
// duplicates still ack even though the payload is dropped, otherwise the
// broker would keep retransmitting.
func (c *Client) Receive(msg MqttMessage, effectiveQoS int, now float64) (msgID int64, needsAck bool) {
	c.LastActivity = now
	if _, dup := c.receivedMsgIDs[msg.MsgID]; dup {
		c.Stats.DuplicatesReceived++
		if effectiveQoS == 1 {
			c.Stats.AcksSent++
			return msg.MsgID, true
		}
		return 0, false
	}

	c.receivedMsgIDs[msg.MsgID] = struct{}{}
	c.Stats.MessagesReceived++
	if effectiveQoS == 1 {
		c.Stats.AcksSent++
		return msg.MsgID, true
	}
	return 0, false
}

// Publish builds a message from this client as publisher, bumping its
// publish counter.
func (c *Client) Publish(topic string, payload []byte, qos int, retained bool, msgID int64, now float64) MqttMessage {
	c.LastActivity = now
	c.Stats.MessagesPublished++
	return MqttMessage{
		Topic:       topic,
		Payload:     payload,
		QoS:         qos,
		MsgID:       msgID,
		PublisherID: c.ID,
		Timestamp:   now,
		Retained:    retained,
	}
}

// CheckKeepAlive reports whether the client is still within its keep-alive
// window (now - LastActivity <= keepAlive * multiplier). If it has expired,
// marks the client disconnected and counts a disconnect.
func (c *Client) CheckKeepAlive(now, keepAlive, multiplier float64) bool {
	if !c.Connected {
		return false
	}
	if now-c.LastActivity > keepAlive*multiplier {
		c.Connected = false
		c.Stats.Disconnects++
		return false
	}
	return true
}
