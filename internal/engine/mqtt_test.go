package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_Subscribe_ReturnsRetainedMessageImmediately(t *testing.T) {
	b := NewBroker(1)
	b.Publish(MqttMessage{Topic: "sensors/temp", Payload: []byte("21"), QoS: 0, MsgID: 1, Retained: true})

	msgs := b.Subscribe(2, "sensors/temp", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "21", string(msgs[0].Payload))
}

func TestBroker_Subscribe_NoRetainedMessageReturnsNil(t *testing.T) {
	b := NewBroker(1)
	msgs := b.Subscribe(2, "sensors/temp", 0)
	assert.Nil(t, msgs)
}

func TestBroker_Publish_EffectiveQoSIsMinOfPublisherAndSubscriber(t *testing.T) {
	b := NewBroker(1)
	b.Subscribe(2, "t", 0)
	b.Subscribe(3, "t", 1)

	deliveries := b.Publish(MqttMessage{Topic: "t", QoS: 1, MsgID: 1})
	require.Len(t, deliveries, 2)

	byID := map[int]Delivery{}
	for _, d := range deliveries {
		byID[d.SubID] = d
	}
	assert.Equal(t, 0, byID[2].EffectiveQoS, "qos-0 subscriber caps effective qos at 0 even for a qos-1 publish")
	assert.Equal(t, 1, byID[3].EffectiveQoS)
}

func TestBroker_Publish_HighQoSPublishCappedByLowQoSSubscriber(t *testing.T) {
	b := NewBroker(1)
	b.Subscribe(2, "t", 0)
	deliveries := b.Publish(MqttMessage{Topic: "t", QoS: 1, MsgID: 1})
	require.Len(t, deliveries, 1)
	assert.Equal(t, 0, deliveries[0].EffectiveQoS)
	assert.Equal(t, 0, b.PendingAckCount(), "qos-0 deliveries never create a pending ack")
}

func TestBroker_Publish_QoS1CreatesPendingAck(t *testing.T) {
	b := NewBroker(1)
	b.Subscribe(2, "t", 1)
	b.Publish(MqttMessage{Topic: "t", QoS: 1, MsgID: 42, Timestamp: 1.0})
	assert.Equal(t, 1, b.PendingAckCount())
}

func TestBroker_ReceiveAck_ClearsPendingAck(t *testing.T) {
	b := NewBroker(1)
	b.Subscribe(2, "t", 1)
	b.Publish(MqttMessage{Topic: "t", QoS: 1, MsgID: 42, Timestamp: 1.0})
	b.ReceiveAck(42, 2)
	assert.Equal(t, 0, b.PendingAckCount())
	assert.Equal(t, int64(1), b.Stats.AcksReceived)
}

func TestBroker_CheckRetransmissions_RetransmitsAsDupUntilLimitThenGivesUp(t *testing.T) {
	b := NewBroker(1)
	b.Subscribe(2, "t", 1)
	b.Publish(MqttMessage{Topic: "t", QoS: 1, MsgID: 7, Timestamp: 0})

	const timeout = 5.0
	const maxRetries = 3

	now := 0.0
	for i := 0; i < maxRetries; i++ {
		now += timeout + 0.1
		deliveries := b.CheckRetransmissions(now, timeout, maxRetries)
		require.Len(t, deliveries, 1, "retry %d must redeliver", i+1)
		assert.True(t, deliveries[0].Message.Dup)
	}

	assert.Equal(t, 1, b.PendingAckCount(), "still pending until the next sweep gives up")

	now += timeout + 0.1
	deliveries := b.CheckRetransmissions(now, timeout, maxRetries)
	assert.Empty(t, deliveries, "after exhausting retries, no further delivery is produced")
	assert.Equal(t, 0, b.PendingAckCount(), "gives up permanently")
}

func TestBroker_CheckRetransmissions_NoOpBeforeTimeout(t *testing.T) {
	b := NewBroker(1)
	b.Subscribe(2, "t", 1)
	b.Publish(MqttMessage{Topic: "t", QoS: 1, MsgID: 7, Timestamp: 0})

	deliveries := b.CheckRetransmissions(2.0, 5.0, 3)
	assert.Empty(t, deliveries)
	assert.Equal(t, 1, b.PendingAckCount())
}

func TestClient_Receive_QoS1RequestsAck(t *testing.T) {
	c := NewClient(1, RoleSubscriber)
	msgID, needsAck := c.Receive(MqttMessage{MsgID: 10}, 1, 0)
	assert.True(t, needsAck)
	assert.Equal(t, int64(10), msgID)
	assert.Equal(t, int64(1), c.Stats.MessagesReceived)
}

func TestClient_Receive_QoS0NoAck(t *testing.T) {
	c := NewClient(1, RoleSubscriber)
	_, needsAck := c.Receive(MqttMessage{MsgID: 10}, 0, 0)
	assert.False(t, needsAck)
}

func TestClient_Receive_DuplicateStillAcksUnderQoS1ButNotDoubleCounted(t *testing.T) {
	c := NewClient(1, RoleSubscriber)
	c.Receive(MqttMessage{MsgID: 10}, 1, 0)
	_, needsAck := c.Receive(MqttMessage{MsgID: 10}, 1, 1)

	assert.True(t, needsAck, "a duplicate must still be acked so the sender stops retransmitting")
	assert.Equal(t, int64(1), c.Stats.MessagesReceived, "payload is only counted once")
	assert.Equal(t, int64(1), c.Stats.DuplicatesReceived)
}

func TestClient_Receive_DuplicateUnderQoS0IsSilentlyDropped(t *testing.T) {
	c := NewClient(1, RoleSubscriber)
	c.Receive(MqttMessage{MsgID: 10}, 0, 0)
	_, needsAck := c.Receive(MqttMessage{MsgID: 10}, 0, 1)
	assert.False(t, needsAck)
	assert.Equal(t, int64(1), c.Stats.DuplicatesReceived)
}

func TestClient_CheckKeepAlive_DisconnectsAfterExpiry(t *testing.T) {
	c := NewClient(1, RoleSubscriber)
	c.LastActivity = 0
	assert.True(t, c.CheckKeepAlive(50, 60, 1.5))
	assert.True(t, c.Connected)

	assert.False(t, c.CheckKeepAlive(100, 60, 1.5))
	assert.False(t, c.Connected)
	assert.Equal(t, int64(1), c.Stats.Disconnects)
}

func TestClient_CheckKeepAlive_AlreadyDisconnectedStaysFalse(t *testing.T) {
	c := NewClient(1, RoleSubscriber)
	c.Connected = false
	assert.False(t, c.CheckKeepAlive(0, 60, 1.5))
	assert.Equal(t, int64(0), c.Stats.Disconnects, "must not double-count a disconnect")
}

func TestClient_Publish_BuildsMessageFromClientIdentity(t *testing.T) {
	c := NewClient(5, RolePublisher)
	msg := c.Publish("t", []byte("x"), 1, true, 99, 3.0)
	assert.Equal(t, 5, msg.PublisherID)
	assert.Equal(t, int64(99), msg.MsgID)
	assert.True(t, msg.Retained)
	assert.Equal(t, int64(1), c.Stats.MessagesPublished)
}
