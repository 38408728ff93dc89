package engine

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BridgeConfig controls the optional mirror bridge: fire-and-forget
// publication of each message published into the simulated broker to a
// real external MQTT broker, purely for observing the simulation's traffic
// with an ordinary MQTT client. It never gates or delays simulated delivery.
type BridgeConfig struct {
	Enabled          bool
	Broker           string // e.g. "tcp://localhost:1883"
	ClientID         string
	KeepAliveSecs    int
	ConnectTimeoutMs int
	TopicPrefix      string
}

// Bridge wraps a paho.mqtt.golang client with auto-reconnect and clean
// sessions; it only ever publishes, so no subscription or message handler
// is configured.
type Bridge struct {
	cfg    BridgeConfig
	client mqtt.Client
}

// NewBridge builds an unconnected Bridge. Connect must be called before
// Mirror has any effect; a disabled or unconnected bridge silently drops
// mirrors.
func NewBridge(cfg BridgeConfig) *Bridge {
	if !cfg.Enabled {
		return &Bridge{cfg: cfg}
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(time.Duration(cfg.KeepAliveSecs) * time.Second)
	if cfg.ConnectTimeoutMs > 0 {
		opts.SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond)
	}
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("bridge: %s broker=%s", tag("connect", colBlue), cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("bridge: %s err=%v", tag("disconnect", colYellow), err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Printf("bridge: %s", tag("reconnecting", colYellow))
	})

	return &Bridge{cfg: cfg, client: mqtt.NewClient(opts)}
}

// Connect dials the mirror broker. A no-op returning nil if the bridge is
// disabled.
func (b *Bridge) Connect() error {
	if !b.cfg.Enabled {
		return nil
	}
	tok := b.client.Connect()
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		return fmt.Errorf("bridge: connect: %w", tok.Error())
	}
	return nil
}

// Mirror publishes one message to the mirror broker under
// TopicPrefix+topic, without blocking the caller on the publish
// acknowledgment. Disabled or disconnected bridges drop the mirror.
func (b *Bridge) Mirror(topic string, payload []byte, qos int, retained bool) {
	if !b.cfg.Enabled || b.client == nil || !b.client.IsConnectionOpen() {
		return
	}
	fullTopic := b.cfg.TopicPrefix + topic
	tok := b.client.Publish(fullTopic, byte(qos), retained, payload)
	go func() {
		if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
			log.Printf("bridge: %s topic=%s err=%v", tag("mirror_error", colRed), fullTopic, tok.Error())
		}
	}()
}

// Close disconnects the mirror client, if connected.
func (b *Bridge) Close() {
	if b.cfg.Enabled && b.client != nil && b.client.IsConnectionOpen() {
		b.client.Disconnect(250)
	}
}

// ANSI tag helper matching the style of cmd/simnetd's log lines.
const (
	colReset  = "\033[0m"
	colBlue   = "\033[34m"
	colYellow = "\033[33m"
	colRed    = "\033[31m"
)

func tag(name, color string) string { return color + "[" + name + "]" + colReset }
