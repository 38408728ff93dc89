package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts a Store's counters to the Prometheus client library: a
// small struct of pre-built descriptors, with Collect reading a fresh
// snapshot per scrape instead of duplicating the counters inline.
type Collector struct {
	store *Store

	delivered  *prometheus.Desc
	failed     *prometheus.Desc
	duplicates *prometheus.Desc
	collisions *prometheus.Desc
	queueDrops *prometheus.Desc
	pdr        *prometheus.Desc
	avgLatency *prometheus.Desc

	brokerMsgs    *prometheus.Desc
	brokerAcks    *prometheus.Desc
	clientRecv    *prometheus.Desc
	clientDup     *prometheus.Desc
	reconnects    *prometheus.Desc
	disconnects   *prometheus.Desc
	topicMessages *prometheus.Desc
}

// NewCollector builds a Collector reading from store. Register it with a
// prometheus.Registry (or http.Handle("/metrics", promhttp.Handler()) against
// the default registry) from cmd/simnetd.
func NewCollector(store *Store) *Collector {
	return &Collector{
		store:         store,
		delivered:     prometheus.NewDesc("simnet_mac_delivered_total", "Packets delivered at their final MAC hop.", nil, nil),
		failed:        prometheus.NewDesc("simnet_mac_failed_total", "Packets dropped after exhausting retries.", nil, nil),
		duplicates:    prometheus.NewDesc("simnet_mac_duplicates_total", "Duplicate final-hop deliveries suppressed.", nil, nil),
		collisions:    prometheus.NewDesc("simnet_mac_collisions_total", "Slots with two or more simultaneous transmitters.", nil, nil),
		queueDrops:    prometheus.NewDesc("simnet_mac_queue_drops_total", "Packets dropped for a full sender FIFO.", nil, nil),
		pdr:           prometheus.NewDesc("simnet_mac_pdr", "Packet delivery ratio over the run so far.", nil, nil),
		avgLatency:    prometheus.NewDesc("simnet_mac_avg_latency_ms", "Mean end-to-end MAC latency in milliseconds.", nil, nil),
		brokerMsgs:    prometheus.NewDesc("simnet_mqtt_broker_messages_total", "Messages received by a broker.", []string{"broker_id"}, nil),
		brokerAcks:    prometheus.NewDesc("simnet_mqtt_broker_acks_total", "QoS-1 acks received by a broker.", []string{"broker_id"}, nil),
		clientRecv:    prometheus.NewDesc("simnet_mqtt_client_messages_total", "Messages received by a client.", []string{"client_id"}, nil),
		clientDup:     prometheus.NewDesc("simnet_mqtt_client_duplicates_total", "Duplicate messages received by a client.", []string{"client_id"}, nil),
		reconnects:    prometheus.NewDesc("simnet_mqtt_client_reconnects_total", "Reachability-driven reconnects for a client.", []string{"client_id"}, nil),
		disconnects:   prometheus.NewDesc("simnet_mqtt_client_disconnects_total", "Disconnects (keep-alive or reachability) for a client.", []string{"client_id"}, nil),
		topicMessages: prometheus.NewDesc("simnet_mqtt_topic_messages_total", "Messages published per topic, across all brokers.", []string{"topic"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.delivered
	ch <- c.failed
	ch <- c.duplicates
	ch <- c.collisions
	ch <- c.queueDrops
	ch <- c.pdr
	ch <- c.avgLatency
	ch <- c.brokerMsgs
	ch <- c.brokerAcks
	ch <- c.clientRecv
	ch <- c.clientDup
	ch <- c.reconnects
	ch <- c.disconnects
	ch <- c.topicMessages
}

// Collect implements prometheus.Collector by reading a fresh snapshot from
// the Store on every scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.store.MACMetrics()
	ch <- prometheus.MustNewConstMetric(c.delivered, prometheus.CounterValue, float64(m.DequeuedOK))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(m.DequeuedFail))
	ch <- prometheus.MustNewConstMetric(c.duplicates, prometheus.CounterValue, float64(m.Duplicates))
	ch <- prometheus.MustNewConstMetric(c.collisions, prometheus.CounterValue, float64(m.Collisions))
	ch <- prometheus.MustNewConstMetric(c.queueDrops, prometheus.CounterValue, float64(m.QueueDrops))
	ch <- prometheus.MustNewConstMetric(c.pdr, prometheus.GaugeValue, m.PDR)
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, m.AvgRTTMs())

	stats := c.store.MqttStats()
	for id, b := range stats.Brokers {
		label := strconv.Itoa(id)
		ch <- prometheus.MustNewConstMetric(c.brokerMsgs, prometheus.CounterValue, float64(b.MessagesReceived), label)
		ch <- prometheus.MustNewConstMetric(c.brokerAcks, prometheus.CounterValue, float64(b.AcksReceived), label)
	}
	for id, cl := range stats.Clients {
		label := strconv.Itoa(id)
		ch <- prometheus.MustNewConstMetric(c.clientRecv, prometheus.CounterValue, float64(cl.MessagesReceived), label)
		ch <- prometheus.MustNewConstMetric(c.clientDup, prometheus.CounterValue, float64(cl.DuplicatesReceived), label)
		ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(cl.Reconnects), label)
		ch <- prometheus.MustNewConstMetric(c.disconnects, prometheus.CounterValue, float64(cl.Disconnects), label)
	}

	for topic, n := range c.store.TopicCounts() {
		ch <- prometheus.MustNewConstMetric(c.topicMessages, prometheus.CounterValue, float64(n), topic)
	}
}
