package metrics

import "github.com/prometheus/client_golang/prometheus"

// PublisherMetrics mirrors the publisher's statistics counters
// (messages_sent_a/b, snapshots_sent, definitions_sent, heartbeats_sent,
// bytes_sent) plus the runtime error counters from the failure-semantics
// table (socket send failures, encode drops).
type PublisherMetrics struct {
	messagesSentA    prometheus.Counter
	messagesSentB    prometheus.Counter
	snapshotsSent    prometheus.Counter
	definitionsSent  prometheus.Counter
	heartbeatsSent   prometheus.Counter
	bytesSent        prometheus.Counter
	sendErrors       prometheus.Counter
	encodeDrops      prometheus.Counter
	activeChannels   prometheus.Gauge
}

// NewPublisherMetrics creates and registers the publisher collector set.
func NewPublisherMetrics(registry *prometheus.Registry) *PublisherMetrics {
	m := &PublisherMetrics{
		messagesSentA: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_messages_sent_a_total",
			Help: "Total number of messages sent on A feeds.",
		}),
		messagesSentB: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_messages_sent_b_total",
			Help: "Total number of messages sent on B feeds.",
		}),
		snapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_snapshots_sent_total",
			Help: "Total number of snapshot messages sent.",
		}),
		definitionsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_definitions_sent_total",
			Help: "Total number of security_definition messages sent.",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_heartbeats_sent_total",
			Help: "Total number of heartbeat messages sent.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_bytes_sent_total",
			Help: "Total number of bytes sent on the incremental A/B feeds (snapshot, security-definition and heartbeat packets are not counted).",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_send_errors_total",
			Help: "Total number of transport send failures (lossy by design; the event is dropped, not retried).",
		}),
		encodeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_publisher_encode_drops_total",
			Help: "Total number of events dropped because they could not be encoded or framed (unsupported event type, price overflow, or size cap exceeded).",
		}),
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed_publisher_active_channels",
			Help: "Number of configured per-channel feeds currently enabled.",
		}),
	}

	registry.MustRegister(
		m.messagesSentA,
		m.messagesSentB,
		m.snapshotsSent,
		m.definitionsSent,
		m.heartbeatsSent,
		m.bytesSent,
		m.sendErrors,
		m.encodeDrops,
		m.activeChannels,
	)

	return m
}

// RecordSendA records a successful send on an A feed of n bytes.
func (m *PublisherMetrics) RecordSendA(n int) {
	m.messagesSentA.Inc()
	m.bytesSent.Add(float64(n))
}

// RecordSendB records a successful send on a B feed of n bytes.
func (m *PublisherMetrics) RecordSendB(n int) {
	m.messagesSentB.Inc()
	m.bytesSent.Add(float64(n))
}

// RecordSnapshotSent increments the snapshot-sent counter.
func (m *PublisherMetrics) RecordSnapshotSent() { m.snapshotsSent.Inc() }

// RecordDefinitionSent increments the security-definition-sent counter.
func (m *PublisherMetrics) RecordDefinitionSent() { m.definitionsSent.Inc() }

// RecordHeartbeatSent increments the heartbeat-sent counter.
func (m *PublisherMetrics) RecordHeartbeatSent() { m.heartbeatsSent.Inc() }

// RecordSendError increments the transport send-failure counter.
func (m *PublisherMetrics) RecordSendError() { m.sendErrors.Inc() }

// RecordEncodeDrop increments the encode/framing-failure drop counter.
func (m *PublisherMetrics) RecordEncodeDrop() { m.encodeDrops.Inc() }

// SetActiveChannels records the number of currently enabled channel feeds.
func (m *PublisherMetrics) SetActiveChannels(n int) { m.activeChannels.Set(float64(n)) }
