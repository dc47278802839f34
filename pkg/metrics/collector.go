// Package metrics exports live servent state as Prometheus metrics,
// adapted from a connection-tracking collector into one that walks the
// peer manager's session table.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simeonmiteff/gnutella-core/pkg/linkhealth"
	"github.com/simeonmiteff/gnutella-core/pkg/session"
)

// SessionSnapshot is a point-in-time read of one session's externally
// visible state, cheap enough for a Collector to build on every scrape.
type SessionSnapshot struct {
	ID             session.ID
	State          session.State
	Vendor         string
	QueueBytes     int
	QueueMessages  int
	FlowControlled bool
	SwiftControlled bool
	Counters       session.Counters
	Health         linkhealth.Score
}

// SessionSource supplies the current set of sessions to scrape. The peer
// manager implements this directly off its live session table.
type SessionSource interface {
	Snapshot() []SessionSnapshot
}

// Collector is a prometheus.Collector over a SessionSource.
type Collector struct {
	source SessionSource

	sessionState    *prometheus.Desc
	queueBytes      *prometheus.Desc
	queueMessages   *prometheus.Desc
	flowControlled  *prometheus.Desc
	swiftControlled *prometheus.Desc
	rxBytesTotal    *prometheus.Desc
	txBytesTotal    *prometheus.Desc
	linkWeird       *prometheus.Desc
}

// NewCollector constructs a Collector reading from source.
func NewCollector(source SessionSource) *Collector {
	constLabels := prometheus.Labels{}
	sessionLabels := []string{"session_id", "vendor", "state"}
	return &Collector{
		source: source,
		sessionState: prometheus.NewDesc(
			"gnutella_session_info", "Static info about a peer session, value is always 1.",
			sessionLabels, constLabels),
		queueBytes: prometheus.NewDesc(
			"gnutella_session_queue_bytes", "Bytes currently pending in a session's outbound queue.",
			sessionLabels, constLabels),
		queueMessages: prometheus.NewDesc(
			"gnutella_session_queue_messages", "Messages currently pending in a session's outbound queue.",
			sessionLabels, constLabels),
		flowControlled: prometheus.NewDesc(
			"gnutella_session_flow_controlled", "1 if the session's queue is currently flow-controlled.",
			sessionLabels, constLabels),
		swiftControlled: prometheus.NewDesc(
			"gnutella_session_swift_controlled", "1 if the session's queue is currently in swift eviction mode.",
			sessionLabels, constLabels),
		rxBytesTotal: prometheus.NewDesc(
			"gnutella_session_rx_bytes_total", "Total bytes received on a session.",
			sessionLabels, constLabels),
		txBytesTotal: prometheus.NewDesc(
			"gnutella_session_tx_bytes_total", "Total bytes sent on a session.",
			sessionLabels, constLabels),
		linkWeird: prometheus.NewDesc(
			"gnutella_session_link_weird_count", "Count of TCP-level health symptoms observed on a session's link.",
			sessionLabels, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.sessionState
	descs <- c.queueBytes
	descs <- c.queueMessages
	descs <- c.flowControlled
	descs <- c.swiftControlled
	descs <- c.rxBytesTotal
	descs <- c.txBytesTotal
	descs <- c.linkWeird
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for _, s := range c.source.Snapshot() {
		labels := []string{strconv.FormatUint(uint64(s.ID), 10), s.Vendor, s.State.String()}
		metrics <- prometheus.MustNewConstMetric(c.sessionState, prometheus.GaugeValue, 1, labels...)
		metrics <- prometheus.MustNewConstMetric(c.queueBytes, prometheus.GaugeValue, float64(s.QueueBytes), labels...)
		metrics <- prometheus.MustNewConstMetric(c.queueMessages, prometheus.GaugeValue, float64(s.QueueMessages), labels...)
		metrics <- prometheus.MustNewConstMetric(c.flowControlled, prometheus.GaugeValue, boolToFloat(s.FlowControlled), labels...)
		metrics <- prometheus.MustNewConstMetric(c.swiftControlled, prometheus.GaugeValue, boolToFloat(s.SwiftControlled), labels...)
		metrics <- prometheus.MustNewConstMetric(c.rxBytesTotal, prometheus.CounterValue, float64(s.Counters.RxBytes), labels...)
		metrics <- prometheus.MustNewConstMetric(c.txBytesTotal, prometheus.CounterValue, float64(s.Counters.TxBytes), labels...)
		metrics <- prometheus.MustNewConstMetric(c.linkWeird, prometheus.GaugeValue, float64(s.Health.Weird), labels...)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
