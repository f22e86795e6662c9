// ABOUTME: Prometheus instruments for bridged clients, channel joins and work queues.
// ABOUTME: All recording methods are nil-safe so callers may run without metrics.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the IRC side of the bridge.
//
// Usage:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	m.ConnectFinished("irc.libera.chat", nil)
//	m.JoinFinished("irc.libera.chat", metrics.JoinJoined)
type Metrics struct {
	// Connects counts connection attempts.
	// Labels: server, outcome (success|failure)
	Connects *prometheus.CounterVec

	// ActiveClients is the number of connected clients.
	// Labels: server
	ActiveClients *prometheus.GaugeVec

	// Disconnects counts disconnections.
	// Labels: server, reason (explicit|idle|lost)
	Disconnects *prometheus.CounterVec

	// JoinAttempts counts JOIN commands sent, including retries.
	// Labels: server
	JoinAttempts *prometheus.CounterVec

	// JoinOutcomes counts finished joins.
	// Labels: server, outcome (joined|member|rejected|timeout|excluded)
	JoinOutcomes *prometheus.CounterVec

	// NickChanges counts nick changes seen for bridged clients.
	// Labels: server
	NickChanges *prometheus.CounterVec

	// FramesRelayed counts inbound IRC frames handed to Matrix after dedupe.
	// Labels: server, type
	FramesRelayed *prometheus.CounterVec

	// QueueWaiting is the number of entries waiting per work queue.
	// Labels: queue
	QueueWaiting *prometheus.GaugeVec

	// QueueCompleted counts processed entries per work queue.
	// Labels: queue, status (success|error)
	QueueCompleted *prometheus.CounterVec
}

// Join outcomes.
const (
	JoinJoined    = "joined"
	JoinMember    = "member"
	JoinRejected  = "rejected"
	JoinTimeout   = "timeout"
	JoinExcluded  = "excluded"
	JoinAbandoned = "abandoned"
)

// Disconnect reasons.
const (
	DisconnectExplicit = "explicit"
	DisconnectIdle     = "idle"
	DisconnectLost     = "lost"
)

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_irc_connects_total",
				Help: "IRC connection attempts by server and outcome",
			},
			[]string{"server", "outcome"},
		),
		ActiveClients: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coven_irc_active_clients",
				Help: "Connected bridged IRC clients by server",
			},
			[]string{"server"},
		),
		Disconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_irc_disconnects_total",
				Help: "IRC disconnections by server and reason",
			},
			[]string{"server", "reason"},
		),
		JoinAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_irc_join_attempts_total",
				Help: "JOIN commands sent, including retries",
			},
			[]string{"server"},
		),
		JoinOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_irc_join_outcomes_total",
				Help: "Finished channel joins by outcome",
			},
			[]string{"server", "outcome"},
		),
		NickChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_irc_nick_changes_total",
				Help: "Nick changes observed for bridged clients",
			},
			[]string{"server"},
		),
		FramesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_irc_frames_relayed_total",
				Help: "Inbound IRC frames relayed after deduplication",
			},
			[]string{"server", "type"},
		),
		QueueWaiting: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coven_irc_queue_depth",
				Help: "Entries waiting in a work queue",
			},
			[]string{"queue"},
		),
		QueueCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_irc_queue_processed_total",
				Help: "Work queue entries processed by status",
			},
			[]string{"queue", "status"},
		),
	}
}

// ConnectFinished records a connection attempt.
func (m *Metrics) ConnectFinished(server string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Connects.WithLabelValues(server, "failure").Inc()
		return
	}
	m.Connects.WithLabelValues(server, "success").Inc()
	m.ActiveClients.WithLabelValues(server).Inc()
}

// Disconnected records a client leaving the network.
func (m *Metrics) Disconnected(server, reason string) {
	if m == nil {
		return
	}
	m.Disconnects.WithLabelValues(server, reason).Inc()
	m.ActiveClients.WithLabelValues(server).Dec()
}

// JoinAttempted records one JOIN command.
func (m *Metrics) JoinAttempted(server string) {
	if m == nil {
		return
	}
	m.JoinAttempts.WithLabelValues(server).Inc()
}

// JoinFinished records how a join ended.
func (m *Metrics) JoinFinished(server, outcome string) {
	if m == nil {
		return
	}
	m.JoinOutcomes.WithLabelValues(server, outcome).Inc()
}

// NickChanged records a nick change.
func (m *Metrics) NickChanged(server string) {
	if m == nil {
		return
	}
	m.NickChanges.WithLabelValues(server).Inc()
}

// FrameRelayed records one relayed frame.
func (m *Metrics) FrameRelayed(server, eventType string) {
	if m == nil {
		return
	}
	m.FramesRelayed.WithLabelValues(server, eventType).Inc()
}

// QueueDepth implements workqueue.Observer.
func (m *Metrics) QueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.QueueWaiting.WithLabelValues(queue).Set(float64(depth))
}

// QueueProcessed implements workqueue.Observer.
func (m *Metrics) QueueProcessed(queue string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.QueueCompleted.WithLabelValues(queue, status).Inc()
}
