package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the realtime layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	groupMemberships prometheus.Gauge
	broadcastFanout  *prometheus.HistogramVec
	broadcastDropped *prometheus.CounterVec
	broadcastLatency prometheus.Histogram

	activeSessions   *prometheus.GaugeVec
	sessionsRejected *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	framesRejected   *prometheus.CounterVec

	notificationsSent *prometheus.CounterVec
	storeCalls        *prometheus.HistogramVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		groupMemberships: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flopchat_group_memberships",
			Help: "Current number of connection memberships across all groups",
		}),
		broadcastFanout: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flopchat_broadcast_fanout",
			Help:    "Number of connections that accepted each broadcast frame",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"type"}),
		broadcastDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flopchat_broadcast_dropped_total",
			Help: "Deliveries dropped because the member queue was full or closed",
		}, []string{"type"}),
		broadcastLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flopchat_broadcast_duration_seconds",
			Help:    "Time taken to enqueue a frame for all group members",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		activeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flopchat_active_sessions",
			Help: "Current number of joined sessions per channel",
		}, []string{"channel"}),
		sessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flopchat_sessions_rejected_total",
			Help: "Handshakes closed before joining any group",
		}, []string{"channel"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flopchat_frames_received_total",
			Help: "Inbound frames by type",
		}, []string{"type"}),
		framesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flopchat_frames_rejected_total",
			Help: "Inbound frames dropped by reason",
		}, []string{"reason"}),
		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flopchat_notifications_sent_total",
			Help: "Notification frames handed to user groups by delivery path",
		}, []string{"path"}),
		storeCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flopchat_store_call_duration_seconds",
			Help:    "Latency of message store calls including queueing",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}
}

func (m *Metrics) groupJoined() {
	if m == nil {
		return
	}
	m.groupMemberships.Inc()
}

func (m *Metrics) groupLeft() {
	if m == nil {
		return
	}
	m.groupMemberships.Dec()
}

func (m *Metrics) broadcast(frameType string, delivered, dropped int, took time.Duration) {
	if m == nil {
		return
	}
	m.broadcastFanout.WithLabelValues(frameType).Observe(float64(delivered))
	if dropped > 0 {
		m.broadcastDropped.WithLabelValues(frameType).Add(float64(dropped))
	}
	m.broadcastLatency.Observe(took.Seconds())
}

// SessionOpened records a session reaching the joined state.
func (m *Metrics) SessionOpened(channel string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(channel).Inc()
}

// SessionClosed records a joined session being torn down.
func (m *Metrics) SessionClosed(channel string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(channel).Dec()
}

// SessionRejected records a handshake closed before joining.
func (m *Metrics) SessionRejected(channel string) {
	if m == nil {
		return
	}
	m.sessionsRejected.WithLabelValues(channel).Inc()
}

// FrameReceived counts an inbound frame by type.
func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

// FrameRejected counts a dropped inbound frame by error code.
func (m *Metrics) FrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(reason).Inc()
}

// NotificationSent counts a notification frame by delivery path ("push" or "sweep").
func (m *Metrics) NotificationSent(path string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(path).Inc()
}

// StoreCall records the latency of one store operation.
func (m *Metrics) StoreCall(op string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeCalls.WithLabelValues(op, result).Observe(took.Seconds())
}
