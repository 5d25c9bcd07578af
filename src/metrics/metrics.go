package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "collab"
	subsystem = "hub"
)

// Metrics records hub activity as Prometheus series. It satisfies
// hub.Recorder.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Rooms             prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	DroppedTotal      *prometheus.CounterVec
	BroadcastsTotal   *prometheus.CounterVec
}

// New creates the hub metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_connections",
			Help:      "Number of live WebSocket connections",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rooms",
			Help:      "Number of notes with at least one connected member",
		}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Client events processed by event and outcome",
		}, []string{"event", "outcome"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because a client's send queue was full",
		}, []string{"event"}),
		BroadcastsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcasts_total",
			Help:      "Room fan-outs performed by event",
		}, []string{"event"}),
	}
}

// ConnectionOpened counts a newly registered connection.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }

// ConnectionClosed counts a reconciled disconnect.
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }

// RoomsChanged records the current number of rooms.
func (m *Metrics) RoomsChanged(n int) { m.Rooms.Set(float64(n)) }

// EventHandled counts one client event by outcome.
func (m *Metrics) EventHandled(event, outcome string) {
	m.EventsTotal.WithLabelValues(event, outcome).Inc()
}

// MessageDropped counts a message skipped for a full send queue.
func (m *Metrics) MessageDropped(event string) {
	m.DroppedTotal.WithLabelValues(event).Inc()
}

// Broadcast counts one room fan-out.
func (m *Metrics) Broadcast(event string) {
	m.BroadcastsTotal.WithLabelValues(event).Inc()
}
