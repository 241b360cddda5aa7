package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LeaseAcquires counts acquire attempts by result (granted, held, error).
	LeaseAcquires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "listsync_lease_acquire_total",
		Help: "Lease acquire attempts by result",
	}, []string{"result"})
	// EventsPublished counts outbound events by name and scope (room, all, sender).
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "listsync_events_published_total",
		Help: "Outbound realtime events by name and scope",
	}, []string{"event", "scope"})
	// EventsDropped counts per-connection deliveries dropped on a full send buffer.
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listsync_events_dropped_total",
		Help: "Deliveries dropped because a connection's buffer was full",
	})
	// Connections reports the number of open realtime connections.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listsync_connections",
		Help: "Current number of realtime connections",
	})
	// NotifyAttempts counts cross-service call attempts by endpoint and result.
	NotifyAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "listsync_notify_attempts_total",
		Help: "Cross-service call attempts by endpoint and result",
	}, []string{"endpoint", "result"})
	// CascadeExhausted counts list deletions whose item cleanup gave up.
	CascadeExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listsync_cascade_exhausted_total",
		Help: "List deletions whose item cleanup exhausted its retries",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Register registers the collectors on reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(LeaseAcquires, EventsPublished, EventsDropped, Connections, NotifyAttempts, CascadeExhausted)
}
