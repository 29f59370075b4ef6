package delivery

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes delivery counters.
type Metrics struct {
	sends    *prometheus.CounterVec
	enqueued prometheus.Counter
	replays  *prometheus.CounterVec
}

// NewMetrics registers the delivery collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herald",
			Subsystem: "delivery",
			Name:      "sends_total",
			Help:      "Provider sends by notification type and result.",
		}, []string{"type", "result"}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "herald",
			Subsystem: "delivery",
			Name:      "dlq_enqueued_total",
			Help:      "Failed confirmation sends recorded in the dead-letter queue.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herald",
			Subsystem: "delivery",
			Name:      "dlq_replay_total",
			Help:      "Dead-letter replay outcomes per entry.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.sends, m.enqueued, m.replays} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) send(typ NotificationType, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "fail"
	}
	m.sends.WithLabelValues(string(typ), result).Inc()
}

func (m *Metrics) enqueue() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *Metrics) replay(outcome string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(outcome).Inc()
}
