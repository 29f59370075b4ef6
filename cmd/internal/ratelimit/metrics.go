package ratelimit

import "github.com/prometheus/client_golang/prometheus"

const (
	resultAllowed    = "allowed"
	resultDenied     = "denied"
	resultCached     = "denied_cached"
	resultFailOpen   = "fail_open"
	resultFailClosed = "fail_closed"
)

// Metrics exposes limiter decision counters.
type Metrics struct {
	decisions *prometheus.CounterVec
	swept     prometheus.Counter
}

// NewMetrics registers the limiter collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "herald",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by policy and result.",
		}, []string{"policy", "result"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "herald",
			Subsystem: "ratelimit",
			Name:      "swept_entries_total",
			Help:      "Expired rate limit entries removed by the sweeper.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.decisions, m.swept} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(policy, result string) {
	if m == nil {
		return
	}
	if policy == "" {
		policy = "default"
	}
	m.decisions.WithLabelValues(policy, result).Inc()
}

func (m *Metrics) addSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
