// Package metrics wires the service's three Prometheus instruments: a
// gateway connection gauge, a rule-engine decision counter, and a
// rate-limiter denial counter. Collectors are constructed via New and
// passed as collaborators rather than kept behind package-level
// singletons.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every Prometheus collector this core exposes.
type Registry struct {
	GatewayConnections    prometheus.Gauge
	RuleEngineDecisions   *prometheus.CounterVec
	RateLimiterDenials    prometheus.Counter
}

// New registers and returns a Registry. reg is typically
// prometheus.NewRegistry() so a process can expose exactly these
// collectors (plus the Go/process defaults) at /metrics without pulling in
// whatever else promauto's default registry has accumulated.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		GatewayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aegis_ids",
			Name:      "gateway_connections",
			Help:      "Current number of live messaging gateway WebSocket connections.",
		}),
		RuleEngineDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegis_ids",
			Name:      "rule_engine_decisions_total",
			Help:      "Total rule engine decisions, by rule id and decision.",
		}, []string{"rule_id", "decision"}),
		RateLimiterDenials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aegis_ids",
			Name:      "rate_limiter_denials_total",
			Help:      "Total requests denied by the secure-channel rate limiter.",
		}),
	}
}
