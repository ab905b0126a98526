package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TurnsTotal     prometheus.Counter
	TurnFailures   *prometheus.CounterVec
	AgentLatency   prometheus.Histogram
	StepsPersisted prometheus.Counter
	IDCollisions   *prometheus.CounterVec
	RateLimited    prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agentchat",
				Name:      "turns_total",
				Help:      "Total agent turns completed and persisted",
			}),
			TurnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentchat",
				Name:      "turn_failures_total",
				Help:      "Agent turns that failed, by stage",
			}, []string{"stage"}),
			AgentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "agentchat",
				Name:      "agent_run_seconds",
				Help:      "Wall time of agent invocations",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			}),
			StepsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agentchat",
				Name:      "steps_persisted_total",
				Help:      "Agent steps written to the store",
			}),
			IDCollisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentchat",
				Name:      "id_collisions_total",
				Help:      "Identifier collisions retried, by kind",
			}, []string{"kind"}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agentchat",
				Name:      "rate_limited_total",
				Help:      "Agent requests rejected by the hourly limit",
			}),
		}
		prometheus.MustRegister(
			global.TurnsTotal,
			global.TurnFailures,
			global.AgentLatency,
			global.StepsPersisted,
			global.IDCollisions,
			global.RateLimited,
		)
	})
	return global
}
