package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oneagent"

// Metrics holds the protocol's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Registrations     *prometheus.CounterVec
	Messages          *prometheus.CounterVec
	MessageDuration   prometheus.Histogram
	DeadAgents        prometheus.Counter
	TriggerExecutions *prometheus.CounterVec
	Conversations     *prometheus.CounterVec

	TotalAgents        prometheus.Gauge
	OnlineAgents       prometheus.Gauge
	AverageQuality     prometheus.Gauge
	AverageLoad        prometheus.Gauge
	MessagesThroughput prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Agent registration attempts by result.",
		}, []string{"result"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Routed messages by type and result.",
		}, []string{"type", "result"}),
		MessageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_seconds",
			Help:      "Time spent producing message responses.",
			Buckets:   prometheus.DefBuckets,
		}),
		DeadAgents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_agents_total",
			Help:      "Agents reported dead by the liveness sweep.",
		}),
		TriggerExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_executions_total",
			Help:      "Workflow trigger executions by result.",
		}, []string{"result"}),
		Conversations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Conversation lifecycle events.",
		}, []string{"event"}),
		TotalAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Registered agents.",
		}),
		OnlineAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_online",
			Help:      "Registered agents with status online.",
		}),
		AverageQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_average_quality",
			Help:      "Mean quality score across registered agents.",
		}),
		AverageLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_average_load",
			Help:      "Mean load level across online agents.",
		}),
		MessagesThroughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_last_minute",
			Help:      "Messages logged in conversations during the last 60 seconds.",
		}),
	}

	m.registry.MustRegister(
		m.Registrations, m.Messages, m.MessageDuration, m.DeadAgents,
		m.TriggerExecutions, m.Conversations,
		m.TotalAgents, m.OnlineAgents, m.AverageQuality, m.AverageLoad, m.MessagesThroughput,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
