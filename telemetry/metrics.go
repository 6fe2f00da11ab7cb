package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the hub. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles          prometheus.Counter
	gatewayFailures prometheus.Counter
	absentReadings  prometheus.Counter
	cycleDuration   prometheus.Histogram
	events          *prometheus.CounterVec
	sessions        prometheus.Gauge
	sessionsDropped prometheus.Counter
	commands        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_hub_sample_cycles_total",
			Help: "Sampling cycles completed, successful or not.",
		}),
		gatewayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_hub_gateway_failures_total",
			Help: "Read cycles where the gateway failed entirely.",
		}),
		absentReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_hub_absent_readings_total",
			Help: "Probe readings that were absent.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_hub_sample_cycle_seconds",
			Help:    "Duration of a sampling cycle including the gateway read.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_hub_events_published_total",
			Help: "Events handed to the broadcast hub.",
		}, []string{"type"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_hub_sessions",
			Help: "Currently registered hub sessions.",
		}),
		sessionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_hub_sessions_dropped_total",
			Help: "Sessions unregistered because their queue was full.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_hub_actuator_commands_total",
			Help: "Actuator commands by actuator and outcome.",
		}, []string{"actuator", "result"}),
	}

	reg.MustRegister(
		m.cycles,
		m.gatewayFailures,
		m.absentReadings,
		m.cycleDuration,
		m.events,
		m.sessions,
		m.sessionsDropped,
		m.commands,
	)

	return m
}

func (m *Metrics) observeCycle(d time.Duration, absent int, failed bool) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.absentReadings.Add(float64(absent))
	if failed {
		m.gatewayFailures.Inc()
	}
}

func (m *Metrics) eventPublished(t EventType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) sessionDropped() {
	if m == nil {
		return
	}
	m.sessionsDropped.Inc()
}

func (m *Metrics) command(id string, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(id, result).Inc()
}
