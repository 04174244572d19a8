package metrics

import (
	"net/http"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// #region collectors

// Collectors implements engine.Observer on a private registry, so several
// engines can live in one process.
type Collectors struct {
	reg *prometheus.Registry

	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	rejected         *prometheus.CounterVec
	retrains         *prometheus.CounterVec
	retrainDuration  prometheus.Histogram
	retrainSamples   prometheus.Gauge
	logSize          prometheus.Gauge
}

// New registers the decision engine collectors on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collectors{
		reg: reg,

		// decisions counts successful decisions by producing policy and action
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "npc_decisions_total",
			Help: "Decisions made, by policy kind and action",
		}, []string{"source", "action"}),

		decisionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "npc_decision_duration_seconds",
			Help:    "Decide latency including any synchronous retrain",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}),

		// rejected counts decide calls that returned an error
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "npc_decisions_rejected_total",
			Help: "Decide calls that failed, by reason",
		}, []string{"reason"}),

		retrains: f.NewCounterVec(prometheus.CounterOpts{
			Name: "npc_retrains_total",
			Help: "Retrain cycles by status",
		}, []string{"status"}),

		retrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "npc_retrain_duration_seconds",
			Help:    "Retrain cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),

		retrainSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "npc_retrain_samples",
			Help: "Samples used by the most recent retrain cycle",
		}),

		logSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "npc_interaction_log_size",
			Help: "Records held by the interaction log",
		}),
	}
}

// #endregion collectors

// #region observer

// ObserveDecision implements engine.Observer.
func (c *Collectors) ObserveDecision(source policy.Kind, action schema.Action, took time.Duration) {
	c.decisions.WithLabelValues(string(source), string(action)).Inc()
	c.decisionDuration.Observe(took.Seconds())
}

// ObserveRejected implements engine.Observer.
func (c *Collectors) ObserveRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

// ObserveRetrain implements engine.Observer.
func (c *Collectors) ObserveRetrain(out retrain.Outcome) {
	c.retrains.WithLabelValues(string(out.Status)).Inc()
	c.retrainDuration.Observe(out.Duration.Seconds())
	c.retrainSamples.Set(float64(out.Samples))
}

// ObserveLogSize implements engine.Observer.
func (c *Collectors) ObserveLogSize(n int) {
	c.logSize.Set(float64(n))
}

// #endregion observer

// #region http

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// #endregion http
