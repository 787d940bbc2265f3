package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tidespike/internal/model"
)

// Collector exposes detection counters on its own registry so several
// instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	Runs         *prometheus.CounterVec
	Observations *prometheus.CounterVec
	Spikes       *prometheus.CounterVec
	Insufficient *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	LastRun      *prometheus.GaugeVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidespike_runs_total",
				Help: "Detection runs by station and result",
			},
			[]string{"station", "result"},
		),
		Observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidespike_observations_total",
				Help: "Observations classified by station",
			},
			[]string{"station"},
		),
		Spikes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidespike_spikes_total",
				Help: "Spikes flagged by station and reason",
			},
			[]string{"station", "reason"},
		),
		Insufficient: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tidespike_insufficient_history_total",
				Help: "Observations without enough history to evaluate",
			},
			[]string{"station"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tidespike_run_duration_seconds",
				Help:    "Wall time of a detection run",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"station"},
		),
		LastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tidespike_last_run_timestamp_seconds",
				Help: "Unix time the last run for a station finished",
			},
			[]string{"station"},
		),
	}
	c.registry.MustRegister(
		c.Runs,
		c.Observations,
		c.Spikes,
		c.Insufficient,
		c.RunDuration,
		c.LastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRun records a finished run and its per-observation outcomes.
func (c *Collector) ObserveRun(run model.RunSummary, results []model.Classification) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(run.Station, "ok").Inc()
	c.Observations.WithLabelValues(run.Station).Add(float64(run.Observations))
	c.Insufficient.WithLabelValues(run.Station).Add(float64(run.Insufficient))
	for _, r := range results {
		if r.IsSpike {
			c.Spikes.WithLabelValues(run.Station, string(r.Reason)).Inc()
		}
	}
	if d := run.FinishedAt.Sub(run.StartedAt); d >= 0 {
		c.RunDuration.WithLabelValues(run.Station).Observe(d.Seconds())
	}
	c.LastRun.WithLabelValues(run.Station).Set(float64(run.FinishedAt.Unix()))
}

func (c *Collector) ObserveFailure(station string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(station, "error").Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Timeout: 5 * time.Second})
}
