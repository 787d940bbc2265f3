package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tidespike/internal/alerts"
	"tidespike/internal/config"
	"tidespike/internal/detector"
	"tidespike/internal/metrics"
	"tidespike/internal/model"
	"tidespike/internal/storage"
)

// Sinks are the optional destinations of a finished run. Nil fields are skipped.
type Sinks struct {
	Runs      *metrics.Store
	Collector *metrics.Collector
	Alerts    *alerts.Store
	Publisher alerts.Publisher
	Store     storage.Store
}

// Engine runs detection for one station at a time and fans the outcome out
// to the configured sinks.
type Engine struct {
	logger   *slog.Logger
	sinks    Sinks
	state    atomic.Pointer[snapshot]
	started  time.Time
	mu       sync.Mutex
	cooldown *Cooldown
}

// snapshot pairs a config with the detector built from it, so a run never
// mixes settings from two reloads.
type snapshot struct {
	cfg *config.Config
	det *detector.Detector
}

type Result struct {
	Run             model.RunSummary       `json:"run"`
	Classifications []model.Classification `json:"classifications"`
	Spikes          []model.Spike          `json:"spikes"`
	Duplicates      int                    `json:"duplicates,omitempty"`
	// SinkErr collects storage and publish failures. The run itself succeeded.
	SinkErr error `json:"-"`
}

func NewEngine(cfg *config.Config, logger *slog.Logger, sinks Sinks) (*Engine, error) {
	e := &Engine{
		logger:   logger,
		sinks:    sinks,
		started:  time.Now().UTC(),
		cooldown: NewCooldown(),
	}
	if err := e.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateConfig swaps the detection settings used by subsequent runs.
func (e *Engine) UpdateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("engine: nil config")
	}
	det, err := detector.New(cfg.Detection, e.logger)
	if err != nil {
		return err
	}
	e.state.Store(&snapshot{cfg: cfg, det: det})
	return nil
}

func (e *Engine) Config() *config.Config {
	if st := e.state.Load(); st != nil {
		return st.cfg
	}
	return config.DefaultConfig()
}

func (e *Engine) Started() time.Time {
	return e.started
}

// Process classifies a station's series and records the run.
func (e *Engine) Process(ctx context.Context, station string, obs []model.Observation) (*Result, error) {
	st := e.state.Load()
	cfg, det := st.cfg, st.det
	started := time.Now().UTC()

	res := &Result{}
	if cfg.Input.Dedupe {
		obs, res.Duplicates = DedupeObservations(obs)
		if res.Duplicates > 0 && e.logger != nil {
			e.logger.Info("duplicate timestamps dropped", "station", station, "count", res.Duplicates)
		}
	}

	results, err := det.Run(ctx, obs)
	if err != nil {
		e.sinks.Collector.ObserveFailure(station)
		if e.logger != nil {
			e.logger.Error("detection failed", "station", station, "err", err)
		}
		return nil, err
	}
	res.Classifications = results
	res.Run = model.Summarize(uuid.NewString(), station, started, results)
	res.Spikes = model.SpikesFrom(res.Run, results)

	for _, sp := range res.Spikes {
		if e.logger != nil {
			e.logger.Warn("spike detected",
				"station", sp.Station,
				"timestamp", sp.Timestamp,
				"value", sp.Value,
				"reason", sp.Reason,
				"lower", sp.Interval.Lower,
				"upper", sp.Interval.Upper,
			)
		}
	}
	if e.sinks.Alerts != nil {
		e.sinks.Alerts.Add(res.Spikes...)
	}
	if e.sinks.Runs != nil {
		e.sinks.Runs.Update(res.Run)
	}
	e.sinks.Collector.ObserveRun(res.Run, results)

	var sinkErrs []error
	if e.sinks.Store != nil {
		if err := e.sinks.Store.SaveRun(ctx, res.Run, results); err != nil {
			sinkErrs = append(sinkErrs, fmt.Errorf("save run: %w", err))
		}
	}
	if e.sinks.Publisher != nil {
		publish := e.throttle(res.Spikes, cfg.Alerts.PublishCooldown)
		if err := e.sinks.Publisher.Publish(ctx, publish); err != nil {
			sinkErrs = append(sinkErrs, fmt.Errorf("publish spikes: %w", err))
		}
	}
	if len(sinkErrs) > 0 {
		res.SinkErr = errors.Join(sinkErrs...)
		if e.logger != nil {
			e.logger.Warn("run sinks failed", "station", station, "run_id", res.Run.ID, "err", res.SinkErr)
		}
	}
	return res, nil
}

// throttle drops spikes that follow an already published spike of the same
// station and reason within the cooldown.
func (e *Engine) throttle(spikes []model.Spike, cooldown time.Duration) []model.Spike {
	if cooldown <= 0 {
		return spikes
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Spike, 0, len(spikes))
	for _, sp := range spikes {
		if e.cooldown.Allow(sp.Station, sp.Reason, sp.Timestamp, cooldown) {
			out = append(out, sp)
		}
	}
	return out
}

// Reset clears the in-memory run and spike history.
func (e *Engine) Reset() {
	if e.sinks.Runs != nil {
		e.sinks.Runs.Clear()
	}
	if e.sinks.Alerts != nil {
		e.sinks.Alerts.Clear()
	}
	e.mu.Lock()
	e.cooldown = NewCooldown()
	e.mu.Unlock()
}
