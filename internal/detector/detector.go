package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"tidespike/internal/config"
	"tidespike/internal/model"
)

var (
	ErrUnsorted     = errors.New("detector: observations are not in time order")
	ErrInvalidValue = errors.New("detector: observation value is not finite")
)

// Detector classifies water-level observations against the empirical
// distribution of the window preceding each of them. It holds only the
// configuration, so one Detector may serve concurrent runs.
type Detector struct {
	cfg    config.DetectionConfig
	pLow   float64
	pHigh  float64
	logger *slog.Logger
}

func New(cfg config.DetectionConfig, logger *slog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lo, hi := cfg.Limits()
	return &Detector{cfg: cfg, pLow: lo, pHigh: hi, logger: logger}, nil
}

func (d *Detector) Config() config.DetectionConfig {
	return d.cfg
}

// Limits returns the tail probabilities in use.
func (d *Detector) Limits() (float64, float64) {
	return d.pLow, d.pHigh
}

// Interval computes the confidence interval of a window. It reports false
// when the window holds fewer than MinEntries values.
func (d *Detector) Interval(window []float64) (model.Interval, bool) {
	if len(window) < d.cfg.MinEntries {
		return model.Interval{}, false
	}
	h, err := BuildHistogram(window, d.cfg.NBins)
	if err != nil {
		return model.Interval{}, false
	}
	return roundInterval(h.Interval(d.pLow, d.pHigh), d.cfg.RoundDigits), true
}

// Classify decides a single value against a caller-supplied window. The
// returned classification carries no timestamp.
func (d *Detector) Classify(window []float64, value float64) model.Classification {
	iv, ok := d.Interval(window)
	if !ok {
		return insufficient(value, len(window))
	}
	reason := ReasonFor(value, iv, d.cfg.Buffer)
	return model.Classification{
		Value:       value,
		IsSpike:     reason.IsSpike(),
		Reason:      reason,
		Interval:    iv,
		WindowCount: len(window),
	}
}

// Run classifies every observation of a time-ordered series. The result is
// aligned index by index with obs. Observations inside the first window of
// the series are reported as insufficient history.
func (d *Detector) Run(ctx context.Context, obs []model.Observation) ([]model.Classification, error) {
	if err := checkSeries(obs); err != nil {
		return nil, err
	}
	out := make([]model.Classification, len(obs))
	if len(obs) == 0 {
		return out, nil
	}

	workers := d.cfg.Workers
	if d.cfg.ExcludeSpikes || workers < 2 || len(obs) < 2*workers {
		if err := d.runChunk(ctx, obs, 0, len(obs), out); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		size := (len(obs) + workers - 1) / workers
		for start := 0; start < len(obs); start += size {
			start, end := start, min(start+size, len(obs))
			g.Go(func() error {
				return d.runChunk(gctx, obs, start, end, out)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if d.logger != nil {
		spikes := 0
		for _, c := range out {
			if c.IsSpike {
				spikes++
			}
		}
		d.logger.Info("detection finished",
			"observations", len(obs),
			"spikes", spikes,
			"workers", workers,
		)
	}
	return out, nil
}

func (d *Detector) runChunk(ctx context.Context, obs []model.Observation, start, end int, out []model.Classification) error {
	warmEnd := obs[0].Timestamp.Add(d.cfg.Window)
	cursor := newWindowCursor(obs, d.cfg.Window, start)
	var flagged []model.Classification
	if d.cfg.ExcludeSpikes {
		flagged = out
	}
	for i := start; i < end; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ob := obs[i]
		cursor.Advance(ob.Timestamp)
		var c model.Classification
		if ob.Timestamp.Before(warmEnd) {
			c = insufficient(ob.Value, cursor.Len())
		} else {
			c = d.Classify(cursor.Values(flagged), ob.Value)
		}
		c.Timestamp = ob.Timestamp
		out[i] = c
		if c.IsSpike && d.logger != nil {
			d.logger.Debug("spike detected",
				"timestamp", c.Timestamp,
				"value", c.Value,
				"reason", c.Reason,
				"lower", c.Interval.Lower,
				"upper", c.Interval.Upper,
			)
		}
	}
	return nil
}

func checkSeries(obs []model.Observation) error {
	for i, ob := range obs {
		if math.IsNaN(ob.Value) || math.IsInf(ob.Value, 0) {
			return fmt.Errorf("%w: index %d at %s", ErrInvalidValue, i, ob.Timestamp)
		}
		if i > 0 && ob.Timestamp.Before(obs[i-1].Timestamp) {
			return fmt.Errorf("%w: index %d at %s", ErrUnsorted, i, ob.Timestamp)
		}
	}
	return nil
}
