package model

import "time"

type Reason string

const (
	ReasonWithinRange         Reason = "WITHIN_RANGE"
	ReasonBelowLower          Reason = "BELOW_LOWER"
	ReasonAboveUpper          Reason = "ABOVE_UPPER"
	ReasonInsufficientHistory Reason = "INSUFFICIENT_HISTORY"
)

// IsSpike reports whether the reason marks an out-of-range observation.
func (r Reason) IsSpike() bool {
	return r == ReasonBelowLower || r == ReasonAboveUpper
}

// Observation is one water-level reading. Accepted carries the verified
// level when the source provides it; detection only looks at Value.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Accepted  *float64  `json:"accepted,omitempty"`
}

type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

type Classification struct {
	Timestamp   time.Time `json:"timestamp"`
	Value       float64   `json:"value"`
	IsSpike     bool      `json:"is_spike"`
	Reason      Reason    `json:"reason"`
	Interval    Interval  `json:"interval"`
	WindowCount int       `json:"window_count"`
}

type Spike struct {
	Timestamp time.Time `json:"timestamp"`
	Station   string    `json:"station"`
	RunID     string    `json:"run_id"`
	Value     float64   `json:"value"`
	Reason    Reason    `json:"reason"`
	Interval  Interval  `json:"interval"`
}

type RunSummary struct {
	ID           string    `json:"id"`
	Station      string    `json:"station"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Observations int       `json:"observations"`
	Evaluated    int       `json:"evaluated"`
	Insufficient int       `json:"insufficient"`
	Spikes       int       `json:"spikes"`
}

// Summarize counts classification outcomes into a summary for the run.
func Summarize(id, station string, started time.Time, results []Classification) RunSummary {
	s := RunSummary{
		ID:           id,
		Station:      station,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
		Observations: len(results),
	}
	for _, c := range results {
		switch {
		case c.Reason == ReasonInsufficientHistory:
			s.Insufficient++
		case c.IsSpike:
			s.Evaluated++
			s.Spikes++
		default:
			s.Evaluated++
		}
	}
	return s
}

// SpikesFrom extracts the flagged classifications of a run.
func SpikesFrom(run RunSummary, results []Classification) []Spike {
	out := make([]Spike, 0)
	for _, c := range results {
		if !c.IsSpike {
			continue
		}
		out = append(out, Spike{
			Timestamp: c.Timestamp,
			Station:   run.Station,
			RunID:     run.ID,
			Value:     c.Value,
			Reason:    c.Reason,
			Interval:  c.Interval,
		})
	}
	return out
}
