package detector

import (
	"sort"
	"time"

	"tidespike/internal/model"
)

// windowCursor tracks the half-open range [t-duration, t) over a time-ordered
// sequence. It only moves forward, so one cursor serves one contiguous pass.
type windowCursor struct {
	obs      []model.Observation
	duration time.Duration
	head     int
	tail     int
	values   []float64
}

func newWindowCursor(obs []model.Observation, duration time.Duration, start int) *windowCursor {
	w := &windowCursor{obs: obs, duration: duration, values: make([]float64, 0, 256)}
	if start > 0 && start < len(obs) {
		t := obs[start].Timestamp
		cutoff := t.Add(-duration)
		w.head = sort.Search(start, func(i int) bool { return !obs[i].Timestamp.Before(cutoff) })
		w.tail = sort.Search(start+1, func(i int) bool { return !obs[i].Timestamp.Before(t) })
	}
	return w
}

// Advance moves the window to end at t and evicts entries older than t-duration.
func (w *windowCursor) Advance(t time.Time) {
	for w.tail < len(w.obs) && w.obs[w.tail].Timestamp.Before(t) {
		w.tail++
	}
	cutoff := t.Add(-w.duration)
	for w.head < w.tail {
		if !w.obs[w.head].Timestamp.Before(cutoff) {
			break
		}
		w.head++
	}
}

func (w *windowCursor) Len() int {
	return w.tail - w.head
}

// Values returns the window values, skipping indexes already flagged as
// spikes when flagged is non-nil. The slice is reused by the next call.
func (w *windowCursor) Values(flagged []model.Classification) []float64 {
	w.values = w.values[:0]
	for i := w.head; i < w.tail; i++ {
		if flagged != nil && flagged[i].IsSpike {
			continue
		}
		w.values = append(w.values, w.obs[i].Value)
	}
	return w.values
}
