package detector

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrEmptyWindow = errors.New("detector: empty window")

// Histogram holds equal-width bin counts over [min, max] of a window.
// Edges has len(Counts)+1 entries. A window whose values are all equal
// collapses to a single zero-width bin.
type Histogram struct {
	Edges  []float64
	Counts []float64
	Total  float64
}

func (h *Histogram) Degenerate() bool {
	return len(h.Counts) == 1 && h.Edges[0] == h.Edges[1]
}

// BuildHistogram bins values into nbins equal-width bins. The maximum value
// falls into the last bin. values is not modified.
func BuildHistogram(values []float64, nbins int) (*Histogram, error) {
	if len(values) == 0 {
		return nil, ErrEmptyWindow
	}
	if nbins <= 0 {
		return nil, errors.New("detector: nbins must be > 0")
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	total := float64(len(sorted))
	if lo == hi {
		return &Histogram{
			Edges:  []float64{lo, hi},
			Counts: []float64{total},
			Total:  total,
		}, nil
	}

	edges := floats.Span(make([]float64, nbins+1), lo, hi)
	edges[nbins] = hi
	dividers := append([]float64(nil), edges...)
	dividers[nbins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)
	return &Histogram{Edges: edges, Counts: counts, Total: total}, nil
}
