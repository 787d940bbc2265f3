package detector

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"tidespike/internal/model"
)

// Interval walks the empirical CDF of the histogram and returns the bin
// edges where it first reaches pLow and pHigh. The lower bound is the left
// edge of the bin that crosses pLow, or its right edge when the CDF lands on
// pLow exactly. The upper bound is the right edge of the bin that crosses pHigh.
func (h *Histogram) Interval(pLow, pHigh float64) model.Interval {
	if h.Degenerate() {
		return model.Interval{Lower: h.Edges[0], Upper: h.Edges[0]}
	}
	last := len(h.Edges) - 1
	iv := model.Interval{Lower: h.Edges[0], Upper: h.Edges[last]}
	lowerFound := false
	for i, p := range h.CDF() {
		if !lowerFound && p >= pLow {
			if p == pLow {
				iv.Lower = h.Edges[i+1]
			} else {
				iv.Lower = h.Edges[i]
			}
			lowerFound = true
		}
		if p >= pHigh {
			iv.Upper = h.Edges[i+1]
			break
		}
	}
	if iv.Lower > iv.Upper {
		iv.Lower = iv.Upper
	}
	return iv
}

// CDF returns the cumulative probability at the right edge of every bin.
func (h *Histogram) CDF() []float64 {
	out := floats.CumSum(make([]float64, len(h.Counts)), h.Counts)
	for i := range out {
		out[i] /= h.Total
	}
	return out
}

func roundInterval(iv model.Interval, digits int) model.Interval {
	if digits < 0 {
		return iv
	}
	scale := math.Pow(10, float64(digits))
	return model.Interval{
		Lower: math.Round(iv.Lower*scale) / scale,
		Upper: math.Round(iv.Upper*scale) / scale,
	}
}
