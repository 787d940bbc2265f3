package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"tidespike/internal/model"
)

var ErrLengthMismatch = errors.New("results and observations differ in length")

// Score is a confusion matrix of predicted spikes against the verified
// series. An observation is a true spike when its accepted level differs
// from the raw level by more than the threshold. Observations without an
// accepted level count as true negatives and are tallied in Unlabeled.
type Score struct {
	TrueNegative  int `json:"true_negative"`
	FalsePositive int `json:"false_positive"`
	FalseNegative int `json:"false_negative"`
	TruePositive  int `json:"true_positive"`
	Unlabeled     int `json:"unlabeled"`
}

func Evaluate(obs []model.Observation, results []model.Classification, threshold float64) (Score, error) {
	var s Score
	if len(obs) != len(results) {
		return s, fmt.Errorf("%w: %d observations, %d results", ErrLengthMismatch, len(obs), len(results))
	}
	for i, ob := range obs {
		truth := false
		if ob.Accepted == nil {
			s.Unlabeled++
		} else {
			truth = math.Abs(*ob.Accepted-ob.Value) > threshold
		}
		pred := results[i].IsSpike
		switch {
		case truth && pred:
			s.TruePositive++
		case truth:
			s.FalseNegative++
		case pred:
			s.FalsePositive++
		default:
			s.TrueNegative++
		}
	}
	return s, nil
}

func (s Score) Total() int {
	return s.TrueNegative + s.FalsePositive + s.FalseNegative + s.TruePositive
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (s Score) Accuracy() float64 {
	return ratio(s.TrueNegative+s.TruePositive, s.Total())
}

func (s Score) Precision() float64 {
	return ratio(s.TruePositive, s.TruePositive+s.FalsePositive)
}

func (s Score) Sensitivity() float64 {
	return ratio(s.TruePositive, s.TruePositive+s.FalseNegative)
}

func (s Score) ErrorRate() float64 {
	return ratio(s.FalsePositive+s.FalseNegative, s.Total())
}

func (s Score) TrueNegativeRate() float64 {
	return ratio(s.TrueNegative, s.TrueNegative+s.FalsePositive)
}

func (s Score) FalsePositiveRate() float64 {
	return ratio(s.FalsePositive, s.TrueNegative+s.FalsePositive)
}

func (s Score) Prevalence() float64 {
	return ratio(s.FalseNegative+s.TruePositive, s.Total())
}

// WriteTable prints the matrix followed by the derived rates.
func (s Score) WriteTable(w io.Writer) error {
	sep := "+-" + strings.Repeat("-", 8) + "-+-" + strings.Repeat("-", 8) + "-+-" + strings.Repeat("-", 8) + "-+\n"
	var b strings.Builder
	b.WriteString("Confusion Matrix\n")
	b.WriteString(sep)
	fmt.Fprintf(&b, "| %-8s | %-8s | %-8s |\n", "", "pred no", "pred yes")
	b.WriteString(sep)
	fmt.Fprintf(&b, "| %-8s | %8d | %8d |\n", "true no", s.TrueNegative, s.FalsePositive)
	b.WriteString(sep)
	fmt.Fprintf(&b, "| %-8s | %8d | %8d |\n", "true yes", s.FalseNegative, s.TruePositive)
	b.WriteString(sep)
	b.WriteString("\n")
	rows := []struct {
		name  string
		value float64
	}{
		{"accuracy", s.Accuracy()},
		{"precision", s.Precision()},
		{"sensitivity", s.Sensitivity()},
		{"error rate", s.ErrorRate()},
		{"true negative rate", s.TrueNegativeRate()},
		{"false positive rate", s.FalsePositiveRate()},
		{"prevalence", s.Prevalence()},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%-20s: %.5f\n", r.name, r.value)
	}
	if s.Unlabeled > 0 {
		fmt.Fprintf(&b, "%-20s: %d\n", "unlabeled", s.Unlabeled)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
