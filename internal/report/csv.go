package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"tidespike/internal/model"
)

var csvHeader = []string{"timestamp", "value", "lower", "upper", "window_count", "reason", "is_spike"}

// WriteCSV writes one row per classification. Bounds are left empty for
// observations without enough history.
func WriteCSV(w io.Writer, results []model.Classification) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range results {
		lower, upper := "", ""
		if c.Reason != model.ReasonInsufficientHistory {
			lower = formatFloat(c.Interval.Lower)
			upper = formatFloat(c.Interval.Upper)
		}
		rec := []string{
			c.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(c.Value),
			lower,
			upper,
			strconv.Itoa(c.WindowCount),
			string(c.Reason),
			strconv.FormatBool(c.IsSpike),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
