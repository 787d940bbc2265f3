package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidespike/internal/model"
)

func ptr(v float64) *float64 { return &v }

func TestEvaluateConfusionMatrix(t *testing.T) {
	obs := []model.Observation{
		{Value: 1.0, Accepted: ptr(1.0)},  // TN
		{Value: 3.0, Accepted: ptr(1.0)},  // TP
		{Value: 1.0, Accepted: ptr(1.05)}, // FP
		{Value: 0.0, Accepted: ptr(1.0)},  // FN
		{Value: 1.0},                      // unlabeled, TN
	}
	results := []model.Classification{
		{Reason: model.ReasonWithinRange},
		{IsSpike: true, Reason: model.ReasonAboveUpper},
		{IsSpike: true, Reason: model.ReasonAboveUpper},
		{Reason: model.ReasonInsufficientHistory},
		{Reason: model.ReasonWithinRange},
	}
	s, err := Evaluate(obs, results, 0.15)
	require.NoError(t, err)
	assert.Equal(t, Score{TrueNegative: 2, FalsePositive: 1, FalseNegative: 1, TruePositive: 1, Unlabeled: 1}, s)
	assert.Equal(t, 5, s.Total())
	assert.InDelta(t, 0.6, s.Accuracy(), 1e-12)
	assert.InDelta(t, 0.5, s.Precision(), 1e-12)
	assert.InDelta(t, 0.5, s.Sensitivity(), 1e-12)
	assert.InDelta(t, 0.4, s.ErrorRate(), 1e-12)
	assert.InDelta(t, 2.0/3.0, s.TrueNegativeRate(), 1e-12)
	assert.InDelta(t, 1.0/3.0, s.FalsePositiveRate(), 1e-12)
	assert.InDelta(t, 0.4, s.Prevalence(), 1e-12)
}

func TestScoreZeroDenominators(t *testing.T) {
	var s Score
	assert.Equal(t, 0.0, s.Accuracy())
	assert.Equal(t, 0.0, s.Precision())
	assert.Equal(t, 0.0, s.Sensitivity())
	assert.Equal(t, 0.0, s.FalsePositiveRate())
}

func TestEvaluateLengthMismatch(t *testing.T) {
	_, err := Evaluate(make([]model.Observation, 2), nil, 0.1)
	assert.True(t, errors.Is(err, ErrLengthMismatch))
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	s := Score{TrueNegative: 90, FalsePositive: 2, FalseNegative: 3, TruePositive: 5}
	require.NoError(t, s.WriteTable(&buf))
	out := buf.String()
	assert.Contains(t, out, "Confusion Matrix")
	assert.Contains(t, out, "| true yes |        3 |        5 |")
	assert.Contains(t, out, "accuracy            : 0.95000")
	assert.NotContains(t, out, "unlabeled")
}

func TestWriteCSV(t *testing.T) {
	ts := time.Date(2018, 8, 1, 0, 6, 0, 0, time.UTC)
	results := []model.Classification{
		{Timestamp: ts, Value: 1.1, Reason: model.ReasonInsufficientHistory, WindowCount: 3},
		{Timestamp: ts.Add(6 * time.Minute), Value: 2.5, IsSpike: true, Reason: model.ReasonAboveUpper,
			Interval: model.Interval{Lower: 0.9, Upper: 1.25}, WindowCount: 240},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, results))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"2018-08-01T00:06:00Z", "1.1", "", "", "3", "INSUFFICIENT_HISTORY", "false"}, rows[1])
	assert.Equal(t, []string{"2018-08-01T00:12:00Z", "2.5", "0.9", "1.25", "240", "ABOVE_UPPER", "true"}, rows[2])
}
