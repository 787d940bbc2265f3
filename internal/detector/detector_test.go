package detector

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidespike/internal/config"
	"tidespike/internal/model"
)

var seriesStart = time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC)

const sixMinutes = 6 * time.Minute

func testDetection() config.DetectionConfig {
	cfg := config.DefaultDetection()
	cfg.Window = 24 * time.Hour
	cfg.NBins = 80
	cfg.Sigma = 3.5
	cfg.Buffer = 0
	cfg.MinEntries = 20
	return cfg
}

func newDetectorForTest(t *testing.T, cfg config.DetectionConfig) *Detector {
	t.Helper()
	d, err := New(cfg, nil)
	require.NoError(t, err)
	return d
}

// normalSeries builds n six-minute readings around 1 m with 0.1 m spread.
func normalSeries(n int, seed int64) []model.Observation {
	rng := rand.New(rand.NewSource(seed))
	obs := make([]model.Observation, n)
	for i := range obs {
		obs[i] = model.Observation{
			Timestamp: seriesStart.Add(time.Duration(i) * sixMinutes),
			Value:     1.0 + 0.1*rng.NormFloat64(),
		}
	}
	return obs
}

func TestInjectedOutliersAreFlagged(t *testing.T) {
	obs := normalSeries(480, 7)
	outliers := map[int]float64{
		260: 1.8,
		300: 0.1,
		340: 2.0,
		380: -0.1,
		420: 2.2,
	}
	for idx, v := range outliers {
		obs[idx].Value = v
	}

	d := newDetectorForTest(t, testDetection())
	results, err := d.Run(context.Background(), obs)
	require.NoError(t, err)
	require.Len(t, results, len(obs))

	for idx := range outliers {
		assert.True(t, results[idx].IsSpike, "outlier at %d not flagged: %+v", idx, results[idx])
	}

	warmEnd := seriesStart.Add(24 * time.Hour)
	normal, within := 0, 0
	for i, c := range results {
		if obs[i].Timestamp.Before(warmEnd) {
			continue
		}
		if _, injected := outliers[i]; injected {
			continue
		}
		normal++
		if c.Reason == model.ReasonWithinRange {
			within++
		}
	}
	require.Positive(t, normal)
	assert.GreaterOrEqual(t, float64(within)/float64(normal), 0.95)
}

func TestWarmupIsInsufficientHistory(t *testing.T) {
	obs := normalSeries(300, 11)
	d := newDetectorForTest(t, testDetection())
	results, err := d.Run(context.Background(), obs)
	require.NoError(t, err)

	warmEnd := seriesStart.Add(24 * time.Hour)
	for i, c := range results {
		if obs[i].Timestamp.Before(warmEnd) {
			assert.Equal(t, model.ReasonInsufficientHistory, c.Reason, "index %d", i)
			assert.False(t, c.IsSpike)
		} else {
			assert.NotEqual(t, model.ReasonInsufficientHistory, c.Reason, "index %d", i)
			assert.Equal(t, 240, c.WindowCount, "index %d", i)
		}
	}
}

func TestMinEntriesGuardWithGaps(t *testing.T) {
	cfg := testDetection()
	cfg.Window = time.Hour
	obs := []model.Observation{}
	// ten readings in the first hour, then a long gap, then more readings
	for i := 0; i < 10; i++ {
		obs = append(obs, model.Observation{Timestamp: seriesStart.Add(time.Duration(i) * sixMinutes), Value: 1})
	}
	later := seriesStart.Add(5 * time.Hour)
	for i := 0; i < 30; i++ {
		obs = append(obs, model.Observation{Timestamp: later.Add(time.Duration(i) * time.Minute), Value: 1})
	}
	d := newDetectorForTest(t, cfg)
	results, err := d.Run(context.Background(), obs)
	require.NoError(t, err)
	// the first reading after the gap sees an empty window
	assert.Equal(t, model.ReasonInsufficientHistory, results[10].Reason)
	assert.Equal(t, 0, results[10].WindowCount)
	// twenty minutes after the gap the window is full enough
	assert.Equal(t, model.ReasonWithinRange, results[30].Reason)
	assert.Equal(t, 20, results[30].WindowCount)
}

func TestReasonPartition(t *testing.T) {
	obs := normalSeries(600, 3)
	obs[400].Value = 5
	obs[500].Value = -5
	d := newDetectorForTest(t, testDetection())
	results, err := d.Run(context.Background(), obs)
	require.NoError(t, err)
	for _, c := range results {
		switch c.Reason {
		case model.ReasonBelowLower, model.ReasonAboveUpper:
			assert.True(t, c.IsSpike)
		case model.ReasonWithinRange, model.ReasonInsufficientHistory:
			assert.False(t, c.IsSpike)
		default:
			t.Fatalf("unexpected reason %q", c.Reason)
		}
		if c.Reason != model.ReasonInsufficientHistory {
			assert.LessOrEqual(t, c.Interval.Lower, c.Interval.Upper)
		}
	}
	assert.Equal(t, model.ReasonAboveUpper, results[400].Reason)
	assert.Equal(t, model.ReasonBelowLower, results[500].Reason)
}

func TestRunIsIdempotent(t *testing.T) {
	obs := normalSeries(500, 5)
	obs[300].Value = 3
	d := newDetectorForTest(t, testDetection())
	first, err := d.Run(context.Background(), obs)
	require.NoError(t, err)
	second, err := d.Run(context.Background(), obs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParallelMatchesSequential(t *testing.T) {
	obs := normalSeries(900, 13)
	obs[500].Value = 4
	obs[700].Value = -2

	seq := newDetectorForTest(t, testDetection())
	want, err := seq.Run(context.Background(), obs)
	require.NoError(t, err)

	for _, workers := range []int{2, 3, 7} {
		cfg := testDetection()
		cfg.Workers = workers
		par := newDetectorForTest(t, cfg)
		got, err := par.Run(context.Background(), obs)
		require.NoError(t, err)
		assert.Equal(t, want, got, "workers=%d", workers)
	}
}

func TestDegenerateWindow(t *testing.T) {
	cfg := testDetection()
	window := make([]float64, 30)
	for i := range window {
		window[i] = 1.5
	}
	d := newDetectorForTest(t, cfg)

	c := d.Classify(window, 1.5)
	assert.Equal(t, model.ReasonWithinRange, c.Reason)
	assert.Equal(t, model.Interval{Lower: 1.5, Upper: 1.5}, c.Interval)

	assert.Equal(t, model.ReasonAboveUpper, d.Classify(window, 1.6).Reason)
	assert.Equal(t, model.ReasonBelowLower, d.Classify(window, 1.4).Reason)

	cfg.Buffer = 0.2
	buffered := newDetectorForTest(t, cfg)
	assert.Equal(t, model.ReasonWithinRange, buffered.Classify(window, 1.6).Reason)
}

func TestBufferBoundary(t *testing.T) {
	iv := model.Interval{Lower: 1.00, Upper: 2.00}
	assert.Equal(t, model.ReasonWithinRange, ReasonFor(2.04, iv, 0.05))
	assert.Equal(t, model.ReasonAboveUpper, ReasonFor(2.06, iv, 0.05))
	assert.Equal(t, model.ReasonWithinRange, ReasonFor(0.96, iv, 0.05))
	assert.Equal(t, model.ReasonBelowLower, ReasonFor(0.94, iv, 0.05))
}

func TestClassifyInsufficientWindow(t *testing.T) {
	d := newDetectorForTest(t, testDetection())
	c := d.Classify([]float64{1, 2, 3}, 100)
	assert.Equal(t, model.ReasonInsufficientHistory, c.Reason)
	assert.False(t, c.IsSpike)
	assert.Equal(t, 3, c.WindowCount)
}

func TestExcludeSpikesKeepsWindowClean(t *testing.T) {
	obs := normalSeries(480, 21)
	obs[300].Value = 3.0
	obs[320].Value = 2.5

	plain := newDetectorForTest(t, testDetection())
	got, err := plain.Run(context.Background(), obs)
	require.NoError(t, err)
	assert.True(t, got[300].IsSpike)
	// the first spike widens the window enough to hide the second
	assert.False(t, got[320].IsSpike)

	cfg := testDetection()
	cfg.ExcludeSpikes = true
	excluding := newDetectorForTest(t, cfg)
	got, err = excluding.Run(context.Background(), obs)
	require.NoError(t, err)
	assert.True(t, got[300].IsSpike)
	assert.True(t, got[320].IsSpike)
	assert.LessOrEqual(t, got[320].WindowCount, 239)
}

func TestRunRejectsBadInput(t *testing.T) {
	d := newDetectorForTest(t, testDetection())

	unsorted := normalSeries(5, 1)
	unsorted[2], unsorted[3] = unsorted[3], unsorted[2]
	_, err := d.Run(context.Background(), unsorted)
	require.ErrorIs(t, err, ErrUnsorted)

	bad := normalSeries(5, 1)
	bad[4].Value = math.NaN()
	_, err = d.Run(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestRunEmpty(t *testing.T) {
	d := newDetectorForTest(t, testDetection())
	results, err := d.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunHonoursCancellation(t *testing.T) {
	d := newDetectorForTest(t, testDetection())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Run(ctx, normalSeries(10, 1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testDetection()
	cfg.NBins = 0
	_, err := New(cfg, nil)
	require.Error(t, err)
}
