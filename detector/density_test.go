package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLOF_ConstantSeriesAbstains(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 7.5
	}
	req := Request{
		Metric: "sleep_duration",
		Window: sampleSeries("sleep_duration", testStart, time.Hour, values),
	}

	results, err := NewLOFDetector().Detect(req, DefaultParams())
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestLOF_InsufficientDataAbstains(t *testing.T) {
	req := Request{
		Metric: "hrv",
		Window: sampleSeries("hrv", testStart, time.Hour, []float64{1, 2, 3}),
	}

	results, err := NewLOFDetector().Detect(req, DefaultParams())
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestLOF_FlagsDensityOutlier(t *testing.T) {
	// Tight alternating cluster around 50 with one point far outside.
	values := make([]float64, 30)
	for i := range values {
		if i%2 == 0 {
			values[i] = 50
		} else {
			values[i] = 52
		}
	}
	values[29] = 80

	req := Request{
		Metric: "resting_heart_rate",
		Window: sampleSeries("resting_heart_rate", testStart, time.Hour, values),
	}

	results, err := NewLOFDetector().Detect(req, DefaultParams())
	require.NoError(t, err)
	require.NotEmpty(t, results)

	outlierTS := testStart.Add(29 * time.Hour)
	for _, r := range results {
		assert.Equal(t, outlierTS, r.Timestamp, "only the sparse point should fire")
		assert.True(t, r.Fired)
		assert.Greater(t, r.RawScore, DefaultParams().LOFThreshold)
		assert.Greater(t, r.NormalizedScore, 0.0)
	}
}

func TestLOF_RepeatingPatternStaysQuiet(t *testing.T) {
	// A benign sawtooth baseline: every (value, delta) combination recurs
	// throughout the window, so nothing is locally sparse.
	values := make([]float64, 31)
	for i := range values {
		values[i] = 60 + float64(i%5) - 2 // 58..62
	}
	req := Request{
		Metric: "resting_heart_rate",
		Window: sampleSeries("resting_heart_rate", testStart, time.Hour, values),
	}

	results, err := NewLOFDetector().Detect(req, DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLOF_SpikeOnRepeatingPatternFiresOnce(t *testing.T) {
	values := make([]float64, 31)
	for i := range values {
		values[i] = 60 + float64(i%5) - 2
	}
	values[30] = 110

	req := Request{
		Metric: "resting_heart_rate",
		Window: sampleSeries("resting_heart_rate", testStart, time.Hour, values),
	}

	results, err := NewLOFDetector().Detect(req, DefaultParams())
	require.NoError(t, err)
	require.NotEmpty(t, results)

	spikeTS := testStart.Add(30 * time.Hour)
	for _, r := range results {
		assert.Equal(t, spikeTS, r.Timestamp, "recurring baseline points must not fire")
	}
}

func TestEmbedWindow(t *testing.T) {
	points, ok := embedWindow([]float64{1, 2, 3, 4, 5})
	require.True(t, ok)
	require.Len(t, points, 5)

	_, ok = embedWindow([]float64{3, 3, 3, 3})
	assert.False(t, ok)
}
