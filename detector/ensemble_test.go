package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firedResult(id DetectorID, ts time.Time, normalized float64) DetectorResult {
	return DetectorResult{
		DetectorID:      id,
		Timestamp:       ts,
		Metric:          "resting_heart_rate",
		RawScore:        normalized * 6,
		NormalizedScore: normalized,
		Fired:           true,
	}
}

func TestCombine_MergesMethodsPerTimestamp(t *testing.T) {
	ts := testStart.Add(5 * time.Hour)
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{60, 60, 60, 60, 60, 110})
	results := []DetectorResult{
		firedResult(DetectorZScore, ts, 0.95),
		firedResult(DetectorIQR, ts, 0.8),
	}

	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	anomalies := Combine("resting_heart_rate", window, results, nil, DefaultParams(), now)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, ts, a.Timestamp)
	assert.Equal(t, 110.0, a.Value)
	assert.Equal(t, []DetectorID{DetectorIQR, DetectorZScore}, a.ContributingMethods)
	assert.Equal(t, now, a.CreatedAt)
}

func TestCombine_DecisiveScoreTakesMax(t *testing.T) {
	ts := testStart
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{110})
	results := []DetectorResult{
		firedResult(DetectorZScore, ts, 0.95),
		firedResult(DetectorLOF, ts, 0.2),
	}

	anomalies := Combine("resting_heart_rate", window, results, nil, DefaultParams(), time.Now())
	require.Len(t, anomalies, 1)

	// One decisive method overrides the weighted average.
	assert.Equal(t, 0.95, anomalies[0].EnsembleScore)
	assert.Equal(t, SeverityCritical, anomalies[0].Severity)
}

func TestCombine_WeightedAverageBelowDecisive(t *testing.T) {
	ts := testStart
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{90})
	results := []DetectorResult{
		firedResult(DetectorZScore, ts, 0.6),
		firedResult(DetectorIQR, ts, 0.7),
	}

	anomalies := Combine("resting_heart_rate", window, results, nil, DefaultParams(), time.Now())
	require.Len(t, anomalies, 1)
	assert.InDelta(t, 0.65, anomalies[0].EnsembleScore, 1e-9)
	assert.Equal(t, SeverityMedium, anomalies[0].Severity)
}

func TestCombine_BelowDecisionThresholdDropped(t *testing.T) {
	ts := testStart
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{70})
	results := []DetectorResult{firedResult(DetectorZScore, ts, 0.4)}

	anomalies := Combine("resting_heart_rate", window, results, nil, DefaultParams(), time.Now())
	assert.Empty(t, anomalies)
}

func TestCombine_MultiplierSuppressesSensitiveMethod(t *testing.T) {
	ts := testStart
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{90})
	results := []DetectorResult{firedResult(DetectorZScore, ts, 0.8)}

	thresholds := map[DetectorID]PersonalThreshold{
		DetectorZScore: {
			Metric:     "resting_heart_rate",
			DetectorID: DetectorZScore,
			Multiplier: 10.0,
		},
	}

	anomalies := Combine("resting_heart_rate", window, results, thresholds, DefaultParams(), time.Now())
	assert.Empty(t, anomalies, "a heavily penalized method alone must not fire")
}

func TestCombine_WeightsShiftEnsembleScore(t *testing.T) {
	ts := testStart
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{90})
	results := []DetectorResult{
		firedResult(DetectorZScore, ts, 0.8),
		firedResult(DetectorIQR, ts, 0.4),
	}

	p := DefaultParams()
	p.Weights = map[DetectorID]float64{
		DetectorZScore: 3.0,
		DetectorIQR:    1.0,
	}

	anomalies := Combine("resting_heart_rate", window, results, nil, p, time.Now())
	require.Len(t, anomalies, 1)
	// (3*0.8 + 1*0.4) / 4 = 0.7
	assert.InDelta(t, 0.7, anomalies[0].EnsembleScore, 1e-9)
}

func TestCombine_SkipsUnfiredResults(t *testing.T) {
	ts := testStart
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{90})
	results := []DetectorResult{
		{DetectorID: DetectorZScore, Timestamp: ts, Metric: "resting_heart_rate", NormalizedScore: 0.99},
	}

	anomalies := Combine("resting_heart_rate", window, results, nil, DefaultParams(), time.Now())
	assert.Empty(t, anomalies)
}

func TestAnomalyID_StableAndOrderInsensitive(t *testing.T) {
	ts := testStart
	a := AnomalyID("hrv", ts, []DetectorID{DetectorZScore, DetectorIQR})
	b := AnomalyID("hrv", ts, []DetectorID{DetectorIQR, DetectorZScore})
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	c := AnomalyID("hrv", ts.Add(time.Second), []DetectorID{DetectorIQR, DetectorZScore})
	assert.NotEqual(t, a, c)

	d := AnomalyID("sleep_duration", ts, []DetectorID{DetectorIQR, DetectorZScore})
	assert.NotEqual(t, a, d)
}
