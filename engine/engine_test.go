package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-backend/detector"
)

var testStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func heartRateSeries(spikeAt int) []detector.MetricSample {
	out := make([]detector.MetricSample, 31)
	for i := range out {
		v := 60 + float64(i%5) - 2 // 58..62
		if i == spikeAt {
			v = 110
		}
		value := v
		out[i] = detector.MetricSample{
			Timestamp: testStart.Add(time.Duration(i) * time.Hour),
			Metric:    "resting_heart_rate",
			Value:     &value,
		}
	}
	return out
}

func newTestEngine(t *testing.T, temporal bool) (*Engine, *MemStore) {
	t.Helper()
	store := NewMemStore()
	eng := New(Config{TemporalEnabled: temporal}, store)
	return eng, store
}

func TestEngine_BatchDetectsSpike(t *testing.T) {
	eng, _ := newTestEngine(t, true)
	eng.SetClock(func() time.Time { return testStart.Add(48 * time.Hour) })

	anomalies, err := eng.Detect(context.Background(), heartRateSeries(30), Options{Mode: ModeBatch})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, "resting_heart_rate", a.Metric)
	assert.Equal(t, testStart.Add(30*time.Hour), a.Timestamp)
	assert.Equal(t, 110.0, a.Value)
	assert.GreaterOrEqual(t, a.EnsembleScore, 0.9)
	assert.Equal(t, detector.SeverityCritical, a.Severity)
	assert.Contains(t, a.ContributingMethods, detector.DetectorZScore)
	assert.NotEmpty(t, a.Explanation)
	assert.NotEmpty(t, a.SuggestedActions)
	assert.NotEmpty(t, a.ID)
}

func TestEngine_BatchIsDeterministic(t *testing.T) {
	eng, _ := newTestEngine(t, true)
	eng.SetClock(func() time.Time { return testStart.Add(48 * time.Hour) })

	first, err := eng.Detect(context.Background(), heartRateSeries(30), Options{Mode: ModeBatch})
	require.NoError(t, err)
	second, err := eng.Detect(context.Background(), heartRateSeries(30), Options{Mode: ModeBatch})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEngine_RealtimeEvaluatesOnlyLatestSample(t *testing.T) {
	eng, _ := newTestEngine(t, true)

	// Spike in the middle of the window: the realtime path only judges
	// the newest sample, so nothing fires.
	anomalies, err := eng.Detect(context.Background(), heartRateSeries(15), Options{Mode: ModeRealtime})
	require.NoError(t, err)
	assert.Empty(t, anomalies)

	// Same spike found by the batch path.
	anomalies, err = eng.Detect(context.Background(), heartRateSeries(15), Options{Mode: ModeBatch})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, testStart.Add(15*time.Hour), anomalies[0].Timestamp)
}

func TestEngine_RealtimeDetectsSpikeAtLatestSample(t *testing.T) {
	eng, _ := newTestEngine(t, true)

	anomalies, err := eng.Detect(context.Background(), heartRateSeries(30), Options{Mode: ModeRealtime})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, testStart.Add(30*time.Hour), anomalies[0].Timestamp)
}

func TestEngine_TemporalDisabledStillDetects(t *testing.T) {
	eng, _ := newTestEngine(t, false)

	active := eng.ActiveDetectors()
	assert.NotContains(t, active, detector.DetectorTemporal)
	assert.Len(t, active, 5)

	anomalies, err := eng.Detect(context.Background(), heartRateSeries(30), Options{Mode: ModeBatch})
	require.NoError(t, err)
	assert.Len(t, anomalies, 1)
}

func TestEngine_EnabledDetectorsRestrictsMethods(t *testing.T) {
	eng, _ := newTestEngine(t, true)

	anomalies, err := eng.Detect(context.Background(), heartRateSeries(30), Options{
		Mode:             ModeBatch,
		EnabledDetectors: []detector.DetectorID{detector.DetectorZScore},
	})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, []detector.DetectorID{detector.DetectorZScore}, anomalies[0].ContributingMethods)
}

func TestEngine_EmptyInputReturnsEmptyResult(t *testing.T) {
	eng, _ := newTestEngine(t, true)

	anomalies, err := eng.Detect(context.Background(), nil, Options{Mode: ModeBatch})
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestEngine_MultiplierSuppressionEndToEnd(t *testing.T) {
	eng, store := newTestEngine(t, false)
	ctx := context.Background()

	// Heavily penalize every active method for this metric.
	for _, id := range eng.ActiveDetectors() {
		err := store.SaveThreshold(ctx, detector.PersonalThreshold{
			Metric:     "resting_heart_rate",
			DetectorID: id,
			Multiplier: 10.0,
		})
		require.NoError(t, err)
	}

	anomalies, err := eng.Detect(ctx, heartRateSeries(30), Options{Mode: ModeBatch})
	require.NoError(t, err)
	assert.Empty(t, anomalies, "penalized thresholds must suppress the ensemble")
}

// stubDetector returns canned results after an optional delay.
type stubDetector struct {
	id      detector.DetectorID
	delay   time.Duration
	results []detector.DetectorResult
	err     error
}

func (d stubDetector) ID() detector.DetectorID { return d.id }
func (d stubDetector) Available() bool         { return true }
func (d stubDetector) Detect(detector.Request, detector.Params) ([]detector.DetectorResult, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	return d.results, d.err
}

func TestEngine_RealtimeSkipsTemporalWhenSubBudgetExceeded(t *testing.T) {
	eng, _ := newTestEngine(t, true)

	cleaned := detector.Clean(heartRateSeries(30)).Window
	req := detector.Request{Metric: "resting_heart_rate", Window: cleaned}
	temporal := detector.NewTemporalDetector(true)

	// Remaining budget below the sub-budget: the detector never starts.
	eng.config.TemporalSubBudget = time.Hour
	deadline := time.Now().Add(100 * time.Millisecond)
	results, okCount, errCount := eng.runDetectorsRealtime(
		context.Background(), req, []detector.Detector{temporal}, detector.DefaultParams(), deadline)
	assert.Empty(t, results)
	assert.Zero(t, okCount, "a skipped detector is a degradation, not a run")
	assert.Zero(t, errCount, "a skipped detector is not an error")

	// With budget to spare it runs and counts as a success.
	eng.config.TemporalSubBudget = time.Nanosecond
	deadline = time.Now().Add(time.Minute)
	_, okCount, errCount = eng.runDetectorsRealtime(
		context.Background(), req, []detector.Detector{temporal}, detector.DefaultParams(), deadline)
	assert.Equal(t, 1, okCount)
	assert.Zero(t, errCount)
}

func TestEngine_RealtimeBudgetExhaustionKeepsPartialEnsemble(t *testing.T) {
	eng, _ := newTestEngine(t, false)

	v := 60.0
	req := detector.Request{
		Metric: "resting_heart_rate",
		Window: []detector.MetricSample{{Timestamp: testStart, Metric: "resting_heart_rate", Value: &v}},
	}
	fast := stubDetector{
		id: detector.DetectorZScore,
		results: []detector.DetectorResult{{
			DetectorID:      detector.DetectorZScore,
			Timestamp:       testStart,
			Metric:          "resting_heart_rate",
			RawScore:        8,
			NormalizedScore: 1,
			Fired:           true,
		}},
	}
	slow := stubDetector{id: detector.DetectorIQR, delay: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	deadline := time.Now().Add(100 * time.Millisecond)

	// The straggler is dropped, the completed detector's output survives.
	results, okCount, errCount := eng.runDetectorsRealtime(
		ctx, req, []detector.Detector{fast, slow}, detector.DefaultParams(), deadline)
	require.Len(t, results, 1)
	assert.Equal(t, detector.DetectorZScore, results[0].DetectorID)
	assert.Equal(t, 1, okCount)
	assert.Zero(t, errCount, "a dropped straggler is not an error")

	// Nothing finishes in time: empty partial ensemble, still no error tally.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	results, okCount, errCount = eng.runDetectorsRealtime(
		ctx2, req, []detector.Detector{slow}, detector.DefaultParams(), time.Now().Add(100*time.Millisecond))
	assert.Empty(t, results)
	assert.Zero(t, okCount)
	assert.Zero(t, errCount)
}

func TestEngine_MultiMetricBatchWithOffsetSamples(t *testing.T) {
	eng, _ := newTestEngine(t, false)

	// Both metrics sample 30 seconds past the hour. Anomalies must land on
	// the real sample timestamps, never on alignment-bucket boundaries.
	var series []detector.MetricSample
	for i := 0; i < 31; i++ {
		ts := testStart.Add(time.Duration(i)*time.Hour + 30*time.Second)
		hr := 60 + float64(i%5) - 2
		steps := 8000 + 100*float64(i%5)
		if i == 30 {
			hr = 110
			steps = 20000
		}
		hrV, stepsV := hr, steps
		series = append(series,
			detector.MetricSample{Timestamp: ts, Metric: "resting_heart_rate", Value: &hrV},
			detector.MetricSample{Timestamp: ts, Metric: "steps", Value: &stepsV},
		)
	}

	anomalies, err := eng.Detect(context.Background(), series, Options{Mode: ModeBatch})
	require.NoError(t, err)
	require.Len(t, anomalies, 2)

	spikeTS := testStart.Add(30*time.Hour + 30*time.Second)
	for _, a := range anomalies {
		assert.Equal(t, spikeTS, a.Timestamp, "%s anomaly must sit on a real sample", a.Metric)
		assert.NotZero(t, a.Value)
	}
}

func TestEngine_RequestParamsOverrideConfig(t *testing.T) {
	eng, _ := newTestEngine(t, false)

	// Per-request minimum window larger than the series: every method abstains.
	anomalies, err := eng.Detect(context.Background(), heartRateSeries(30), Options{
		Mode:   ModeBatch,
		Params: &detector.Params{MinWindowPoints: 50},
	})
	require.NoError(t, err)
	assert.Empty(t, anomalies)

	// Same series under the engine defaults still fires.
	anomalies, err = eng.Detect(context.Background(), heartRateSeries(30), Options{Mode: ModeBatch})
	require.NoError(t, err)
	assert.Len(t, anomalies, 1)
}

// failingStore breaks threshold reads to simulate an unavailable state store.
type failingStore struct{ *MemStore }

func (s failingStore) GetThresholds(context.Context, string) (map[detector.DetectorID]detector.PersonalThreshold, error) {
	return nil, errors.New("connection refused")
}

func TestEngine_StateStoreFailureIsHardError(t *testing.T) {
	eng := New(Config{}, failingStore{NewMemStore()})

	_, err := eng.Detect(context.Background(), heartRateSeries(30), Options{Mode: ModeBatch})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold state unavailable")
}

func TestEngine_MultiMetricBatch(t *testing.T) {
	eng, _ := newTestEngine(t, false)

	series := heartRateSeries(30)
	for i := 0; i < 31; i++ {
		v := 7.5 + 0.1*float64(i%4)
		series = append(series, detector.MetricSample{
			Timestamp: testStart.Add(time.Duration(i) * time.Hour),
			Metric:    "sleep_duration",
			Value:     &v,
		})
	}

	anomalies, err := eng.Detect(context.Background(), series, Options{Mode: ModeBatch})
	require.NoError(t, err)

	// Only the heart-rate spike fires; the stable sleep series stays quiet.
	for _, a := range anomalies {
		assert.Equal(t, "resting_heart_rate", a.Metric)
	}
	require.NotEmpty(t, anomalies)
}
