package detector

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean_DropsMissingAndNonFinite(t *testing.T) {
	v1, v2 := 10.0, 20.0
	nan := math.NaN()
	inf := math.Inf(1)

	series := []MetricSample{
		{Timestamp: testStart.Add(time.Hour), Metric: "hrv", Value: &v2},
		{Timestamp: testStart, Metric: "hrv", Value: &v1},
		{Timestamp: testStart.Add(2 * time.Hour), Metric: "hrv", Value: nil},
		{Timestamp: testStart.Add(3 * time.Hour), Metric: "hrv", Value: &nan},
		{Timestamp: testStart.Add(4 * time.Hour), Metric: "hrv", Value: &inf},
	}

	result := Clean(series)
	require.Len(t, result.Window, 2)
	assert.Equal(t, 3, result.Skipped)

	// Sorted ascending regardless of input order.
	assert.Equal(t, testStart, result.Window[0].Timestamp)
	assert.Equal(t, 10.0, *result.Window[0].Value)
	assert.Equal(t, testStart.Add(time.Hour), result.Window[1].Timestamp)
}

func TestClean_DeduplicatesTimestampsKeepingFirst(t *testing.T) {
	v1, v2 := 1.0, 2.0
	series := []MetricSample{
		{Timestamp: testStart, Metric: "hrv", Value: &v1},
		{Timestamp: testStart, Metric: "hrv", Value: &v2},
	}

	result := Clean(series)
	require.Len(t, result.Window, 1)
	assert.Equal(t, 1.0, *result.Window[0].Value)
	assert.Equal(t, 1, result.Skipped)
}

func TestBuildFeatureMatrix_AlignsOnCommonBuckets(t *testing.T) {
	hr := sampleSeries("resting_heart_rate", testStart, time.Minute, []float64{60, 61, 62, 63})
	// sleep series misses the second minute
	sleep := []MetricSample{
		hr[0], hr[2], hr[3],
	}
	for i := range sleep {
		v := 7.0 + float64(i)
		sleep[i] = MetricSample{Timestamp: sleep[i].Timestamp, Metric: "sleep_duration", Value: &v}
	}

	matrix := BuildFeatureMatrix(map[string][]MetricSample{
		"resting_heart_rate": hr,
		"sleep_duration":     sleep,
	}, time.Minute)

	require.NotNil(t, matrix)
	// Column order is the sorted metric names.
	assert.Equal(t, []string{"resting_heart_rate", "sleep_duration"}, matrix.Names)
	// Only buckets present in both series survive.
	require.Len(t, matrix.Rows, 3)
	assert.Equal(t, []float64{60, 7}, matrix.Rows[0].Values)
	assert.Equal(t, []float64{62, 8}, matrix.Rows[1].Values)
	assert.Equal(t, []float64{63, 9}, matrix.Rows[2].Values)
}

func TestBuildFeatureMatrix_KeepsOriginalSampleTimestamps(t *testing.T) {
	// Samples land mid-bucket; the row must remember each sample's own
	// timestamp alongside the bucket start.
	v1, v2 := 60.0, 7.5
	hrTS := testStart.Add(20 * time.Second)
	sleepTS := testStart.Add(40 * time.Second)

	matrix := BuildFeatureMatrix(map[string][]MetricSample{
		"resting_heart_rate": {{Timestamp: hrTS, Metric: "resting_heart_rate", Value: &v1}},
		"sleep_duration":     {{Timestamp: sleepTS, Metric: "sleep_duration", Value: &v2}},
	}, time.Minute)

	require.NotNil(t, matrix)
	require.Len(t, matrix.Rows, 1)

	row := matrix.Rows[0]
	assert.Equal(t, testStart, row.Timestamp)
	require.Len(t, row.Timestamps, 2)
	assert.Equal(t, hrTS, row.Timestamps[0])
	assert.Equal(t, sleepTS, row.Timestamps[1])
}

func TestBuildFeatureMatrix_EmptyInput(t *testing.T) {
	assert.Nil(t, BuildFeatureMatrix(nil, time.Minute))
}
