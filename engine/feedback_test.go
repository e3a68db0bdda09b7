package engine

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-backend/detector"
)

func TestFeedback_FalsePositivesRaiseMultiplier(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	var threshold detector.PersonalThreshold
	var err error
	for i := 0; i < 3; i++ {
		threshold, err = fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore,
			fmt.Sprintf("anomaly-%d", i), VerdictFalsePositive)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, threshold.FalsePositiveCount)
	assert.Equal(t, 0, threshold.TruePositiveCount)
	assert.InDelta(t, math.Pow(1.1, 3), threshold.Multiplier, 1e-9)
}

func TestFeedback_DuplicateSubmissionIsIdempotent(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	first, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "anomaly-1", VerdictFalsePositive)
	require.NoError(t, err)
	second, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "anomaly-1", VerdictFalsePositive)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.FalsePositiveCount)
	assert.InDelta(t, 1.1, second.Multiplier, 1e-9)
}

func TestFeedback_TruePositiveOnlyCounts(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	threshold, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorIQR, "anomaly-1", VerdictTruePositive)
	require.NoError(t, err)

	assert.Equal(t, 1, threshold.TruePositiveCount)
	assert.Equal(t, 0, threshold.FalsePositiveCount)
	assert.Equal(t, 1.0, threshold.Multiplier)
}

func TestFeedback_LatestVerdictWinsPerAnomaly(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	_, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "anomaly-1", VerdictFalsePositive)
	require.NoError(t, err)
	threshold, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "anomaly-1", VerdictTruePositive)
	require.NoError(t, err)

	// The correction replaces the earlier verdict instead of stacking.
	assert.Equal(t, 0, threshold.FalsePositiveCount)
	assert.Equal(t, 1, threshold.TruePositiveCount)
	assert.Equal(t, 1.0, threshold.Multiplier)
}

func TestFeedback_MultiplierClampedAtUpperBound(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	var threshold detector.PersonalThreshold
	var err error
	for i := 0; i < 30; i++ {
		threshold, err = fp.Submit(ctx, "resting_heart_rate", detector.DetectorLOF,
			fmt.Sprintf("anomaly-%d", i), VerdictFalsePositive)
		require.NoError(t, err)
	}

	assert.Equal(t, 30, threshold.FalsePositiveCount)
	assert.Equal(t, detector.MaxMultiplier, threshold.Multiplier)
}

func TestFeedback_RejectsInvalidInput(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	_, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "", VerdictFalsePositive)
	assert.ErrorIs(t, err, detector.ErrInvalidSample)

	_, err = fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "anomaly-1", Verdict("maybe"))
	assert.ErrorIs(t, err, detector.ErrInvalidSample)
}

func TestFeedback_ThresholdVisibleToStoreSnapshot(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	_, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "anomaly-1", VerdictFalsePositive)
	require.NoError(t, err)

	snapshot, err := store.GetThresholds(ctx, "resting_heart_rate")
	require.NoError(t, err)
	require.Contains(t, snapshot, detector.DetectorZScore)
	assert.InDelta(t, 1.1, snapshot[detector.DetectorZScore].Multiplier, 1e-9)

	// Other metrics keep their defaults.
	other, err := store.GetThresholds(ctx, "sleep_duration")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFeedback_IndependentPerDetector(t *testing.T) {
	store := NewMemStore()
	fp := NewFeedbackProcessor(store)
	ctx := context.Background()

	_, err := fp.Submit(ctx, "resting_heart_rate", detector.DetectorZScore, "anomaly-1", VerdictFalsePositive)
	require.NoError(t, err)

	threshold, err := fp.Recompute(ctx, "resting_heart_rate", detector.DetectorIQR)
	require.NoError(t, err)
	assert.Equal(t, 0, threshold.FalsePositiveCount)
	assert.Equal(t, 1.0, threshold.Multiplier)
}
