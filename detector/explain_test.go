package detector

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplain_ContainsStatisticalContext(t *testing.T) {
	values := []float64{60, 61, 59, 60, 62, 58, 60, 61, 110}
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, values)

	a := Anomaly{
		Metric:              "resting_heart_rate",
		Timestamp:           testStart.Add(8 * time.Hour),
		Value:               110,
		ContributingMethods: []DetectorID{DetectorIQR, DetectorZScore},
	}

	text := Explain(a, window)
	assert.Contains(t, text, "resting_heart_rate")
	assert.Contains(t, text, "标准差")
	assert.Contains(t, text, "命中方法: iqr, zscore")
}

func TestExplain_ReportsRecurrence(t *testing.T) {
	// Two spikes of similar magnitude: the earlier one counts as recurrence.
	values := []float64{60, 60, 60, 108, 60, 60, 60, 60, 110}
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, values)

	a := Anomaly{
		Metric:              "resting_heart_rate",
		Timestamp:           testStart.Add(8 * time.Hour),
		Value:               110,
		ContributingMethods: []DetectorID{DetectorZScore},
	}

	text := Explain(a, window)
	assert.Contains(t, text, "次类似波动")
	assert.NotContains(t, text, "未出现过类似波动")
}

func TestExplain_IncludesTopFeatures(t *testing.T) {
	window := sampleSeries("resting_heart_rate", testStart, time.Hour, []float64{60, 60, 60, 60, 60, 60, 60, 110})
	a := Anomaly{
		Metric:    "resting_heart_rate",
		Timestamp: testStart.Add(7 * time.Hour),
		Value:     110,
		ContributingFeatures: map[string]float64{
			"resting_heart_rate": 0.7,
			"sleep_duration":     0.2,
			"step_count":         0.1,
		},
		ContributingMethods: []DetectorID{DetectorIsolationForest},
	}

	text := Explain(a, window)
	idx := strings.Index(text, "resting_heart_rate(70%)")
	require.GreaterOrEqual(t, idx, 0)
	// Features listed by descending weight.
	assert.Less(t, idx, strings.Index(text, "sleep_duration(20%)"))
	assert.Less(t, strings.Index(text, "sleep_duration(20%)"), strings.Index(text, "step_count(10%)"))
}

func TestSuggestedActions_AlwaysOffersNormalForMe(t *testing.T) {
	for _, severity := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		actions := SuggestedActions(Anomaly{Severity: severity})
		require.NotEmpty(t, actions)
		assert.Contains(t, actions[0], "标记为对我正常")
	}
}

func TestTopFeatures_DeterministicOrderOnTies(t *testing.T) {
	features := map[string]float64{"b": 0.5, "a": 0.5}
	out := topFeatures(features, 2)
	assert.Equal(t, []string{"a(50%)", "b(50%)"}, out)
}
