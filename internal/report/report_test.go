package report

import (
	"bytes"
	"testing"

	"github.com/ayusman/mindwatch/internal/activity"
	"github.com/ayusman/mindwatch/internal/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sampleAnalytics() summary.Analytics {
	return summary.Analytics{
		Kind: summary.KindVideo,
		ActivityBreakdown: map[string]int{
			"reading":  4,
			"sleeping": 2,
			"dancing":  1,
			"turn":     0,
		},
		StudentPerformance: map[string]summary.StudentAnalysis{
			"slot_0":  {AttentivePercentage: 80, DistractedPercentage: 20, Classification: activity.Attentive},
			"slot_1":  {AttentivePercentage: 25, DistractedPercentage: 75, Classification: activity.Distracted},
			"slot_10": {AttentivePercentage: 50, DistractedPercentage: 50, Classification: activity.Distracted},
		},
	}
}

func TestOrderedLabels(t *testing.T) {
	got := orderedLabels(map[string]int{"zzz": 1, "sleeping": 2, "reading": 3, "aaa": 1, "turn": 0})
	assert.Equal(t, []string{"reading", "sleeping", "aaa", "zzz"}, got)
}

func TestRender(t *testing.T) {
	for _, chart := range []string{ChartActivity, ChartEngagement, ""} {
		t.Run(chart, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Render(&buf, sampleAnalytics(), chart))
			assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
		})
	}
}

func TestRender_UnknownChart(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Render(&buf, sampleAnalytics(), "pie"), ErrUnknownChart)
}

func TestRender_NoData(t *testing.T) {
	var buf bytes.Buffer
	empty := summary.Analytics{Kind: summary.KindImage}
	assert.ErrorIs(t, Render(&buf, empty, ChartActivity), ErrNoData)
	assert.ErrorIs(t, Render(&buf, empty, ChartEngagement), ErrNoData)
	assert.Zero(t, buf.Len())
}
