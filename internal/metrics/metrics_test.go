package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.FrameDetected(3, true, time.Millisecond)
		m.AnnotationFailed()
		m.RunFinished(false, false, true)
	})
}

func TestRunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	m.RunStarted()
	m.RunStarted()
	assert.Equal(t, int64(3), m.ActiveRuns.Load())

	m.RunFinished(false, false, true)
	m.RunFinished(true, false, false)
	m.RunFinished(true, true, false)

	assert.Equal(t, int64(0), m.ActiveRuns.Load())
	assert.Equal(t, uint64(1), m.RunsCompleted.Load())
	assert.Equal(t, uint64(1), m.RunsFailed.Load())
	assert.Equal(t, uint64(1), m.RunsCanceled.Load())
	assert.Equal(t, uint64(1), m.RunsDegraded.Load())
}

func TestHandler(t *testing.T) {
	m := New()
	m.FrameDetected(4, false, 20*time.Millisecond)
	m.FrameDetected(2, true, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "mindwatch_frames_sampled_total 2")
	assert.Contains(t, text, "mindwatch_frames_synthetic_total 1")
	assert.Contains(t, text, "mindwatch_detections_total 6")
	assert.Contains(t, text, "mindwatch_detect_seconds_count 2")
	assert.Contains(t, text, "mindwatch_active_runs 0")
}
