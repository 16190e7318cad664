package detector

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newFrame(t *testing.T, w, h int) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	gocv.Rectangle(&m, image.Rect(0, 0, w, h), color.RGBA{40, 40, 40, 0}, -1)
	return m
}

func TestFromCorners(t *testing.T) {
	t.Run("derives center and size", func(t *testing.T) {
		d := FromCorners("reading", 0.8, 10, 20, 110, 170)
		assert.Equal(t, 60.0, d.X)
		assert.Equal(t, 95.0, d.Y)
		assert.Equal(t, 100.0, d.Width)
		assert.Equal(t, 150.0, d.Height)
		assert.True(t, d.Consistent(1e-9))
	})

	t.Run("reorders swapped corners", func(t *testing.T) {
		d := FromCorners("reading", 0.8, 110, 170, 10, 20)
		assert.Equal(t, 10.0, d.X1)
		assert.Equal(t, 20.0, d.Y1)
		assert.Equal(t, 110.0, d.X2)
		assert.Equal(t, 170.0, d.Y2)
		assert.True(t, d.Consistent(1e-9))
	})
}

func TestFromCenter(t *testing.T) {
	d := FromCenter("writing", 0.7, 100, 200, 80, 120)
	assert.Equal(t, 60.0, d.X1)
	assert.Equal(t, 140.0, d.Y1)
	assert.Equal(t, 140.0, d.X2)
	assert.Equal(t, 260.0, d.Y2)
	assert.True(t, d.Consistent(1e-9))

	neg := FromCenter("writing", 0.7, 100, 200, -80, -120)
	assert.Equal(t, 80.0, neg.Width)
	assert.True(t, neg.Consistent(1e-9))
}

func TestNewFrameResult(t *testing.T) {
	batch := Batch{
		Detections: []Detection{Box("reading", 0.9, 0)},
		Source:     "yolov8",
	}

	t.Run("timestamp from fps", func(t *testing.T) {
		fr := NewFrameResult(30, 30, batch)
		assert.Equal(t, 30, fr.FrameIndex)
		assert.InDelta(t, 1.0, fr.Timestamp, 1e-9)
		assert.Equal(t, "yolov8", fr.Source)
		assert.False(t, fr.Synthetic)
		assert.Equal(t, []string{"reading"}, fr.Labels())
	})

	t.Run("zero fps gives zero timestamp", func(t *testing.T) {
		fr := NewFrameResult(30, 0, batch)
		assert.Equal(t, 0.0, fr.Timestamp)
	})

	t.Run("detections are copied", func(t *testing.T) {
		fr := NewFrameResult(0, 25, batch)
		batch.Detections[0].Class = "sleeping"
		assert.Equal(t, "reading", fr.Detections[0].Class)
	})
}

func TestParseYOLOv8(t *testing.T) {
	line := []byte(`{"boxes":[[10,20,110,170],[200,50,260,150]],"conf":[0.9,0.2],"cls":[1,6],"names":{"1":"reading","6":"writing"}}`)

	t.Run("filters below threshold", func(t *testing.T) {
		dets, err := parseYOLOv8(line, 0.4)
		require.NoError(t, err)
		require.Len(t, dets, 1)
		assert.Equal(t, "reading", dets[0].Class)
		assert.Equal(t, 60.0, dets[0].X)
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		dets, err := parseYOLOv8(line, 0.2)
		require.NoError(t, err)
		assert.Len(t, dets, 2)
	})

	t.Run("mismatched arrays", func(t *testing.T) {
		_, err := parseYOLOv8([]byte(`{"boxes":[[1,2,3,4]],"conf":[],"cls":[0]}`), 0)
		assert.Error(t, err)
	})

	t.Run("service error", func(t *testing.T) {
		_, err := parseYOLOv8([]byte(`{"error":"decode failed"}`), 0)
		assert.ErrorContains(t, err, "decode failed")
	})

	t.Run("unknown class id", func(t *testing.T) {
		dets, err := parseYOLOv8([]byte(`{"boxes":[[1,2,3,4]],"conf":[0.9],"cls":[42]}`), 0)
		require.NoError(t, err)
		assert.Equal(t, "class_42", dets[0].Class)
	})
}

func TestParseYOLOv5(t *testing.T) {
	line := []byte(`{"rows":[{"xmin":5,"ymin":5,"xmax":55,"ymax":105,"confidence":0.77,"class":2,"name":""},{"xmin":0,"ymin":0,"xmax":1,"ymax":1,"confidence":0.1,"class":0,"name":"listening"}]}`)

	dets, err := parseYOLOv5(line, 0.4)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "sleeping", dets[0].Class)
	assert.Equal(t, 50.0, dets[0].Width)

	_, err = parseYOLOv5([]byte("not json"), 0.4)
	assert.Error(t, err)
}

func TestSyntheticDetector(t *testing.T) {
	t.Run("count, labels and bounds", func(t *testing.T) {
		s := NewSeededSyntheticDetector(7)
		for i := 0; i < 50; i++ {
			dets := s.Generate(640, 480)
			require.GreaterOrEqual(t, len(dets), SyntheticMinDetections)
			require.LessOrEqual(t, len(dets), SyntheticMaxDetections)

			for _, d := range dets {
				assert.Contains(t, syntheticLabels, d.Class)
				assert.GreaterOrEqual(t, d.Confidence, SyntheticMinConfidence)
				assert.LessOrEqual(t, d.Confidence, SyntheticMaxConfidence)
				assert.GreaterOrEqual(t, d.X, float64(SyntheticMargin))
				assert.LessOrEqual(t, d.X, float64(640-SyntheticMargin))
				assert.GreaterOrEqual(t, d.Y, float64(SyntheticMargin))
				assert.LessOrEqual(t, d.Y, float64(480-SyntheticMargin))
				assert.True(t, d.Consistent(1e-9))
			}
		}
	})

	t.Run("same seed same output", func(t *testing.T) {
		a := NewSeededSyntheticDetector(99).Generate(640, 480)
		b := NewSeededSyntheticDetector(99).Generate(640, 480)
		assert.Equal(t, a, b)
	})

	t.Run("small image uses center", func(t *testing.T) {
		dets := NewSeededSyntheticDetector(1).Generate(120, 90)
		require.NotEmpty(t, dets)
		for _, d := range dets {
			assert.Equal(t, 60.0, d.X)
			assert.Equal(t, 45.0, d.Y)
		}
	})

	t.Run("boxes stay inside small images", func(t *testing.T) {
		sizes := []struct{ w, h int }{{120, 90}, {101, 75}, {64, 64}, {250, 150}}
		s := NewSeededSyntheticDetector(5)
		for _, sz := range sizes {
			for i := 0; i < 20; i++ {
				for _, d := range s.Generate(sz.w, sz.h) {
					assert.GreaterOrEqual(t, d.X1, 0.0, "%dx%d", sz.w, sz.h)
					assert.GreaterOrEqual(t, d.Y1, 0.0, "%dx%d", sz.w, sz.h)
					assert.LessOrEqual(t, d.X2, float64(sz.w), "%dx%d", sz.w, sz.h)
					assert.LessOrEqual(t, d.Y2, float64(sz.h), "%dx%d", sz.w, sz.h)
				}
			}
		}
	})

	t.Run("empty frame", func(t *testing.T) {
		m := gocv.NewMat()
		defer m.Close()
		dets, err := NewSyntheticDetector().Detect(&m, 0.4)
		require.NoError(t, err)
		assert.Empty(t, dets)
	})
}

func TestAdapter(t *testing.T) {
	frame := newFrame(t, 640, 480)

	t.Run("backend results", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetDetections([]Detection{Box("writing", 0.9, 0)})

		a := NewAdapterWithBackend("yolov8", mock, DefaultConfig())
		b, err := a.Detect(&frame)
		require.NoError(t, err)
		assert.Equal(t, "yolov8", b.Source)
		assert.False(t, b.Synthetic)
		assert.Len(t, b.Detections, 1)
		assert.Equal(t, "yolov8", a.Mode())
		assert.Equal(t, 0, a.Fallbacks())
	})

	t.Run("backend failure degrades one frame", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetError(errors.New("inference crashed"))

		a := NewAdapterWithBackend("yolov8", mock, DefaultConfig())
		a.SetSynthetic(NewSeededSyntheticDetector(3))

		b, err := a.Detect(&frame)
		require.NoError(t, err)
		assert.True(t, b.Synthetic)
		assert.Equal(t, SourceSynthetic, b.Source)
		assert.NotEmpty(t, b.Detections)
		assert.Equal(t, 1, a.Fallbacks())

		mock.SetError(nil)
		b, err = a.Detect(&frame)
		require.NoError(t, err)
		assert.False(t, b.Synthetic)
	})

	t.Run("fallback disabled surfaces error", func(t *testing.T) {
		mock := NewMockDetector()
		boom := errors.New("inference crashed")
		mock.SetError(boom)

		cfg := DefaultConfig()
		cfg.AllowSynthetic = false
		a := NewAdapterWithBackend("yolov8", mock, cfg)

		_, err := a.Detect(&frame)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("no backend", func(t *testing.T) {
		a := NewAdapterWithBackend("", nil, DefaultConfig())
		assert.True(t, a.Synthetic())
		assert.Equal(t, SourceSynthetic, a.Mode())

		b, err := a.Detect(&frame)
		require.NoError(t, err)
		assert.True(t, b.Synthetic)

		cfg := DefaultConfig()
		cfg.AllowSynthetic = false
		_, err = NewAdapterWithBackend("", nil, cfg).Detect(&frame)
		assert.ErrorIs(t, err, ErrNoBackend)
	})

	t.Run("close releases backend", func(t *testing.T) {
		mock := NewMockDetector()
		a := NewAdapterWithBackend("yolov5", mock, DefaultConfig())
		require.NoError(t, a.Close())
		assert.True(t, mock.Closed())
	})
}

func TestMockDetector_Sequence(t *testing.T) {
	mock := NewMockDetector()
	mock.SetSequence(func(call int) []Detection {
		if call%2 == 0 {
			return nil
		}
		return []Detection{Box("sleeping", 0.5, 0)}
	})

	frame := newFrame(t, 64, 64)
	first, _ := mock.Detect(&frame, 0)
	second, _ := mock.Detect(&frame, 0)
	assert.Empty(t, first)
	assert.Len(t, second, 1)
	assert.Equal(t, 2, mock.Calls())
}

func TestNewServiceDetector_MissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/best.pt"
	_, err := NewServiceDetector(FormatYOLOv8, cfg)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

// Stand-in service scripts, run by /bin/sh in place of the Python interpreter.
const (
	readyService  = "echo '{\"ready\":true}'\nexec cat >/dev/null\n"
	failedService = "echo '{\"ready\":false,\"error\":\"No module named ultralytics\"}'\nexit 1\n"
	silentService = "exit 1\n"
	hungService   = "exec sleep 10\n"
)

// serviceConfig returns a Config whose services are the given shell scripts.
// An empty script leaves that backend without a service script.
func serviceConfig(t *testing.T, v8, v5 string) Config {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	dir := t.TempDir()
	model := filepath.Join(dir, "best.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	for format, body := range map[Format]string{FormatYOLOv8: v8, FormatYOLOv5: v5} {
		if body == "" {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, format.script()), []byte(body), 0o755))
	}

	cfg := DefaultConfig()
	cfg.ModelPath = model
	cfg.Python = "/bin/sh"
	cfg.ScriptDir = dir
	cfg.StartTimeout = 5 * time.Second
	return cfg
}

func TestNewServiceDetector_Handshake(t *testing.T) {
	t.Run("ready service is kept running", func(t *testing.T) {
		d, err := NewServiceDetector(FormatYOLOv8, serviceConfig(t, readyService, ""))
		require.NoError(t, err)
		assert.Equal(t, FormatYOLOv8, d.Format())
		assert.NoError(t, d.Close())
	})

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"model fails to load", failedService, "No module named ultralytics"},
		{"exits without a line", silentService, "exited before ready"},
		{"missing script", "", "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServiceDetector(FormatYOLOv8, serviceConfig(t, tt.script, ""))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("slow start times out", func(t *testing.T) {
		cfg := serviceConfig(t, hungService, "")
		cfg.StartTimeout = 100 * time.Millisecond

		start := time.Now()
		_, err := NewServiceDetector(FormatYOLOv8, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not ready")
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestNewAdapter_BackendSelection(t *testing.T) {
	tests := []struct {
		name      string
		v8, v5    string
		mode      string
		synthetic bool
	}{
		{"primary loads", readyService, readyService, "yolov8", false},
		{"primary fails, legacy loads", failedService, readyService, "yolov5", false},
		{"both fail", failedService, silentService, SourceSynthetic, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(serviceConfig(t, tt.v8, tt.v5))
			t.Cleanup(func() { a.Close() })

			assert.Equal(t, tt.mode, a.Mode())
			assert.Equal(t, tt.synthetic, a.Synthetic())
		})
	}
}
