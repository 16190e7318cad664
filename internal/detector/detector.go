package detector

import (
	"time"

	"gocv.io/x/gocv"
)

// Detector defines the interface for object detection backends.
type Detector interface {
	// Detect analyzes a frame and returns the objects scoring at least
	// threshold. Returns an empty slice if nothing is detected.
	Detect(frame *gocv.Mat, threshold float64) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for object detection.
type Config struct {
	// ModelPath is the location of the trained detector weights.
	ModelPath string
	// Confidence is the minimum detection confidence threshold (0.0-1.0).
	Confidence float64
	// Python is the interpreter used to run detection services. Empty means
	// a virtual environment interpreter if one is found, else python3.
	Python string
	// AllowSynthetic enables the synthetic fallback when no backend is
	// available or a backend fails on a frame.
	AllowSynthetic bool
	// IdleTimeout stops a backend service after this long without requests.
	IdleTimeout time.Duration
	// StartTimeout bounds how long a starting service may take to load its
	// model and report ready.
	StartTimeout time.Duration
	// ScriptDir, when set, is the only directory searched for service scripts.
	ScriptDir string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelPath:      "models/best.pt",
		Confidence:     0.4,
		AllowSynthetic: true,
		IdleTimeout:    30 * time.Second,
		StartTimeout:   2 * time.Minute,
	}
}
