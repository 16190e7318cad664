package detector

import (
	"errors"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoBackend is returned by Adapter.Detect when no backend is available and
// the synthetic fallback is disabled.
var ErrNoBackend = errors.New("no detection backend available")

// Batch is the normalized result of detecting one frame.
type Batch struct {
	Detections []Detection
	// Source is the backend name, or SourceSynthetic.
	Source string
	// Synthetic is true when Detections are not real inference.
	Synthetic bool
}

// Adapter selects a detection backend by availability probing and degrades
// to synthetic detections when the backend is missing or fails on a frame.
type Adapter struct {
	backend        Detector
	backendName    string
	synthetic      Detector
	threshold      float64
	allowSynthetic bool

	mu        sync.Mutex
	fallbacks int
	warned    bool
}

// NewAdapter probes the primary then the legacy backend and falls back to the
// synthetic detector when neither is available.
func NewAdapter(config Config) *Adapter {
	for _, format := range []Format{FormatYOLOv8, FormatYOLOv5} {
		d, err := NewServiceDetector(format, config)
		if err == nil {
			log.Printf("[detector] using %s backend", format)
			return NewAdapterWithBackend(string(format), d, config)
		}
		log.Printf("[detector] %s backend not available: %v", format, err)
	}

	return NewAdapterWithBackend("", nil, config)
}

// NewAdapterWithBackend wraps an explicit backend. A nil backend puts the
// adapter in synthetic mode.
func NewAdapterWithBackend(name string, backend Detector, config Config) *Adapter {
	a := &Adapter{
		backend:        backend,
		backendName:    name,
		synthetic:      NewSyntheticDetector(),
		threshold:      config.Confidence,
		allowSynthetic: config.AllowSynthetic,
	}

	if backend == nil && config.AllowSynthetic {
		log.Printf("[detector] SYNTHETIC detection mode: no trained model loaded, results are not real inference")
	}

	return a
}

// SetSynthetic replaces the synthetic fallback, e.g. with a seeded one.
func (a *Adapter) SetSynthetic(d Detector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.synthetic = d
}

// Detect runs the backend on frame. Backend errors degrade to synthetic
// detections for this frame only; an error is returned only when the
// fallback is disabled.
func (a *Adapter) Detect(frame *gocv.Mat) (Batch, error) {
	if a.backend != nil {
		dets, err := a.backend.Detect(frame, a.threshold)
		if err == nil {
			return Batch{Detections: dets, Source: a.backendName}, nil
		}
		if !a.allowSynthetic {
			return Batch{Source: a.backendName}, err
		}
		log.Printf("[detector] %s backend failed: %v; SYNTHETIC detections used for this frame", a.backendName, err)
	} else if !a.allowSynthetic {
		return Batch{}, ErrNoBackend
	}

	a.mu.Lock()
	a.fallbacks++
	synthetic := a.synthetic
	a.mu.Unlock()

	dets, _ := synthetic.Detect(frame, a.threshold)
	return Batch{Detections: dets, Source: SourceSynthetic, Synthetic: true}, nil
}

// Mode returns the active backend name, or SourceSynthetic when no backend
// is loaded.
func (a *Adapter) Mode() string {
	if a.backend == nil {
		return SourceSynthetic
	}
	return a.backendName
}

// Synthetic reports whether the adapter has no real backend.
func (a *Adapter) Synthetic() bool {
	return a.backend == nil
}

// Threshold returns the confidence threshold applied to every frame.
func (a *Adapter) Threshold() float64 {
	return a.threshold
}

// Fallbacks returns how many frames were served by the synthetic detector.
func (a *Adapter) Fallbacks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallbacks
}

// Close releases the backend.
func (a *Adapter) Close() error {
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}
