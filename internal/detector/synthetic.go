package detector

import (
	"math/rand/v2"
	"sync"

	"gocv.io/x/gocv"
)

// Synthetic detection parameters, in pixels where applicable.
const (
	SyntheticMinDetections = 2
	SyntheticMaxDetections = 5
	SyntheticMinConfidence = 0.6
	SyntheticMaxConfidence = 0.95
	SyntheticMargin        = 100
	SyntheticMinWidth      = 80
	SyntheticMaxWidth      = 150
	SyntheticMinHeight     = 120
	SyntheticMaxHeight     = 200
)

// SourceSynthetic is the Source recorded for synthetic detections.
const SourceSynthetic = "synthetic"

// syntheticLabels are the behaviours the synthetic detector draws from.
var syntheticLabels = []string{"listening", "reading", "writing", "sleeping", "using_mobile", "turn"}

// SyntheticDetector produces plausible but random detections so that the
// rest of the pipeline can run without a trained model. Its output is never
// authoritative.
type SyntheticDetector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticDetector creates a randomly seeded SyntheticDetector.
func NewSyntheticDetector() *SyntheticDetector {
	return NewSeededSyntheticDetector(rand.Uint64())
}

// NewSeededSyntheticDetector creates a SyntheticDetector with a fixed seed.
func NewSeededSyntheticDetector(seed uint64) *SyntheticDetector {
	return &SyntheticDetector{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Detect returns 2-5 random detections placed within the frame bounds.
// The threshold is ignored. An empty frame yields no detections.
func (s *SyntheticDetector) Detect(frame *gocv.Mat, threshold float64) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}
	return s.Generate(frame.Cols(), frame.Rows()), nil
}

// Generate returns random detections for an image of the given size.
func (s *SyntheticDetector) Generate(width, height int) []Detection {
	if width <= 0 || height <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.between(SyntheticMinDetections, SyntheticMaxDetections)
	dets := make([]Detection, 0, n)

	for i := 0; i < n; i++ {
		xc := s.between(marginRange(width))
		yc := s.between(marginRange(height))
		w := min(s.between(SyntheticMinWidth, SyntheticMaxWidth), fitSpan(xc, width))
		h := min(s.between(SyntheticMinHeight, SyntheticMaxHeight), fitSpan(yc, height))

		label := syntheticLabels[s.rng.IntN(len(syntheticLabels))]
		conf := SyntheticMinConfidence + s.rng.Float64()*(SyntheticMaxConfidence-SyntheticMinConfidence)

		dets = append(dets, FromCenter(label, conf, float64(xc), float64(yc), float64(w), float64(h)))
	}

	return dets
}

// Close is a no-op for the synthetic detector.
func (s *SyntheticDetector) Close() error {
	return nil
}

// between returns a uniform integer in [lo, hi].
func (s *SyntheticDetector) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.IntN(hi-lo+1)
}

// marginRange returns the range of centre coordinates that keeps the fixed
// margin from both borders. Images narrower than two margins use their middle.
func marginRange(size int) (int, int) {
	lo, hi := SyntheticMargin, size-SyntheticMargin
	if hi < lo {
		mid := size / 2
		return mid, mid
	}
	return lo, hi
}

// fitSpan returns the largest box extent centred on c that stays inside
// [0, size].
func fitSpan(c, size int) int {
	return 2 * min(c, size-c)
}
