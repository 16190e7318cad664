// Package detector provides object detection backends for classroom footage
// and normalizes their output into a single detection record format.
package detector

import "math"

// Detection is one object observed in one frame. The box is carried in both
// center+size and corner form; the constructors keep the two consistent.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// FromCorners builds a Detection from a corner-form box. Swapped corners are
// reordered so that X1 <= X2 and Y1 <= Y2.
func FromCorners(class string, confidence, x1, y1, x2, y2 float64) Detection {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	return Detection{
		Class:      class,
		Confidence: confidence,
		X:          (x1 + x2) / 2,
		Y:          (y1 + y2) / 2,
		Width:      x2 - x1,
		Height:     y2 - y1,
		X1:         x1,
		Y1:         y1,
		X2:         x2,
		Y2:         y2,
	}
}

// FromCenter builds a Detection from a center+size box.
func FromCenter(class string, confidence, x, y, width, height float64) Detection {
	width = math.Abs(width)
	height = math.Abs(height)

	return Detection{
		Class:      class,
		Confidence: confidence,
		X:          x,
		Y:          y,
		Width:      width,
		Height:     height,
		X1:         x - width/2,
		Y1:         y - height/2,
		X2:         x + width/2,
		Y2:         y + height/2,
	}
}

// Consistent reports whether the center and corner forms agree within tol.
func (d Detection) Consistent(tol float64) bool {
	return math.Abs(d.X-(d.X1+d.X2)/2) <= tol &&
		math.Abs(d.Y-(d.Y1+d.Y2)/2) <= tol &&
		math.Abs(d.Width-(d.X2-d.X1)) <= tol &&
		math.Abs(d.Height-(d.Y2-d.Y1)) <= tol
}

// FrameResult is the analysis of one sampled frame. It is not modified after
// construction.
type FrameResult struct {
	FrameIndex int         `json:"frame"`
	Timestamp  float64     `json:"timestamp"`
	Detections []Detection `json:"detections"`
	// Source names the backend that produced the detections.
	Source string `json:"source"`
	// Synthetic is set when the detections came from the synthetic fallback
	// rather than a real model.
	Synthetic bool `json:"synthetic"`
}

// NewFrameResult builds a FrameResult for frameIndex, deriving the timestamp
// from fps. A non-positive fps yields a zero timestamp.
func NewFrameResult(frameIndex int, fps float64, b Batch) FrameResult {
	var ts float64
	if fps > 0 {
		ts = float64(frameIndex) / fps
	}

	dets := make([]Detection, len(b.Detections))
	copy(dets, b.Detections)

	return FrameResult{
		FrameIndex: frameIndex,
		Timestamp:  ts,
		Detections: dets,
		Source:     b.Source,
		Synthetic:  b.Synthetic,
	}
}

// Labels returns the class label of every detection in order.
func (f FrameResult) Labels() []string {
	labels := make([]string, len(f.Detections))
	for i, d := range f.Detections {
		labels[i] = d.Class
	}
	return labels
}
