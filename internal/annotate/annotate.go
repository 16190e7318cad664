// Package annotate draws detection overlays onto frames for human review and
// assembles annotated frames into an output video.
package annotate

import (
	"fmt"
	"image"
	"math"

	"github.com/ayusman/mindwatch/internal/detector"
	"gocv.io/x/gocv"
)

// MinThickness is the thinnest box outline drawn, in pixels.
const MinThickness = 2

// Thickness returns the box outline width for a confidence: four pixels per
// unit of confidence, never below MinThickness.
func Thickness(confidence float64) int {
	if math.IsNaN(confidence) {
		return MinThickness
	}
	return max(MinThickness, int(confidence*4))
}

// Label returns the text drawn above a detection box.
func Label(d detector.Detection) string {
	return fmt.Sprintf("%s: %.2f", d.Class, d.Confidence)
}

// Annotate returns a copy of frame with a box and label drawn for every
// detection. The input frame is not modified; the caller owns the result.
//
// Box corners outside the image are clamped to its edges and non-finite
// coordinates are treated as zero, so malformed detections are drawn at the
// border instead of failing.
func Annotate(frame gocv.Mat, dets []detector.Detection) gocv.Mat {
	return AnnotateWithFont(frame, dets, DefaultFont())
}

// AnnotateWithFont is Annotate with an explicit label font.
func AnnotateWithFont(frame gocv.Mat, dets []detector.Detection, font Font) gocv.Mat {
	out := frame.Clone()
	if out.Empty() {
		return out
	}

	width, height := out.Cols(), out.Rows()

	for _, d := range dets {
		clr := ColorFor(d.Class)

		x1 := clamp(d.X1, width)
		y1 := clamp(d.Y1, height)
		x2 := clamp(d.X2, width)
		y2 := clamp(d.Y2, height)

		gocv.Rectangle(&out, image.Rect(x1, y1, x2, y2), clr, Thickness(d.Confidence))

		text := Label(d)
		textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

		// draw the label background then the text over it
		bg := image.Rect(x1, y1-textSize.Y-font.TopPad-font.BottomPad, x1+textSize.X, y1)
		gocv.Rectangle(&out, bg, clr, -1)

		gocv.PutTextWithParams(&out, text, image.Pt(x1, y1-font.BottomPad),
			font.Face, font.Scale, font.Color, font.Thickness, font.LineType, false)
	}

	return out
}

// clamp converts a pixel coordinate to an int inside [0, size-1].
func clamp(v float64, size int) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return min(max(int(v), 0), size-1)
}
