package annotate

import (
	"image/color"

	"gocv.io/x/gocv"
)

// Font defines the parameters for rendering label text using GoCV.
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// TopPad is the space above the text inside the label background.
	TopPad int
	// BottomPad is the distance from the text baseline to the box top edge.
	BottomPad int
}

// DefaultFont returns the label font used for annotations.
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.6,
		Color:     White,
		Thickness: 2,
		LineType:  gocv.Line8,
		TopPad:    5,
		BottomPad: 5,
	}
}
