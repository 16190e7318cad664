package annotate

import (
	"image/color"

	"github.com/ayusman/mindwatch/internal/activity"
)

var (
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Black = color.RGBA{R: 0, G: 0, B: 0, A: 255}

	// palette keys box colours by activity label. Labels outside the
	// palette are drawn in Neutral.
	palette = map[string]color.RGBA{
		activity.Listening:   {R: 0, G: 255, B: 0, A: 255},   // green
		activity.Reading:     {R: 0, G: 0, B: 255, A: 255},   // blue
		activity.Writing:     {R: 255, G: 0, B: 0, A: 255},   // red
		activity.Sleeping:    {R: 128, G: 0, B: 128, A: 255}, // purple
		activity.UsingMobile: Black,
		activity.Turn:        {R: 255, G: 255, B: 0, A: 255}, // yellow
		activity.Turning:     {R: 255, G: 255, B: 0, A: 255},
	}

	// Neutral is used for labels without a palette entry.
	Neutral = White
)

// ColorFor returns the box colour for an activity label.
func ColorFor(label string) color.RGBA {
	if c, ok := palette[label]; ok {
		return c
	}
	return Neutral
}
