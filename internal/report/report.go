// Package report renders analysis charts as PNG images.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/ayusman/mindwatch/internal/activity"
	"github.com/ayusman/mindwatch/internal/annotate"
	"github.com/ayusman/mindwatch/internal/summary"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Chart names accepted by Render.
const (
	ChartActivity   = "activity"
	ChartEngagement = "engagement"
)

// Default PNG size.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

var (
	// ErrNoData is returned when an analysis has nothing to chart.
	ErrNoData = errors.New("no data to chart")
	// ErrUnknownChart is returned for an unsupported chart name.
	ErrUnknownChart = errors.New("unknown chart")
)

var (
	attentiveColor  = color.RGBA{R: 46, G: 160, B: 67, A: 255}
	distractedColor = color.RGBA{R: 207, G: 34, B: 46, A: 255}
	barWidth        = vg.Points(24)
)

// ActivityChart plots the aggregated activity histogram. Known activities
// come first in vocabulary order, then any other labels alphabetically.
func ActivityChart(a summary.Analytics) (*plot.Plot, error) {
	labels := orderedLabels(a.ActivityBreakdown)
	if len(labels) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = "Activity breakdown"
	p.Y.Label.Text = "Detections"
	p.Y.Min = 0

	for i, label := range labels {
		bar, err := plotter.NewBarChart(plotter.Values{float64(a.ActivityBreakdown[label])}, barWidth)
		if err != nil {
			return nil, fmt.Errorf("activity bar %s: %w", label, err)
		}
		bar.Color = annotate.ColorFor(label)
		bar.LineStyle.Color = color.Black
		bar.XMin = float64(i)
		p.Add(bar)
	}
	p.NominalX(labels...)

	return p, nil
}

// EngagementChart plots attentive and distracted percentages per student
// as stacked bars.
func EngagementChart(a summary.Analytics) (*plot.Plot, error) {
	ids := make([]string, 0, len(a.StudentPerformance))
	for id := range a.StudentPerformance {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrNoData
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})

	attentive := make(plotter.Values, len(ids))
	distracted := make(plotter.Values, len(ids))
	for i, id := range ids {
		st := a.StudentPerformance[id]
		attentive[i] = st.AttentivePercentage
		distracted[i] = st.DistractedPercentage
	}

	p := plot.New()
	p.Title.Text = "Engagement by student"
	p.Y.Label.Text = "% of detections"
	p.Y.Min = 0
	p.Y.Max = 100

	attBars, err := plotter.NewBarChart(attentive, barWidth)
	if err != nil {
		return nil, fmt.Errorf("attentive bars: %w", err)
	}
	attBars.Color = attentiveColor

	disBars, err := plotter.NewBarChart(distracted, barWidth)
	if err != nil {
		return nil, fmt.Errorf("distracted bars: %w", err)
	}
	disBars.Color = distractedColor
	disBars.StackOn(attBars)

	p.Add(attBars, disBars)
	p.Legend.Add(string(activity.Attentive), attBars)
	p.Legend.Add(string(activity.Distracted), disBars)
	p.Legend.Top = true
	p.NominalX(ids...)

	return p, nil
}

// Render writes the named chart for a as a PNG.
func Render(w io.Writer, a summary.Analytics, chart string) error {
	var (
		p   *plot.Plot
		err error
	)
	switch chart {
	case ChartActivity, "":
		p, err = ActivityChart(a)
	case ChartEngagement:
		p, err = EngagementChart(a)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChart, chart)
	}
	if err != nil {
		return err
	}
	return WritePNG(w, p, DefaultWidth, DefaultHeight)
}

// WritePNG encodes p as a PNG of the given size.
func WritePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// orderedLabels returns the histogram keys with non-zero counts.
func orderedLabels(counts map[string]int) []string {
	var known, other []string
	for _, label := range activity.Vocabulary() {
		if counts[label] > 0 {
			known = append(known, label)
		}
	}
	for label, n := range counts {
		if n > 0 && !slices.Contains(known, label) {
			other = append(other, label)
		}
	}
	slices.SortFunc(other, strings.Compare)
	return append(known, other...)
}
