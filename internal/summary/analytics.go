package summary

import (
	"fmt"
	"math"

	"github.com/ayusman/mindwatch/internal/activity"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Overview is the attentive/distracted split of an analysis. For videos it
// counts slot classifications; for images it counts detections.
type Overview struct {
	Attentive      int     `json:"attentive"`
	Distracted     int     `json:"distracted"`
	EngagementRate float64 `json:"engagement_rate"`
}

// Analytics is the chart-ready view of a Summary.
type Analytics struct {
	Kind               Kind                       `json:"kind"`
	EngagementOverview Overview                   `json:"engagement_overview"`
	ActivityBreakdown  map[string]int             `json:"activity_breakdown"`
	StudentPerformance map[string]StudentAnalysis `json:"student_performance"`
	Metrics            Metrics                    `json:"metrics"`
	Duration           string                     `json:"duration,omitempty"`
}

// BuildAnalytics derives the engagement overview, the activity breakdown
// aggregated over all students and per-student performance.
func BuildAnalytics(s Summary) Analytics {
	a := Analytics{
		Kind:               s.Kind,
		ActivityBreakdown:  map[string]int{},
		StudentPerformance: map[string]StudentAnalysis{},
		Metrics:            ComputeMetrics(s),
	}

	switch {
	case s.Image != nil:
		a.EngagementOverview = Overview{
			Attentive:      s.Image.AttentiveStudents,
			Distracted:     s.Image.DistractedStudents,
			EngagementRate: s.Image.EngagementRate,
		}
		a.ActivityBreakdown = cloneBreakdown(s.Image.ActivityBreakdown)

	case s.Video != nil:
		var attentive int
		for id, st := range s.Video.StudentAnalysis {
			if st.Classification == activity.Attentive {
				attentive++
			}
			mergeBreakdowns(a.ActivityBreakdown, st.ActivityBreakdown)
			a.StudentPerformance[id] = st
		}

		total := len(s.Video.StudentAnalysis)
		a.EngagementOverview = Overview{
			Attentive:      attentive,
			Distracted:     total - attentive,
			EngagementRate: percent(attentive, total),
		}
		if s.Video.Error == "" {
			a.Duration = FormatDuration(s.Video.VideoDuration)
		}
	}

	return a
}

// Metrics are summary statistics of engagement. Image analyses fill the
// rates; video analyses fill the distribution of per-student attentive
// percentages.
type Metrics struct {
	EngagementRate  float64 `json:"engagement_rate"`
	DistractionRate float64 `json:"distraction_rate"`

	AvgEngagement float64 `json:"avg_engagement"`
	MinEngagement float64 `json:"min_engagement"`
	MaxEngagement float64 `json:"max_engagement"`
	// StdEngagement is the population standard deviation.
	StdEngagement float64 `json:"std_engagement"`
}

// ComputeMetrics derives Metrics from a Summary.
func ComputeMetrics(s Summary) Metrics {
	var m Metrics

	switch {
	case s.Image != nil:
		m.EngagementRate = percent(s.Image.AttentiveStudents, s.Image.TotalStudents)
		m.DistractionRate = 100 - m.EngagementRate

	case s.Video != nil:
		if len(s.Video.StudentAnalysis) == 0 {
			return m
		}
		pcts := make([]float64, 0, len(s.Video.StudentAnalysis))
		for _, st := range s.Video.StudentAnalysis {
			pcts = append(pcts, st.AttentivePercentage)
		}

		mean, variance := stat.PopMeanVariance(pcts, nil)
		m.AvgEngagement = mean
		m.StdEngagement = math.Sqrt(variance)
		m.MinEngagement = floats.Min(pcts)
		m.MaxEngagement = floats.Max(pcts)
	}

	return m
}

// FormatDuration renders seconds as seconds, minutes or hours with one
// decimal.
func FormatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.1f seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.1f minutes", seconds/60)
	default:
		return fmt.Sprintf("%.1f hours", seconds/3600)
	}
}
