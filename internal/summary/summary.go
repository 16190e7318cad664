// Package summary turns detections and slot timelines into the engagement
// summaries consumed by reporting.
package summary

import (
	"maps"
	"time"

	"github.com/ayusman/mindwatch/internal/activity"
	"github.com/ayusman/mindwatch/internal/detector"
	"github.com/ayusman/mindwatch/internal/track"
	"gonum.org/v1/gonum/stat"
)

// Soft failure messages carried in the Error field of a summary.
const (
	MsgNoDetections = "No detections found"
	MsgNoResults    = "No detection results available"
)

// Kind distinguishes image and video analyses.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// ImageSummary is the result of analyzing a single frame.
type ImageSummary struct {
	TotalStudents      int            `json:"total_students"`
	AttentiveStudents  int            `json:"attentive_students"`
	DistractedStudents int            `json:"distracted_students"`
	EngagementRate     float64        `json:"engagement_rate"`
	ActivityBreakdown  map[string]int `json:"activity_breakdown"`
	Timestamp          time.Time      `json:"timestamp"`
	// Error is set when the frame had no detections.
	Error string `json:"error,omitempty"`
}

// StudentAnalysis is the per-slot part of a VideoSummary.
type StudentAnalysis struct {
	TotalDetections      int                     `json:"total_detections"`
	AttentivePercentage  float64                 `json:"attentive_percentage"`
	DistractedPercentage float64                 `json:"distracted_percentage"`
	Classification       activity.Classification `json:"classification"`
	ActivityBreakdown    map[string]int          `json:"activity_breakdown"`
	AverageConfidence    float64                 `json:"average_confidence"`
	Timeline             []track.Entry           `json:"timeline"`
}

// VideoSummary is the result of analyzing a sampled video.
type VideoSummary struct {
	// VideoDuration is the number of analyzed frames divided by the source
	// frame rate, in seconds.
	VideoDuration       float64                    `json:"video_duration"`
	TotalFramesAnalyzed int                        `json:"total_frames_analyzed"`
	StudentsTracked     int                        `json:"students_tracked"`
	StudentAnalysis     map[string]StudentAnalysis `json:"student_analysis"`
	Timestamp           time.Time                  `json:"timestamp"`
	// NoDetections is set when frames were analyzed but none had detections.
	NoDetections bool `json:"no_detections,omitempty"`
	// Error is set when no frames were analyzed.
	Error string `json:"error,omitempty"`
}

// Summary holds exactly one of an image or a video summary.
type Summary struct {
	Kind  Kind          `json:"kind"`
	Image *ImageSummary `json:"image,omitempty"`
	Video *VideoSummary `json:"video,omitempty"`
}

// ForImage wraps an ImageSummary.
func ForImage(s ImageSummary) Summary {
	return Summary{Kind: KindImage, Image: &s}
}

// ForVideo wraps a VideoSummary.
func ForVideo(s VideoSummary) Summary {
	return Summary{Kind: KindVideo, Video: &s}
}

// Failure returns the soft failure message of the wrapped summary, if any.
func (s Summary) Failure() string {
	switch {
	case s.Image != nil:
		return s.Image.Error
	case s.Video != nil:
		return s.Video.Error
	}
	return ""
}

// percent returns part/total*100, or 0 when total is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// SummarizeImage computes headcount and engagement for one frame. An empty
// detection list yields a zero summary flagged with MsgNoDetections.
func SummarizeImage(fr detector.FrameResult, at time.Time) ImageSummary {
	labels := fr.Labels()
	attentive, distracted := activity.Counts(labels)

	s := ImageSummary{
		TotalStudents:      len(labels),
		AttentiveStudents:  attentive,
		DistractedStudents: distracted,
		EngagementRate:     percent(attentive, len(labels)),
		ActivityBreakdown:  activity.Breakdown(labels),
		Timestamp:          at,
	}
	if len(labels) == 0 {
		s.Error = MsgNoDetections
	}
	return s
}

// SummarizeVideo classifies every non-empty slot and aggregates run totals.
// No analyzed frames yields a summary flagged with MsgNoResults.
func SummarizeVideo(frames []detector.FrameResult, slots []track.Slot, fps float64, at time.Time) VideoSummary {
	s := VideoSummary{
		StudentAnalysis: make(map[string]StudentAnalysis),
		Timestamp:       at,
	}
	if len(frames) == 0 {
		s.Error = MsgNoResults
		return s
	}

	for _, slot := range slots {
		if len(slot.Timeline) == 0 {
			continue
		}
		s.StudentAnalysis[slot.ID] = analyzeSlot(slot)
	}

	s.TotalFramesAnalyzed = len(frames)
	s.StudentsTracked = len(s.StudentAnalysis)
	s.NoDetections = s.StudentsTracked == 0
	if fps > 0 {
		s.VideoDuration = float64(len(frames)) / fps
	}
	return s
}

func analyzeSlot(slot track.Slot) StudentAnalysis {
	labels := slot.Activities()
	attentive, distracted := activity.Counts(labels)

	a := StudentAnalysis{
		TotalDetections:      len(labels),
		AttentivePercentage:  percent(attentive, len(labels)),
		DistractedPercentage: percent(distracted, len(labels)),
		ActivityBreakdown:    activity.Breakdown(labels),
		AverageConfidence:    stat.Mean(slot.Confidences(), nil),
		Timeline:             slot.Timeline,
	}
	a.Classification = activity.Classify(a.AttentivePercentage, a.DistractedPercentage)
	return a
}

// mergeBreakdowns sums activity histograms.
func mergeBreakdowns(dst map[string]int, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

// cloneBreakdown copies a histogram, never returning nil.
func cloneBreakdown(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return maps.Clone(m)
}
