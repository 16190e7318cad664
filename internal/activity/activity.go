// Package activity defines the behaviour vocabulary a classroom detector emits
// and the partition of that vocabulary into engagement buckets.
package activity

// Activity labels emitted by the detection model.
const (
	Listening   = "listening"
	Reading     = "reading"
	Writing     = "writing"
	Sleeping    = "sleeping"
	UsingMobile = "using_mobile"
	Turn        = "turn"
	Turning     = "turning"
	Student     = "student"
)

// Classification is the engagement label assigned to a student slot.
type Classification string

const (
	// Attentive means attentive activities outweigh distracted ones.
	Attentive Classification = "Attentive"
	// Distracted covers everything else, including exact ties.
	Distracted Classification = "Distracted"
)

var (
	attentive = map[string]bool{
		Listening: true,
		Reading:   true,
		Writing:   true,
	}

	distracted = map[string]bool{
		Sleeping:    true,
		UsingMobile: true,
		Turn:        true,
		Turning:     true,
	}
)

// Vocabulary returns every label the detector may emit, in model class order
// where one exists.
func Vocabulary() []string {
	return []string{Listening, Reading, Writing, Sleeping, UsingMobile, Turn, Turning, Student}
}

// IsAttentive reports whether label belongs to the attentive bucket.
func IsAttentive(label string) bool {
	return attentive[label]
}

// IsDistracted reports whether label belongs to the distracted bucket.
func IsDistracted(label string) bool {
	return distracted[label]
}

// Classify returns Attentive only when the attentive share strictly exceeds
// the distracted share. Ties go to Distracted.
func Classify(attentiveShare, distractedShare float64) Classification {
	if attentiveShare > distractedShare {
		return Attentive
	}
	return Distracted
}

// Counts tallies attentive and distracted labels. Labels outside both buckets
// (such as "student") count towards neither.
func Counts(labels []string) (attentiveCount, distractedCount int) {
	for _, l := range labels {
		switch {
		case attentive[l]:
			attentiveCount++
		case distracted[l]:
			distractedCount++
		}
	}
	return attentiveCount, distractedCount
}

// Breakdown returns a histogram of labels.
func Breakdown(labels []string) map[string]int {
	counts := make(map[string]int, len(labels))
	for _, l := range labels {
		counts[l]++
	}
	return counts
}
