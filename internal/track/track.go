// Package track accumulates per-frame detections into per-slot timelines.
//
// Slots are positional: the i-th detection of every frame is appended to
// slot "slot_<i>". The detector makes no promise to return students in the
// same order from frame to frame, so a slot is not a persistent identity and
// per-slot statistics describe a detection position, not a person. A real
// tracker could replace Aggregator behind the same Slot type.
package track

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ayusman/mindwatch/internal/detector"
)

const slotPrefix = "slot_"

// Position is the center+size box of a timeline entry.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Entry is one observation of a slot.
type Entry struct {
	FrameIndex int      `json:"frame"`
	Timestamp  float64  `json:"timestamp"`
	Activity   string   `json:"activity"`
	Confidence float64  `json:"confidence"`
	Position   Position `json:"position"`
}

// Slot is the timeline of one detection position.
type Slot struct {
	ID       string  `json:"slot_id"`
	Timeline []Entry `json:"timeline"`
}

// Activities returns the activity label of every entry in order.
func (s Slot) Activities() []string {
	labels := make([]string, len(s.Timeline))
	for i, e := range s.Timeline {
		labels[i] = e.Activity
	}
	return labels
}

// Confidences returns the confidence of every entry in order.
func (s Slot) Confidences() []float64 {
	out := make([]float64, len(s.Timeline))
	for i, e := range s.Timeline {
		out[i] = e.Confidence
	}
	return out
}

// SlotID returns the id of the slot at position index.
func SlotID(index int) string {
	return slotPrefix + strconv.Itoa(index)
}

// Aggregator owns the slots of a single analysis run. It is not safe for
// concurrent use; each run uses its own Aggregator.
type Aggregator struct {
	slots  map[string]*Slot
	frames int
	last   int
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.Reset()
	return a
}

// Update appends each detection of fr to the slot matching its position in
// the frame. Frames must arrive in increasing frame index order.
func (a *Aggregator) Update(fr detector.FrameResult) error {
	if a.frames > 0 && fr.FrameIndex <= a.last {
		return fmt.Errorf("frame %d arrived after frame %d", fr.FrameIndex, a.last)
	}

	for i, d := range fr.Detections {
		id := SlotID(i)
		slot, ok := a.slots[id]
		if !ok {
			slot = &Slot{ID: id}
			a.slots[id] = slot
		}

		slot.Timeline = append(slot.Timeline, Entry{
			FrameIndex: fr.FrameIndex,
			Timestamp:  fr.Timestamp,
			Activity:   d.Class,
			Confidence: d.Confidence,
			Position: Position{
				X:      d.X,
				Y:      d.Y,
				Width:  d.Width,
				Height: d.Height,
			},
		})
	}

	a.frames++
	a.last = fr.FrameIndex
	return nil
}

// Reset clears all slots and counters.
func (a *Aggregator) Reset() {
	a.slots = make(map[string]*Slot)
	a.frames = 0
	a.last = -1
}

// FramesSeen returns how many frames have been passed to Update.
func (a *Aggregator) FramesSeen() int {
	return a.frames
}

// Len returns the number of slots.
func (a *Aggregator) Len() int {
	return len(a.slots)
}

// Slot returns a copy of the slot with the given id.
func (a *Aggregator) Slot(id string) (Slot, bool) {
	s, ok := a.slots[id]
	if !ok {
		return Slot{}, false
	}
	return Slot{ID: s.ID, Timeline: slices.Clone(s.Timeline)}, true
}

// Slots returns copies of all slots ordered by position index.
func (a *Aggregator) Slots() []Slot {
	out := make([]Slot, 0, len(a.slots))
	for _, s := range a.slots {
		out = append(out, Slot{ID: s.ID, Timeline: slices.Clone(s.Timeline)})
	}

	slices.SortFunc(out, func(x, y Slot) int {
		return slotIndex(x.ID) - slotIndex(y.ID)
	})
	return out
}

func slotIndex(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, slotPrefix))
	if err != nil {
		return -1
	}
	return n
}
