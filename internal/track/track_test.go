package track

import (
	"testing"

	"github.com/ayusman/mindwatch/internal/detector"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(index int, labels ...string) detector.FrameResult {
	dets := make([]detector.Detection, len(labels))
	for i, l := range labels {
		dets[i] = detector.Box(l, 0.8, i)
	}
	return detector.NewFrameResult(index, 30, detector.Batch{Detections: dets, Source: "mock"})
}

func TestAggregator_PositionalSlots(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.Update(frame(0, "reading", "sleeping")))
	require.NoError(t, a.Update(frame(5, "writing")))
	require.NoError(t, a.Update(frame(10, "listening", "turn", "using_mobile")))

	assert.Equal(t, 3, a.FramesSeen())
	assert.Equal(t, 3, a.Len())

	s0, ok := a.Slot("slot_0")
	require.True(t, ok)
	assert.Equal(t, []string{"reading", "writing", "listening"}, s0.Activities())

	s1, _ := a.Slot("slot_1")
	assert.Equal(t, []string{"sleeping", "turn"}, s1.Activities())
	assert.Equal(t, 0, s1.Timeline[0].FrameIndex)
	assert.Equal(t, 10, s1.Timeline[1].FrameIndex)
	assert.InDelta(t, 10.0/30, s1.Timeline[1].Timestamp, 1e-9)

	s2, _ := a.Slot("slot_2")
	assert.Len(t, s2.Timeline, 1)
}

func TestAggregator_EntryPosition(t *testing.T) {
	a := NewAggregator()
	fr := detector.NewFrameResult(0, 25, detector.Batch{
		Detections: []detector.Detection{detector.FromCorners("reading", 0.66, 10, 20, 110, 220)},
	})
	require.NoError(t, a.Update(fr))

	s, _ := a.Slot("slot_0")
	want := Entry{
		FrameIndex: 0,
		Timestamp:  0,
		Activity:   "reading",
		Confidence: 0.66,
		Position:   Position{X: 60, Y: 120, Width: 100, Height: 200},
	}
	if diff := cmp.Diff(want, s.Timeline[0]); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_SlotsOrdered(t *testing.T) {
	a := NewAggregator()
	labels := make([]string, 12)
	for i := range labels {
		labels[i] = "reading"
	}
	require.NoError(t, a.Update(frame(0, labels...)))

	slots := a.Slots()
	require.Len(t, slots, 12)
	assert.Equal(t, "slot_0", slots[0].ID)
	assert.Equal(t, "slot_2", slots[2].ID)
	assert.Equal(t, "slot_10", slots[10].ID)
	assert.Equal(t, "slot_11", slots[11].ID)
}

func TestAggregator_OutOfOrderFrame(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.Update(frame(10, "reading")))
	assert.Error(t, a.Update(frame(5, "reading")))
	assert.Error(t, a.Update(frame(10, "reading")))
	assert.Equal(t, 1, a.FramesSeen())
}

func TestAggregator_EmptyFrameCounts(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.Update(frame(0)))
	assert.Equal(t, 1, a.FramesSeen())
	assert.Equal(t, 0, a.Len())
}

func TestAggregator_CopiesAreIsolated(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.Update(frame(0, "reading")))

	s, _ := a.Slot("slot_0")
	s.Timeline[0].Activity = "sleeping"

	again, _ := a.Slot("slot_0")
	assert.Equal(t, "reading", again.Timeline[0].Activity)
}

func TestAggregator_ResetMatchesFresh(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.Update(frame(0, "reading", "sleeping")))
	require.NoError(t, a.Update(frame(5, "writing")))
	a.Reset()

	fresh := NewAggregator()
	assert.Equal(t, fresh.FramesSeen(), a.FramesSeen())
	assert.Equal(t, fresh.Len(), a.Len())
	assert.Equal(t, fresh.Slots(), a.Slots())
	_, ok := a.Slot("slot_0")
	assert.False(t, ok)

	// usable again, starting from frame 0
	require.NoError(t, a.Update(frame(0, "listening")))
	assert.Equal(t, 1, a.Len())
}

func TestSlotID(t *testing.T) {
	assert.Equal(t, "slot_0", SlotID(0))
	assert.Equal(t, "slot_17", SlotID(17))
}
