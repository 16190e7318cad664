package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartition(t *testing.T) {
	for _, l := range []string{Listening, Reading, Writing} {
		assert.True(t, IsAttentive(l), l)
		assert.False(t, IsDistracted(l), l)
	}
	for _, l := range []string{Sleeping, UsingMobile, Turn, Turning} {
		assert.True(t, IsDistracted(l), l)
		assert.False(t, IsAttentive(l), l)
	}

	assert.False(t, IsAttentive(Student))
	assert.False(t, IsDistracted(Student))
	assert.False(t, IsAttentive("class_9"))
	assert.False(t, IsDistracted("class_9"))
}

func TestVocabulary(t *testing.T) {
	vocab := Vocabulary()
	assert.Len(t, vocab, 8)
	for _, l := range vocab {
		assert.True(t, l == Student || IsAttentive(l) || IsDistracted(l), l)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		attentive  float64
		distracted float64
		want       Classification
	}{
		{"mostly attentive", 70, 30, Attentive},
		{"mostly distracted", 20, 80, Distracted},
		{"tie goes to distracted", 50, 50, Distracted},
		{"all neutral", 0, 0, Distracted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.attentive, tt.distracted))
		})
	}
}

func TestCounts(t *testing.T) {
	a, d := Counts([]string{Reading, Reading, Sleeping, Student, "unknown"})
	assert.Equal(t, 2, a)
	assert.Equal(t, 1, d)
}

func TestBreakdown(t *testing.T) {
	got := Breakdown([]string{Reading, Sleeping, Reading})
	assert.Equal(t, map[string]int{Reading: 2, Sleeping: 1}, got)
	assert.Empty(t, Breakdown(nil))
}
