package capture

import (
	"context"
	"errors"
	"iter"
	"log"
	"math"

	"gocv.io/x/gocv"
)

// Sampling defaults.
const (
	DefaultStride = 5
	// ProgressEvery is the number of sampled frames between progress reports.
	ProgressEvery = 10
)

var (
	// ErrInvalidStride is returned for a sampling stride below 1.
	ErrInvalidStride = errors.New("sampling stride must be at least 1")
	// ErrSamplerConsumed is recorded when Frames is ranged over twice.
	ErrSamplerConsumed = errors.New("sampler already consumed")
)

// ProgressFunc receives a completion percentage in [0, 100].
type ProgressFunc func(percent float64)

// Sampler yields every stride-th frame of a source exactly once.
type Sampler struct {
	src      VideoSource
	stride   int
	progress ProgressFunc

	total int
	fps   float64

	consumed bool
	sampled  int
	last     float64
	err      error
}

// NewSampler creates a sampler over src. The sampler takes ownership of src
// and closes it when iteration ends.
func NewSampler(src VideoSource, stride int, progress ProgressFunc) (*Sampler, error) {
	if stride < 1 {
		return nil, ErrInvalidStride
	}

	return &Sampler{
		src:      src,
		stride:   stride,
		progress: progress,
		total:    src.FrameCount(),
		fps:      src.FPS(),
	}, nil
}

// TotalFrames returns the frame count reported by the source up front.
func (s *Sampler) TotalFrames() int { return s.total }

// FPS returns the frame rate reported by the source up front.
func (s *Sampler) FPS() float64 { return s.fps }

// Stride returns the sampling stride.
func (s *Sampler) Stride() int { return s.stride }

// Expected returns ceil(total/stride), the number of frames the sampler
// will yield if the reported count is accurate.
func (s *Sampler) Expected() int {
	if s.total <= 0 {
		return 0
	}
	return (s.total + s.stride - 1) / s.stride
}

// Frames returns the sampled (frame index, frame) pairs in increasing order.
// The yielded Mat is reused and only valid until the next iteration.
// Cancelling ctx stops the sequence before the next read; Err then reports
// the context error.
func (s *Sampler) Frames(ctx context.Context) iter.Seq2[int, *gocv.Mat] {
	return func(yield func(int, *gocv.Mat) bool) {
		if s.consumed {
			s.err = ErrSamplerConsumed
			return
		}
		s.consumed = true
		defer s.src.Close()

		frame := gocv.NewMat()
		defer frame.Close()

		for index := 0; ; index++ {
			if err := ctx.Err(); err != nil {
				s.err = err
				return
			}

			if !s.src.Read(&frame) {
				break
			}
			if index%s.stride != 0 {
				continue
			}

			s.sampled++
			if !yield(index, &frame) {
				return
			}

			if s.sampled%ProgressEvery == 0 && s.total > 0 {
				s.report(float64(index) / float64(s.total) * 100)
			}
		}

		s.report(100)
	}
}

// Sampled returns how many frames have been yielded.
func (s *Sampler) Sampled() int { return s.sampled }

// Err returns the reason iteration stopped early, if any.
func (s *Sampler) Err() error { return s.err }

// report forwards a clamped, non-decreasing percentage. A panicking
// callback is logged and otherwise ignored.
func (s *Sampler) report(percent float64) {
	if s.progress == nil {
		return
	}

	percent = math.Max(0, math.Min(100, percent))
	if percent < s.last {
		percent = s.last
	}
	s.last = percent

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[sampler] progress callback panicked: %v", r)
		}
	}()
	s.progress(percent)
}
