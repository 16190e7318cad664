// Package pipeline runs one image or video analysis from decoding through
// detection, slot aggregation and summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/mindwatch/internal/annotate"
	"github.com/ayusman/mindwatch/internal/capture"
	"github.com/ayusman/mindwatch/internal/detector"
	"github.com/ayusman/mindwatch/internal/metrics"
	"github.com/ayusman/mindwatch/internal/summary"
	"github.com/ayusman/mindwatch/internal/track"
	"gocv.io/x/gocv"
)

// Config holds pipeline options. It is read-only once the pipeline exists.
type Config struct {
	// Stride is the video sampling stride; values below 1 use the default.
	Stride int
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Now stamps summaries; nil means time.Now.
	Now func() time.Time
}

// Result is the terminal artifact of a run.
type Result struct {
	summary.Summary
	// Detector is the backend that served the run, or "synthetic".
	Detector string `json:"detector"`
	// Degraded is set when any frame used synthetic detections.
	Degraded        bool   `json:"degraded"`
	SyntheticFrames int    `json:"synthetic_frames"`
	AnnotatedPath   string `json:"annotated_path,omitempty"`
	// Error is the fatal error message of a failed run.
	Error string `json:"error,omitempty"`
}

// Pipeline owns the accumulation state of one run at a time. Independent
// runs use independent pipelines; they may share the detector Adapter.
type Pipeline struct {
	config   Config
	detector *detector.Adapter

	mu     sync.Mutex
	agg    *track.Aggregator
	frames []detector.FrameResult
}

// New creates a Pipeline that detects with adapter.
func New(config Config, adapter *detector.Adapter) *Pipeline {
	if config.Stride < 1 {
		config.Stride = capture.DefaultStride
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Pipeline{
		config:   config,
		detector: adapter,
		agg:      track.NewAggregator(),
	}
}

// Reset clears accumulated frames and slots.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Pipeline) resetLocked() {
	p.agg.Reset()
	p.frames = nil
}

// FrameResults returns the frames analyzed by the last run.
func (p *Pipeline) FrameResults() []detector.FrameResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]detector.FrameResult, len(p.frames))
	copy(out, p.frames)
	return out
}

// Slots returns the slot timelines of the last run.
func (p *Pipeline) Slots() []track.Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agg.Slots()
}

// runState tracks per-run bookkeeping shared by both analysis kinds.
type runState struct {
	run       *Run
	result    Result
	synthetic int
}

func (p *Pipeline) begin(run *Run, kind summary.Kind) *runState {
	p.resetLocked()
	p.config.Metrics.RunStarted()
	log.Printf("[pipeline] run %s: %s analysis started (detector %s)", run.ID, kind, p.detector.Mode())

	return &runState{
		run: run,
		result: Result{
			Summary:  summary.Summary{Kind: kind},
			Detector: p.detector.Mode(),
		},
	}
}

// detect runs the adapter on one frame and records degradation.
func (p *Pipeline) detect(rs *runState, frame *gocv.Mat) (detector.Batch, error) {
	start := time.Now()
	batch, err := p.detector.Detect(frame)
	if err != nil {
		return batch, fmt.Errorf("detect frame: %w", err)
	}

	p.config.Metrics.FrameDetected(len(batch.Detections), batch.Synthetic, time.Since(start))

	if batch.Synthetic {
		rs.synthetic++
		if rs.run.markDegraded() {
			log.Printf("[pipeline] run %s: SYNTHETIC detections in use, results are not real inference", rs.run.ID)
		}
	}
	return batch, nil
}

func (p *Pipeline) fail(rs *runState, err error) Result {
	canceled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	log.Printf("[pipeline] run %s: failed: %v", rs.run.ID, err)

	res := rs.result
	res.Error = err.Error()
	res.Degraded = rs.run.Degraded()
	res.SyntheticFrames = rs.synthetic
	res.AnnotatedPath = ""

	p.config.Metrics.RunFinished(true, canceled, res.Degraded)
	rs.run.fail(err, res)
	return res
}

func (p *Pipeline) finish(rs *runState) Result {
	res := rs.result
	res.Degraded = rs.run.Degraded()
	res.SyntheticFrames = rs.synthetic

	p.config.Metrics.RunFinished(false, false, res.Degraded)
	log.Printf("[pipeline] run %s: done in %s", rs.run.ID, rs.run.Elapsed().Round(time.Millisecond))
	rs.run.finish(res)
	return res
}

// AnalyzeImage analyzes a single image. When annotatedPath is not empty the
// annotated image is written there. Decode failures fail the run; the
// returned Result then carries the error message.
func (p *Pipeline) AnalyzeImage(ctx context.Context, run *Run, path, annotatedPath string) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	rs := p.begin(run, summary.KindImage)

	run.transition(StateSampling)
	if err := ctx.Err(); err != nil {
		return p.fail(rs, err)
	}

	img, err := capture.LoadImage(path)
	if err != nil {
		img.Close()
		return p.fail(rs, err)
	}
	defer img.Close()

	run.transition(StateDetecting)
	batch, err := p.detect(rs, &img)
	if err != nil {
		return p.fail(rs, err)
	}
	fr := detector.NewFrameResult(0, 0, batch)
	p.frames = append(p.frames, fr)
	run.setProgress(50)

	if annotatedPath != "" {
		annotated := annotate.Annotate(img, fr.Detections)
		if err := annotate.SaveImage(annotatedPath, annotated); err != nil {
			log.Printf("[pipeline] run %s: %v", run.ID, err)
			p.config.Metrics.AnnotationFailed()
		} else {
			rs.result.AnnotatedPath = annotatedPath
		}
		annotated.Close()
	}

	run.transition(StateSummarizing)
	rs.result.Summary = summary.ForImage(summary.SummarizeImage(fr, p.config.Now()))

	return p.finish(rs)
}

// AnalyzeVideo opens the video at path and analyzes it.
func (p *Pipeline) AnalyzeVideo(ctx context.Context, run *Run, path, annotatedPath string) Result {
	src, err := capture.OpenVideo(path)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.fail(p.begin(run, summary.KindVideo), err)
	}
	return p.AnalyzeVideoSource(ctx, run, src, annotatedPath)
}

// AnalyzeVideoSource samples src, detecting and aggregating one frame at a
// time. The source is closed on every return path. Cancelling ctx fails the
// run between frames.
func (p *Pipeline) AnalyzeVideoSource(ctx context.Context, run *Run, src capture.VideoSource, annotatedPath string) Result {
	defer src.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	rs := p.begin(run, summary.KindVideo)
	run.transition(StateSampling)

	sampler, err := capture.NewSampler(src, p.config.Stride, run.setProgress)
	if err != nil {
		return p.fail(rs, err)
	}
	fps := sampler.FPS()

	var rec *annotate.Recorder
	if annotatedPath != "" {
		w, h := src.Size()
		rec, err = annotate.NewRecorder(annotatedPath, annotate.PlaybackFPS(fps, p.config.Stride), w, h)
		if err != nil {
			log.Printf("[pipeline] run %s: annotated output disabled: %v", run.ID, err)
			rec = nil
		} else {
			defer rec.Close()
		}
	}

	var detectErr error
	for index, frame := range sampler.Frames(ctx) {
		run.transition(StateDetecting)

		batch, err := p.detect(rs, frame)
		if err != nil {
			detectErr = err
			break
		}

		fr := detector.NewFrameResult(index, fps, batch)
		p.frames = append(p.frames, fr)
		if err := p.agg.Update(fr); err != nil {
			detectErr = err
			break
		}

		if rec != nil {
			annotated := annotate.Annotate(*frame, fr.Detections)
			if err := rec.Write(annotated); err != nil {
				p.config.Metrics.AnnotationFailed()
			}
			annotated.Close()
		}
	}

	if detectErr != nil {
		return p.fail(rs, detectErr)
	}
	if err := sampler.Err(); err != nil {
		return p.fail(rs, err)
	}

	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Printf("[pipeline] run %s: close annotated video: %v", run.ID, err)
		} else if rec.Frames() > 0 {
			rs.result.AnnotatedPath = annotatedPath
		}
	}

	run.transition(StateAggregating)
	slots := p.agg.Slots()

	run.transition(StateSummarizing)
	rs.result.Summary = summary.ForVideo(summary.SummarizeVideo(p.frames, slots, fps, p.config.Now()))

	log.Printf("[pipeline] run %s: %d frames sampled, %d slots", run.ID, sampler.Sampled(), len(slots))
	return p.finish(rs)
}
