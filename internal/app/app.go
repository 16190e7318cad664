// Package app runs analyses in the background and keeps their state in the
// run store.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mindwatch/internal/config"
	"github.com/ayusman/mindwatch/internal/detector"
	"github.com/ayusman/mindwatch/internal/fsutil"
	"github.com/ayusman/mindwatch/internal/metrics"
	"github.com/ayusman/mindwatch/internal/pipeline"
	"github.com/ayusman/mindwatch/internal/store"
	"github.com/ayusman/mindwatch/internal/summary"
)

// Progress bands. Uploading fills 0-10, analysis maps onto 10-90 and
// persisting the result finishes at 100.
const (
	ProgressUploaded = 10
	ProgressAnalyzed = 90

	subscriberBuffer = 16
)

var (
	// ErrUnsupportedFile is returned for uploads outside the extension allow-list.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrRunActive is returned when a run that is still processing is deleted.
	ErrRunActive = errors.New("run is still processing")
	// ErrNotReady is returned when the result of an unfinished run is requested.
	ErrNotReady = errors.New("run has no result yet")
	// ErrNoStore is returned by operations that need the run store.
	ErrNoStore = errors.New("no run store configured")
)

var (
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".wmv": true}
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tiff": true}
)

// KindFor returns the analysis kind implied by the file name's extension.
func KindFor(name string) (summary.Kind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case videoExtensions[ext]:
		return summary.KindVideo, nil
	case imageExtensions[ext]:
		return summary.KindImage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
}

// AnnotatedName returns the output file name for the annotated copy of a run.
func AnnotatedName(id string, kind summary.Kind) string {
	if kind == summary.KindVideo {
		return id + "_annotated.mp4"
	}
	return id + "_annotated.jpg"
}

// Config holds the collaborators of an App.
type Config struct {
	Settings *config.Config
	// Store is optional; without it only Analyze is available.
	Store   *store.Store
	Metrics *metrics.Metrics
	// Adapter overrides detector probing, mainly for tests.
	Adapter *detector.Adapter
}

type liveRun struct {
	run    *pipeline.Run
	cancel context.CancelFunc
	subs   map[chan pipeline.Event]struct{}
	// finished is closed once the outcome is persisted.
	finished chan struct{}
}

// App owns the detector adapter and the set of in-flight runs.
type App struct {
	settings *config.Config
	store    *store.Store
	metrics  *metrics.Metrics
	adapter  *detector.Adapter

	mu   sync.Mutex
	live map[string]*liveRun
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an App. When no adapter is supplied the detection backends are
// probed and the synthetic detector is used if none is available.
func New(cfg Config) *App {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}

	adapter := cfg.Adapter
	if adapter == nil {
		adapter = detector.NewAdapter(settings.Detector())
	}
	log.Printf("[app] detector mode: %s", adapter.Mode())

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		settings: settings,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		adapter:  adapter,
		live:     make(map[string]*liveRun),
		ctx:      ctx,
		cancel:   cancel,
	}

	if a.store != nil {
		a.failInterrupted()
	}
	return a
}

// failInterrupted marks runs left unfinished by a previous process as failed.
func (a *App) failInterrupted() {
	runs, err := a.store.Runs().List(0)
	if err != nil {
		log.Printf("[app] list runs: %v", err)
		return
	}
	for _, r := range runs {
		if r.Status == store.RunStatusPending || r.Status == store.RunStatusProcessing {
			if err := a.store.Runs().Fail(r.ID, "interrupted by restart"); err != nil {
				log.Printf("[app] fail interrupted run %s: %v", r.ID, err)
				continue
			}
			log.Printf("[app] run %s was interrupted, marked failed", r.ID)
		}
	}
}

// Detector returns the shared detector adapter.
func (a *App) Detector() *detector.Adapter {
	return a.adapter
}

// Settings returns the configuration the app was built with.
func (a *App) Settings() *config.Config {
	return a.settings
}

func (a *App) newPipeline(stride int) *pipeline.Pipeline {
	if stride < 1 {
		stride = a.settings.SamplingStride
	}
	return pipeline.New(pipeline.Config{Stride: stride, Metrics: a.metrics}, a.adapter)
}

// Analyze runs one analysis synchronously, outside the run store. When out
// is not empty the annotated copy is written there.
func (a *App) Analyze(ctx context.Context, path, out string, stride int) (pipeline.Result, error) {
	kind, err := KindFor(path)
	if err != nil {
		return pipeline.Result{}, err
	}

	run := pipeline.NewRun(uuid.New().String(), kind, nil)
	p := a.newPipeline(stride)

	var res pipeline.Result
	if kind == summary.KindVideo {
		res = p.AnalyzeVideo(ctx, run, path, out)
	} else {
		res = p.AnalyzeImage(ctx, run, path, out)
	}
	if err := run.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// Submit registers an uploaded file as a new run and analyzes it in the
// background. sourcePath must already hold the uploaded bytes.
func (a *App) Submit(id, name, sourcePath string) (*store.Run, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	kind, err := KindFor(name)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}

	rec := &store.Run{
		ID:         id,
		Kind:       string(kind),
		SourceName: filepath.Base(name),
		SourcePath: sourcePath,
		Status:     store.RunStatusProcessing,
		Progress:   ProgressUploaded,
		Detector:   a.adapter.Mode(),
	}
	if err := a.store.Runs().Create(rec); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(a.ctx)
	lr := &liveRun{
		cancel:   cancel,
		subs:     make(map[chan pipeline.Event]struct{}),
		finished: make(chan struct{}),
	}
	lr.run = pipeline.NewRun(id, kind, func(e pipeline.Event) { a.onEvent(lr, e) })

	a.mu.Lock()
	a.live[id] = lr
	a.mu.Unlock()

	annotated := filepath.Join(a.settings.OutputDir(), AnnotatedName(id, kind))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()

		p := a.newPipeline(0)
		var res pipeline.Result
		if kind == summary.KindVideo {
			res = p.AnalyzeVideo(ctx, lr.run, sourcePath, annotated)
		} else {
			res = p.AnalyzeImage(ctx, lr.run, sourcePath, annotated)
		}
		a.complete(lr, res)
	}()

	log.Printf("[app] run %s: %s %q submitted", id, kind, rec.SourceName)
	return rec, nil
}

// scaled maps pipeline progress onto the analysis band.
func scaled(p float64) float64 {
	return ProgressUploaded + p*(ProgressAnalyzed-ProgressUploaded)/100
}

func (a *App) onEvent(lr *liveRun, e pipeline.Event) {
	if e.State.Terminal() {
		// complete persists and publishes terminal events.
		return
	}
	e.Progress = scaled(e.Progress)
	if err := a.store.Runs().UpdateProgress(e.RunID, store.RunStatusProcessing, e.Progress, e.Degraded); err != nil {
		log.Printf("[app] run %s: update progress: %v", e.RunID, err)
	}
	a.publish(lr, e, false)
}

func (a *App) complete(lr *liveRun, res pipeline.Result) {
	id := lr.run.ID
	final := lr.run.Snapshot()

	if lr.run.State() == pipeline.StateFailed {
		if err := a.store.Runs().Fail(id, res.Error); err != nil {
			log.Printf("[app] run %s: record failure: %v", id, err)
		}
		final.Progress = scaled(final.Progress)
	} else {
		final.Progress = ProgressAnalyzed
		a.publish(lr, final, false)

		data, err := json.Marshal(res)
		if err == nil {
			err = a.store.Runs().Complete(id, data, res.Detector, res.AnnotatedPath, res.Degraded)
		}
		if err != nil {
			log.Printf("[app] run %s: record result: %v", id, err)
			_ = a.store.Runs().Fail(id, fmt.Sprintf("record result: %v", err))
			final.State = pipeline.StateFailed
			final.Error = err.Error()
		} else {
			final.Progress = 100
		}
	}

	a.publish(lr, final, true)
}

// publish fans an event out to subscribers without blocking. The last event
// closes every subscriber channel and forgets the run.
func (a *App) publish(lr *liveRun, e pipeline.Event, last bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ch := range lr.subs {
		select {
		case ch <- e:
		default:
		}
		if last {
			close(ch)
		}
	}
	if last {
		lr.subs = nil
		delete(a.live, lr.run.ID)
		close(lr.finished)
	}
}

// Subscribe returns a channel of progress events for a run that is still
// processing. ok is false once the run has finished; the caller should read
// the stored record instead. cancel must be called when done.
func (a *App) Subscribe(id string) (events <-chan pipeline.Event, cancel func(), ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lr, found := a.live[id]
	if !found {
		return nil, func() {}, false
	}

	ch := make(chan pipeline.Event, subscriberBuffer)
	snap := lr.run.Snapshot()
	snap.Progress = scaled(snap.Progress)
	ch <- snap
	lr.subs[ch] = struct{}{}

	cancel = func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, still := lr.subs[ch]; still {
			delete(lr.subs, ch)
			close(ch)
		}
	}
	return ch, cancel, true
}

// Active reports whether the run is still processing.
func (a *App) Active(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.live[id]
	return ok
}

// Wait blocks until the outcome of the run is stored or ctx is done.
// Finished runs return immediately.
func (a *App) Wait(ctx context.Context, id string) error {
	a.mu.Lock()
	lr, ok := a.live[id]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-lr.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops a processing run. The run ends up failed.
func (a *App) Cancel(id string) error {
	a.mu.Lock()
	lr, ok := a.live[id]
	a.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	lr.cancel()
	return nil
}

// Get returns the stored record of a run.
func (a *App) Get(id string) (*store.Run, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	return a.store.Runs().GetByID(id)
}

// List returns stored runs newest first.
func (a *App) List(limit int) ([]*store.Run, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	return a.store.Runs().List(limit)
}

// Result decodes the stored result of a completed run.
func (a *App) Result(id string) (pipeline.Result, error) {
	rec, err := a.Get(id)
	if err != nil {
		return pipeline.Result{}, err
	}
	if rec.Status != store.RunStatusCompleted || len(rec.Summary) == 0 {
		return pipeline.Result{}, ErrNotReady
	}

	var res pipeline.Result
	if err := json.Unmarshal(rec.Summary, &res); err != nil {
		return pipeline.Result{}, fmt.Errorf("decode result %s: %w", id, err)
	}
	return res, nil
}

// Analytics derives the dashboard view of a completed run.
func (a *App) Analytics(id string) (summary.Analytics, error) {
	res, err := a.Result(id)
	if err != nil {
		return summary.Analytics{}, err
	}
	return summary.BuildAnalytics(res.Summary), nil
}

// Delete removes a finished run and its files.
func (a *App) Delete(id string) error {
	if a.Active(id) {
		return ErrRunActive
	}
	rec, err := a.Get(id)
	if err != nil {
		return err
	}
	if err := a.store.Runs().Delete(id); err != nil {
		return err
	}
	removeFiles(rec)
	return nil
}

func removeFiles(rec *store.Run) {
	for _, path := range []string{rec.SourcePath, rec.AnnotatedPath} {
		if path == "" {
			continue
		}
		if err := fsutil.RemoveIfExists(path); err != nil {
			log.Printf("[app] remove %s: %v", path, err)
		}
	}
}

// Cleanup removes runs and files older than the retention period. It
// returns the number of runs removed.
func (a *App) Cleanup(now time.Time) (int, error) {
	maxAge := a.settings.Retention()
	if maxAge <= 0 {
		return 0, nil
	}

	removed := 0
	if a.store != nil {
		runs, err := a.store.Runs().DeleteOlderThan(now.Add(-maxAge))
		if err != nil {
			return 0, fmt.Errorf("delete old runs: %w", err)
		}
		for _, r := range runs {
			removeFiles(r)
		}
		removed = len(runs)
	}

	for _, dir := range []string{a.settings.UploadDir(), a.settings.OutputDir()} {
		n, err := fsutil.RemoveOlderThan(dir, maxAge, now)
		if err != nil {
			log.Printf("[app] cleanup %s: %v", dir, err)
			continue
		}
		if n > 0 {
			log.Printf("[app] cleanup %s: removed %d files", dir, n)
		}
	}
	return removed, nil
}

// Close cancels in-flight runs, waits for them and stops the detector.
func (a *App) Close() error {
	a.cancel()
	a.wg.Wait()
	return a.adapter.Close()
}
