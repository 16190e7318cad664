package pipeline

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/ayusman/mindwatch/internal/summary"
)

// State is the lifecycle stage of a run.
type State string

const (
	StateIdle        State = "idle"
	StateSampling    State = "sampling"
	StateDetecting   State = "detecting"
	StateAggregating State = "aggregating"
	StateSummarizing State = "summarizing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Event is a snapshot of a run delivered to its listener.
type Event struct {
	RunID    string  `json:"id"`
	State    State   `json:"state"`
	Progress float64 `json:"progress"`
	Degraded bool    `json:"degraded"`
	Error    string  `json:"error,omitempty"`
}

// Listener receives run events. It must not block; a panicking listener is
// logged and ignored.
type Listener func(Event)

// Run is the state handle of one analysis. The caller creates it and passes
// it to the pipeline, and may poll it from other goroutines.
type Run struct {
	ID   string
	Kind summary.Kind

	mu       sync.Mutex
	state    State
	progress float64
	degraded bool
	err      error
	result   *Result
	listener Listener
	started  time.Time
	finished time.Time
	done     chan struct{}
}

// NewRun creates an idle run. listener may be nil.
func NewRun(id string, kind summary.Kind, listener Listener) *Run {
	return &Run{
		ID:       id,
		Kind:     kind,
		state:    StateIdle,
		listener: listener,
		done:     make(chan struct{}),
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns the completion percentage in [0, 100].
func (r *Run) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Degraded reports whether any frame used synthetic detections.
func (r *Run) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Err returns the fatal error of a failed run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Result returns the final result once the run is terminal.
func (r *Run) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return Result{}, false
	}
	return *r.result, true
}

// Elapsed returns the time from the first transition to the terminal state,
// or until now while running.
func (r *Run) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.started.IsZero():
		return 0
	case r.finished.IsZero():
		return time.Since(r.started)
	}
	return r.finished.Sub(r.started)
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Snapshot returns the current state as an Event.
func (r *Run) Snapshot() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eventLocked()
}

func (r *Run) eventLocked() Event {
	e := Event{
		RunID:    r.ID,
		State:    r.state,
		Progress: r.progress,
		Degraded: r.degraded,
	}
	if r.err != nil {
		e.Error = r.err.Error()
	}
	return e
}

// transition moves to s and notifies the listener. Terminal runs and
// repeated states are ignored.
func (r *Run) transition(s State) {
	r.mu.Lock()
	if r.state.Terminal() || r.state == s {
		r.mu.Unlock()
		return
	}
	if r.started.IsZero() {
		r.started = time.Now()
	}
	r.state = s
	e := r.eventLocked()
	r.mu.Unlock()

	r.notify(e)
}

// setProgress records a clamped, non-decreasing percentage.
func (r *Run) setProgress(p float64) {
	r.mu.Lock()
	if r.state.Terminal() || math.IsNaN(p) {
		r.mu.Unlock()
		return
	}
	p = math.Max(0, math.Min(100, p))
	if p <= r.progress {
		r.mu.Unlock()
		return
	}
	r.progress = p
	e := r.eventLocked()
	r.mu.Unlock()

	r.notify(e)
}

// markDegraded flags the run and reports whether this was the first time.
func (r *Run) markDegraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.degraded {
		return false
	}
	r.degraded = true
	return true
}

func (r *Run) finish(res Result) {
	r.terminate(StateDone, nil, res)
}

func (r *Run) fail(err error, res Result) {
	r.terminate(StateFailed, err, res)
}

func (r *Run) terminate(s State, err error, res Result) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	if r.started.IsZero() {
		r.started = time.Now()
	}
	r.state = s
	r.err = err
	if s == StateDone {
		r.progress = 100
	}
	r.finished = time.Now()
	r.result = &res
	e := r.eventLocked()
	r.mu.Unlock()

	r.notify(e)
	close(r.done)
}

func (r *Run) notify(e Event) {
	if r.listener == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[pipeline] run %s: listener panicked: %v", r.ID, rec)
		}
	}()
	r.listener(e)
}
