// Package preview keeps a debounced, low-resolution rendering of the
// current edit.
//
// Parameter changes are coalesced: a render starts only once no update has
// arrived for the settle period, and at most one render runs at a time. The
// newest encoded preview is held in a blob handle; installing a new one
// releases the previous one.
package preview

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AnyUserName/imgedit/internal/blob"
	"github.com/AnyUserName/imgedit/internal/compositor"
	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/logging"
	"github.com/AnyUserName/imgedit/internal/source"
)

// Defaults.
const (
	DefaultSettle      = 150 * time.Millisecond
	DefaultOutputScale = 2.0
	DefaultFormat      = "jpeg"
)

// State of the scheduler.
type State int

const (
	Idle State = iota
	Scheduled
	Rendering
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Rendering:
		return "rendering"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Status is a snapshot reported to OnStatus and by Scheduler.Status.
type Status struct {
	State State
	// URL of the installed preview, empty if none.
	URL           string
	Width, Height int
	// Renders counts completed render attempts.
	Renders int
	Err     error
}

// Options configures a Scheduler.
type Options struct {
	Renderer compositor.Renderer
	Blobs    *blob.Registry
	// Settle is the quiet period before rendering. Zero means DefaultSettle.
	Settle time.Duration
	// OutputScale multiplies the crop size. Zero means DefaultOutputScale.
	OutputScale float64
	Format      string
	Quality     int
	// OnStatus, if set, is called after every state change. It runs
	// outside the scheduler lock and may call back into the scheduler.
	OnStatus func(Status)
	Logger   *slog.Logger
}

type job struct {
	raster *source.Raster
	params geometry.TransformParams
	epoch  uint64
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	opts   Options
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	pending  job
	gen      uint64 // bumped on every Update
	epoch    uint64 // bumped on every Reset
	timer    *time.Timer
	timerSeq uint64
	done     chan struct{} // closed when the in-flight render finishes
	current  *blob.Handle
	width    int
	height   int
	renders  int
	err      error
	closed   bool
}

// New builds an idle Scheduler.
func New(opts Options) *Scheduler {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.OutputScale <= 0 {
		opts.OutputScale = DefaultOutputScale
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	if opts.Blobs == nil {
		opts.Blobs = blob.NewRegistry("preview", opts.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:   opts,
		log:    logging.Or(opts.Logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Update records new parameters and restarts the settle timer. During a
// render the parameters are only recorded; a fresh render follows when the
// in-flight one completes.
func (s *Scheduler) Update(r *source.Raster, p geometry.TransformParams) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = job{raster: r, params: p}
	s.gen++
	if s.state == Rendering {
		s.mu.Unlock()
		return
	}
	s.state = Scheduled
	s.armLocked()
	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
}

// Flush renders a pending update now instead of waiting for the timer, and
// waits for an in-flight render. It returns the error of the last render
// if the scheduler ends in Failed.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch s.state {
		case Rendering:
			done := s.done
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		case Scheduled:
			if s.closed {
				s.mu.Unlock()
				return nil
			}
			j, gen, st := s.beginLocked()
			s.mu.Unlock()
			s.notify(st)
			s.run(j, gen)
		case Failed:
			err := s.err
			s.mu.Unlock()
			return err
		default:
			s.mu.Unlock()
			return nil
		}
	}
}

// Current returns the installed preview with an extra reference, or nil.
// The caller must Release it.
func (s *Scheduler) Current() *blob.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Retain() != nil {
		return nil
	}
	return s.current
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed render, or nil.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Status returns a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Reset forgets the pending update and the installed preview and returns
// to Idle, as when the image being edited goes away. A render already in
// flight runs to completion but its result is discarded.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerSeq++
	s.gen++
	s.epoch++
	s.pending = job{}
	old := s.current
	s.current, s.width, s.height = nil, 0, 0
	s.err = nil
	if s.state != Rendering {
		s.state = Idle
	}
	st := s.statusLocked()
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
	s.notify(st)
}

// Close stops the timer, waits for an in-flight render and releases the
// installed preview. Further updates are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerSeq++
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	s.cancel()

	s.mu.Lock()
	if s.current != nil {
		s.current.Release()
		s.current = nil
	}
	s.state = Idle
	s.mu.Unlock()
}

func (s *Scheduler) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerSeq++
	seq := s.timerSeq
	s.timer = time.AfterFunc(s.opts.Settle, func() { s.fire(seq) })
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	if s.closed || seq != s.timerSeq || s.state != Scheduled {
		s.mu.Unlock()
		return
	}
	j, gen, st := s.beginLocked()
	s.mu.Unlock()
	s.notify(st)
	s.run(j, gen)
}

// beginLocked moves Scheduled to Rendering and snapshots the pending job.
func (s *Scheduler) beginLocked() (job, uint64, Status) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerSeq++
	s.state = Rendering
	s.done = make(chan struct{})
	j := s.pending
	j.epoch = s.epoch
	return j, s.gen, s.statusLocked()
}

func (s *Scheduler) run(j job, gen uint64) {
	start := time.Now()
	h, w, ht, err := s.render(j)

	s.mu.Lock()
	done := s.done
	s.done = nil
	s.renders++

	if s.closed {
		if h != nil {
			h.Release()
		}
		s.mu.Unlock()
		close(done)
		return
	}

	switch {
	case j.epoch != s.epoch:
		// Rendered for an image that has since been reset away.
		if h != nil {
			h.Release()
		}
		s.state = Idle
	case err != nil:
		// Keep the last good buffer installed.
		s.state = Failed
		s.err = err
		s.log.Warn("preview render failed", "error", err, "kind", editerr.KindOf(err).String())
	default:
		old := s.current
		s.current, s.width, s.height = h, w, ht
		if old != nil {
			old.Release()
		}
		s.state = Ready
		s.err = nil
		s.log.Debug("preview ready", "url", h.URL(), "width", w, "height", ht,
			"bytes", h.Len(), "took", time.Since(start))
	}

	if gen != s.gen && s.pending.raster != nil {
		s.state = Scheduled
		s.armLocked()
	}
	st := s.statusLocked()
	s.mu.Unlock()
	close(done)
	s.notify(st)
}

func (s *Scheduler) render(j job) (*blob.Handle, int, int, error) {
	if s.opts.Renderer == nil {
		return nil, 0, 0, editerr.Errorf(editerr.Render, "preview.render", "no renderer configured")
	}
	out, err := s.opts.Renderer.Render(s.ctx, compositor.Request{
		Raster:      j.raster,
		Crop:        j.params.Crop,
		Scale:       j.params.Scale,
		Rotation:    j.params.Rotation,
		OutputScale: s.opts.OutputScale,
	}, s.opts.Format, s.opts.Quality)
	if err != nil {
		return nil, 0, 0, err
	}
	return s.opts.Blobs.Create(out.Data, out.MIME), out.Width, out.Height, nil
}

func (s *Scheduler) statusLocked() Status {
	st := Status{State: s.state, Renders: s.renders, Err: s.err}
	if s.current != nil {
		st.URL = s.current.URL()
		st.Width, st.Height = s.width, s.height
	}
	return st
}

func (s *Scheduler) notify(st Status) {
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(st)
	}
}
