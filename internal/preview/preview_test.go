package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnyUserName/imgedit/internal/blob"
	"github.com/AnyUserName/imgedit/internal/compositor"
	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/source"
)

type fakeRenderer struct {
	mu      sync.Mutex
	calls   []compositor.Request
	fail    error
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeRenderer) Render(_ context.Context, req compositor.Request, _ string, _ int) (*compositor.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	fail, gate, started := f.fail, f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return nil, fail
	}
	return &compositor.Output{
		Data:   []byte(fmt.Sprintf("preview-%d", n)),
		Width:  int(float64(req.Crop.Width) * req.OutputScale),
		Height: int(float64(req.Crop.Height) * req.OutputScale),
		Format: "jpeg",
		MIME:   "image/jpeg",
	}, nil
}

func (f *fakeRenderer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRenderer) last() compositor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeRenderer) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

var (
	testRaster = &source.Raster{Width: 1200, Height: 800, OriginClean: true}
	testCrop   = geometry.PixelRect{X: 60, Y: 40, Width: 1080, Height: 720}
)

func params(scale float64) geometry.TransformParams {
	return geometry.NewTransformParams(testCrop).WithScale(scale)
}

func TestState_String(t *testing.T) {
	want := map[State]string{Idle: "idle", Scheduled: "scheduled", Rendering: "rendering", Ready: "ready", Failed: "failed", State(42): "unknown"}
	for s, name := range want {
		assert.Equal(t, name, s.String())
	}
}

func TestScheduler_DebouncesBurst(t *testing.T) {
	r := &fakeRenderer{}
	s := New(Options{Renderer: r, Settle: 30 * time.Millisecond})
	defer s.Close()

	assert.Equal(t, Idle, s.State())
	for i := 1; i <= 5; i++ {
		s.Update(testRaster, params(1+float64(i)/10))
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, Scheduled, s.State())

	require.Eventually(t, func() bool { return s.State() == Ready }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, r.count(), "a burst renders once")
	assert.InDelta(t, 1.5, r.last().Scale, 1e-9, "the last parameters win")
	assert.Equal(t, 2.0, r.last().OutputScale)

	st := s.Status()
	assert.Equal(t, 2160, st.Width)
	assert.Equal(t, 1440, st.Height)
	assert.Equal(t, 1, st.Renders)
}

func TestScheduler_FlushRendersImmediately(t *testing.T) {
	r := &fakeRenderer{}
	s := New(Options{Renderer: r, Settle: time.Hour})
	defer s.Close()

	require.NoError(t, s.Flush(context.Background()), "flush when idle is a no-op")
	assert.Equal(t, 0, r.count())

	s.Update(testRaster, params(2))
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, 1, r.count())

	h := s.Current()
	require.NotNil(t, h)
	defer h.Release()
	data, err := h.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "preview-1", string(data))
}

func TestScheduler_NewBeforeRelease(t *testing.T) {
	reg := blob.NewRegistry("t", nil)
	r := &fakeRenderer{}
	s := New(Options{Renderer: r, Blobs: reg, Settle: time.Hour})

	s.Update(testRaster, params(1))
	require.NoError(t, s.Flush(context.Background()))
	first := s.Current()
	require.NotNil(t, first)
	firstURL := first.URL()

	s.Update(testRaster, params(2))
	require.NoError(t, s.Flush(context.Background()))
	second := s.Current()
	require.NotNil(t, second)
	assert.NotEqual(t, firstURL, second.URL())

	// The reader's reference keeps the old preview readable.
	_, err := first.Bytes()
	assert.NoError(t, err)
	first.Release()
	assert.True(t, first.Revoked())
	_, err = reg.Lookup(firstURL)
	assert.Error(t, err)

	second.Release()
	assert.Equal(t, 1, reg.Live(), "exactly one preview buffer is live")

	s.Close()
	assert.Equal(t, 0, reg.Live())
}

func TestScheduler_FailureKeepsLastGoodBuffer(t *testing.T) {
	r := &fakeRenderer{}
	var (
		mu     sync.Mutex
		states []State
	)
	s := New(Options{Renderer: r, Settle: time.Hour, OnStatus: func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	}})
	defer s.Close()

	s.Update(testRaster, params(1))
	require.NoError(t, s.Flush(context.Background()))
	good := s.Status().URL
	require.NotEmpty(t, good)

	boom := editerr.Errorf(editerr.Render, "test", "boom")
	r.setFail(boom)
	s.Update(testRaster, params(3))
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, editerr.Is(err, editerr.Render))

	assert.Equal(t, Failed, s.State())
	assert.Equal(t, boom, s.Err())
	assert.Equal(t, good, s.Status().URL, "failure keeps the last good preview")

	r.setFail(nil)
	s.Update(testRaster, params(1.5))
	require.NoError(t, s.Flush(context.Background()))
	assert.Nil(t, s.Err())
	assert.NotEqual(t, good, s.Status().URL)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Scheduled, Rendering, Ready, Scheduled, Rendering, Failed, Scheduled, Rendering, Ready}, states)
}

func TestScheduler_UpdateDuringRenderRendersAgain(t *testing.T) {
	r := &fakeRenderer{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	s := New(Options{Renderer: r, Settle: 5 * time.Millisecond})
	defer s.Close()

	s.Update(testRaster, params(1))
	<-r.started
	assert.Equal(t, Rendering, s.State())

	s.Update(testRaster, params(2.5))
	assert.Equal(t, Rendering, s.State(), "no concurrent render")
	r.gate <- struct{}{}

	<-r.started
	r.gate <- struct{}{}

	require.Eventually(t, func() bool { return s.State() == Ready }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, r.count())
	assert.InDelta(t, 2.5, r.last().Scale, 1e-9)
}

func TestScheduler_CloseWaitsForRender(t *testing.T) {
	reg := blob.NewRegistry("t", nil)
	r := &fakeRenderer{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(Options{Renderer: r, Blobs: reg, Settle: time.Millisecond})

	s.Update(testRaster, params(1))
	<-r.started

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a render was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	r.gate <- struct{}{}
	<-closed

	assert.Equal(t, 0, reg.Live(), "a render finishing after Close is discarded")
	assert.Nil(t, s.Current())

	s.Update(testRaster, params(2))
	assert.Equal(t, Idle, s.State())
}

func TestScheduler_FlushHonoursContext(t *testing.T) {
	r := &fakeRenderer{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(Options{Renderer: r, Settle: time.Millisecond})

	s.Update(testRaster, params(1))
	<-r.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(s.Flush(ctx), context.DeadlineExceeded))

	r.gate <- struct{}{}
	s.Close()
}

func TestScheduler_ResetDropsPreviewAndPending(t *testing.T) {
	r := &fakeRenderer{}
	reg := blob.NewRegistry("test", nil)
	s := New(Options{Renderer: r, Blobs: reg, Settle: 20 * time.Millisecond})
	defer s.Close()

	s.Update(testRaster, params(1))
	require.NoError(t, s.Flush(context.Background()))
	require.Equal(t, 1, reg.Live())

	s.Update(testRaster, params(2))
	s.Reset()

	st := s.Status()
	assert.Equal(t, Idle, st.State)
	assert.Empty(t, st.URL)
	assert.Nil(t, s.Current())
	assert.Equal(t, 0, reg.Live(), "the installed preview is released")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, r.count(), "the pending update never renders")
	assert.Equal(t, Idle, s.State())

	s.Update(testRaster, params(1.5))
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, Ready, s.State())
	assert.InDelta(t, 1.5, r.last().Scale, 1e-9)
}

func TestScheduler_ResetDiscardsInFlightRender(t *testing.T) {
	r := &fakeRenderer{gate: make(chan struct{}), started: make(chan struct{}, 2)}
	reg := blob.NewRegistry("test", nil)
	s := New(Options{Renderer: r, Blobs: reg, Settle: time.Millisecond})
	defer s.Close()

	s.Update(testRaster, params(1))
	<-r.started
	s.Reset()
	r.gate <- struct{}{}

	require.Eventually(t, func() bool { return s.State() == Idle }, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, s.Current())
	assert.Equal(t, 0, reg.Live(), "a result for the reset image is not installed")

	// An update arriving while the stale render runs is rendered afterwards.
	s.Update(testRaster, params(1))
	<-r.started
	s.Reset()
	s.Update(testRaster, params(2))
	r.gate <- struct{}{}
	<-r.started
	r.gate <- struct{}{}

	require.Eventually(t, func() bool { return s.State() == Ready }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 2.0, r.last().Scale, 1e-9)
	assert.Equal(t, 1, reg.Live())
}

func TestScheduler_FlushAfterCloseDoesNotRender(t *testing.T) {
	r := &fakeRenderer{}
	s := New(Options{Renderer: r, Settle: time.Hour})

	s.Update(testRaster, params(1))
	require.Equal(t, Scheduled, s.State())

	// Close has marked the scheduler but not yet settled its state.
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, r.count())
	s.cancel()
}

func TestScheduler_WithCompositor(t *testing.T) {
	c, err := compositor.New(compositor.Options{})
	require.NoError(t, err)
	raster := &source.Raster{Image: image.NewNRGBA(image.Rect(0, 0, 120, 80)), Width: 120, Height: 80, OriginClean: true}

	s := New(Options{Renderer: c, Settle: time.Hour})
	defer s.Close()

	s.Update(raster, geometry.NewTransformParams(geometry.PixelRect{X: 6, Y: 4, Width: 108, Height: 72}))
	require.NoError(t, s.Flush(context.Background()))

	st := s.Status()
	assert.Equal(t, 216, st.Width)
	assert.Equal(t, 144, st.Height)

	h := s.Current()
	require.NotNil(t, h)
	defer h.Release()
	assert.Equal(t, "image/jpeg", h.MIME())

	// Previews of a cross-origin raster fail like the export does.
	tainted := *raster
	tainted.OriginClean = false
	s.Update(&tainted, geometry.NewTransformParams(geometry.PixelRect{Width: 10, Height: 10}))
	err = s.Flush(context.Background())
	assert.True(t, editerr.Is(err, editerr.Security), "got %v", err)
	assert.Equal(t, st.URL, s.Status().URL)
}
