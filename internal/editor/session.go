// Package editor ties the image source, crop geometry, preview scheduler
// and export pipeline into one editing session.
//
// A Session owns every transient resource it creates: decoded rasters,
// registered local buffers, preview buffers and export handles all live in
// the session's blob registry and are revoked by Close.
package editor

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/AnyUserName/imgedit/internal/blob"
	"github.com/AnyUserName/imgedit/internal/compositor"
	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/encoder"
	"github.com/AnyUserName/imgedit/internal/export"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/logging"
	"github.com/AnyUserName/imgedit/internal/preview"
	"github.com/AnyUserName/imgedit/internal/profile"
	"github.com/AnyUserName/imgedit/internal/source"
	"github.com/AnyUserName/imgedit/internal/upload"
)

// Options configures a Session.
type Options struct {
	// Profile supplies aspect, coverage, quality and preview timing.
	// The zero value selects the default preset.
	Profile profile.Profile
	// Origin and Trusted decide which remote images may be exported.
	Origin  string
	Trusted []string
	Client  *http.Client
	// Uploader receives committed images. Nil keeps results local.
	Uploader     upload.Uploader
	UploadFields map[string]string
	Encoders     *encoder.Registry
	// OnPreview is called on every preview state change.
	OnPreview func(preview.Status)
	Logger    *slog.Logger
}

// Session is one image being edited. It is safe for concurrent use.
type Session struct {
	prof   profile.Profile
	log    *slog.Logger
	blobs  *blob.Registry
	loader *source.Loader
	sched  *preview.Scheduler
	export *export.Pipeline

	mu     sync.Mutex
	raster *source.Raster
	params geometry.TransformParams
	closed bool
}

// New builds a Session with no image loaded.
func New(opts Options) (*Session, error) {
	prof := opts.Profile
	if prof.Name == "" {
		prof = profile.Get(profile.Default)
	}
	log := logging.Or(opts.Logger).With("profile", prof.Name)

	comp, err := compositor.New(compositor.Options{
		Background: prof.Background,
		Encoders:   opts.Encoders,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	blobs := blob.NewRegistry("imgedit", log)
	s := &Session{
		prof:  prof,
		log:   log,
		blobs: blobs,
		loader: source.NewLoader(source.Options{
			Client:  opts.Client,
			Origin:  opts.Origin,
			Trusted: opts.Trusted,
			Blobs:   blobs,
			Logger:  log,
		}),
		sched: preview.New(preview.Options{
			Renderer:    comp,
			Blobs:       blobs,
			Settle:      prof.Settle,
			OutputScale: prof.PreviewScale,
			Format:      prof.Format,
			Quality:     prof.Quality,
			OnStatus:    opts.OnPreview,
			Logger:      log,
		}),
		export: export.New(export.Options{
			Renderer: comp,
			Blobs:    blobs,
			Uploader: opts.Uploader,
			Format:   prof.Format,
			Quality:  prof.Quality,
			Fields:   opts.UploadFields,
			Logger:   log,
		}),
		params: geometry.TransformParams{Scale: 1},
	}
	return s, nil
}

// Profile returns the session's preset.
func (s *Session) Profile() profile.Profile { return s.prof }

// Register stores a local buffer (e.g. a picked file) and returns the blob:
// URL to pass to Open. The buffer is revoked when a different image replaces
// it or the session closes.
func (s *Session) Register(data []byte, mime string) string {
	return s.blobs.Create(data, mime).URL()
}

// Open loads ref and starts a fresh edit: scale 1, rotation 0 and the
// preset's centred crop. On failure the session has no image and the error
// is an editerr.Decode error.
func (s *Session) Open(ctx context.Context, ref string) error {
	r, err := s.loader.Load(ctx, ref)
	return s.install(r, err)
}

// OpenBytes is Open for an in-memory buffer.
func (s *Session) OpenBytes(data []byte, name string) error {
	r, err := s.loader.LoadBytes(data, name)
	return s.install(r, err)
}

func (s *Session) install(r *source.Raster, err error) error {
	var params geometry.TransformParams
	if err == nil {
		params, err = s.initialParams(r)
		if err != nil && r.Handle != nil {
			r.Handle.Release()
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil && r.Handle != nil {
			r.Handle.Release()
		}
		return editerr.Errorf(editerr.Decode, "editor.open", "session closed")
	}
	old := s.raster
	if err != nil {
		s.raster = nil
		s.params = geometry.TransformParams{Scale: 1}
	} else {
		s.raster = r
		s.params = params
	}
	s.mu.Unlock()

	// The old image's preview goes with it, shown or still pending.
	s.sched.Reset()
	if old != nil && old.Handle != nil && (r == nil || old.Handle != r.Handle) {
		s.blobs.Revoke(old.Handle.URL())
	}
	if err != nil {
		s.log.Warn("image unavailable", "error", err)
		return err
	}

	s.log.Info("image opened", "ref", r.Ref, "width", r.Width, "height", r.Height,
		"crop", params.Crop.String(), "origin_clean", r.OriginClean)
	s.sched.Update(r, params)
	return nil
}

func (s *Session) initialParams(r *source.Raster) (geometry.TransformParams, error) {
	return geometry.InitialParams(r.Width, r.Height, s.prof.Aspect, s.prof.Coverage)
}

// Raster returns the loaded image, or nil.
func (s *Session) Raster() *source.Raster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raster
}

// Params returns the current transform parameters.
func (s *Session) Params() geometry.TransformParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// CropPercent returns the crop relative to the natural size.
func (s *Session) CropPercent() geometry.PercentRect {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raster == nil {
		return geometry.PercentRect{}
	}
	return geometry.ToPercentRect(s.params.Crop, s.raster.Width, s.raster.Height)
}

// SetCrop accepts an externally supplied crop: it is clamped into the image
// and, for fixed-aspect presets, shrunk around its centre to the aspect.
// An empty result is an InvalidGeometry error and leaves the crop unchanged.
func (s *Session) SetCrop(px geometry.PixelRect) (geometry.TransformParams, error) {
	const op = "editor.set_crop"
	s.mu.Lock()
	r := s.raster
	s.mu.Unlock()
	if r == nil {
		return s.Params(), editerr.Errorf(editerr.InvalidGeometry, op, "no image loaded")
	}

	crop, err := geometry.ClampPixelRect(px, r.Width, r.Height)
	if err != nil {
		return s.Params(), err
	}
	if crop, err = geometry.FitAspect(crop, s.prof.Aspect); err != nil {
		return s.Params(), err
	}
	return s.edit(func(p geometry.TransformParams) geometry.TransformParams { return p.WithCrop(crop) }), nil
}

// SetCropPercent is SetCrop in percent of the natural size.
func (s *Session) SetCropPercent(pct geometry.PercentRect) (geometry.TransformParams, error) {
	r := s.Raster()
	if r == nil {
		return s.Params(), editerr.Errorf(editerr.InvalidGeometry, "editor.set_crop", "no image loaded")
	}
	return s.SetCrop(geometry.ToPixelRect(pct, r.Width, r.Height))
}

// SetScale sets the zoom, clamped to [geometry.MinScale, geometry.MaxScale].
func (s *Session) SetScale(scale float64) geometry.TransformParams {
	return s.edit(func(p geometry.TransformParams) geometry.TransformParams { return p.WithScale(scale) })
}

// Zoom moves the zoom by steps of geometry.ZoomStep.
func (s *Session) Zoom(steps int) geometry.TransformParams {
	return s.edit(func(p geometry.TransformParams) geometry.TransformParams { return p.WithZoomStep(steps) })
}

// Rotate turns the image by steps of geometry.RotationStep degrees;
// positive is clockwise.
func (s *Session) Rotate(steps int) geometry.TransformParams {
	return s.edit(func(p geometry.TransformParams) geometry.TransformParams { return p.WithRotationStep(steps) })
}

// SetRotation sets an absolute rotation in degrees.
func (s *Session) SetRotation(deg int) geometry.TransformParams {
	return s.edit(func(p geometry.TransformParams) geometry.TransformParams { return p.WithRotation(deg) })
}

func (s *Session) edit(fn func(geometry.TransformParams) geometry.TransformParams) geometry.TransformParams {
	s.mu.Lock()
	s.params = fn(s.params)
	p, r := s.params, s.raster
	s.mu.Unlock()

	if r != nil {
		s.sched.Update(r, p)
	}
	return p
}

// Preview returns the newest preview with an extra reference, or nil. The
// caller must Release it.
func (s *Session) Preview() *blob.Handle { return s.sched.Current() }

// FlushPreview renders pending changes now.
func (s *Session) FlushPreview(ctx context.Context) error { return s.sched.Flush(ctx) }

// Status reports the preview state.
func (s *Session) Status() preview.Status { return s.sched.Status() }

// Advisory warns when the crop is smaller than the preset recommends. It is
// informational only.
func (s *Session) Advisory() string {
	p := s.Params()
	if p.Crop.Empty() {
		return ""
	}
	return s.prof.Advisory(p.Crop.Width, p.Crop.Height)
}

// Commit exports the current edit at full resolution and starts the upload.
func (s *Session) Commit(ctx context.Context) (*export.Result, error) {
	s.mu.Lock()
	r, p, closed := s.raster, s.params, s.closed
	s.mu.Unlock()
	if closed {
		return nil, editerr.Errorf(editerr.Render, "editor.commit", "session closed")
	}
	if r == nil {
		return nil, editerr.Errorf(editerr.Render, "editor.commit", "no image loaded")
	}
	return s.export.Commit(ctx, r, p)
}

// Close stops the preview scheduler and revokes every buffer the session
// created. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.raster = nil
	s.mu.Unlock()

	s.sched.Close()
	n := s.blobs.RevokeAll()
	s.log.Debug("session closed", "revoked", n)
}

// Live returns the number of buffers the session still holds.
func (s *Session) Live() int { return s.blobs.Live() }
