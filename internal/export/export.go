// Package export renders the committed edit at full resolution and hands it
// to the upload collaborator.
//
// Commit returns as soon as the image is encoded. The result is usable
// immediately (bytes, data URL, blob handle); the upload runs in the
// background and its outcome is collected with Result.Wait. A failed upload
// never invalidates the local result.
package export

import (
	"context"
	"log/slog"
	"time"

	"github.com/AnyUserName/imgedit/internal/blob"
	"github.com/AnyUserName/imgedit/internal/compositor"
	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/encoder"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/hasher"
	"github.com/AnyUserName/imgedit/internal/logging"
	"github.com/AnyUserName/imgedit/internal/source"
	"github.com/AnyUserName/imgedit/internal/upload"
)

// Options configures a Pipeline.
type Options struct {
	Renderer compositor.Renderer
	Blobs    *blob.Registry
	// Uploader is optional; without one results stay local.
	Uploader upload.Uploader
	// Format defaults to "jpeg", Quality to encoder.DefaultQuality.
	Format  string
	Quality int
	// Fields are passed to the uploader with every file.
	Fields map[string]string
	Logger *slog.Logger
}

// Pipeline performs full-resolution exports.
type Pipeline struct {
	opts Options
	log  *slog.Logger
}

// New builds a Pipeline.
func New(opts Options) *Pipeline {
	if opts.Format == "" {
		opts.Format = "jpeg"
	}
	if opts.Quality <= 0 {
		opts.Quality = encoder.DefaultQuality
	}
	if opts.Blobs == nil {
		opts.Blobs = blob.NewRegistry("export", opts.Logger)
	}
	return &Pipeline{opts: opts, log: logging.Or(opts.Logger)}
}

// Result is an encoded export.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Format string
	MIME   string
	// Hash is the xxhash of Data (16 hex chars).
	Hash string
	// Name is the content-addressed upload filename.
	Name string
	// Handle holds Data behind a blob: URL. Release it when done.
	Handle *blob.Handle

	done chan struct{}
	url  string
	err  error
}

// DataURL returns the encoded image as a base64 data: URL, for showing the
// result before the upload completes.
func (r *Result) DataURL() string { return blob.DataURL(r.MIME, r.Data) }

// Done is closed when the upload has finished (immediately without an
// uploader).
func (r *Result) Done() <-chan struct{} { return r.done }

// Wait blocks until the upload finishes and returns the durable URL. Upload
// failures are editerr.Upload errors. Without an uploader it returns "", nil.
func (r *Result) Wait(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return r.url, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Release drops the result's blob handle.
func (r *Result) Release() {
	if r.Handle != nil {
		r.Handle.Release()
	}
}

// Commit renders params against raster at natural resolution, encodes it
// and starts the upload. Render, geometry, security and encode failures are
// returned with their editerr kind; nothing is uploaded in that case.
func (p *Pipeline) Commit(ctx context.Context, raster *source.Raster, params geometry.TransformParams) (*Result, error) {
	const op = "export.commit"
	if raster == nil {
		return nil, editerr.Errorf(editerr.Render, op, "no image loaded")
	}
	if p.opts.Renderer == nil {
		return nil, editerr.Errorf(editerr.Render, op, "no renderer configured")
	}
	crop, err := geometry.ClampPixelRect(params.Crop, raster.Width, raster.Height)
	if err != nil {
		return nil, err
	}
	params = params.WithCrop(crop).Normalize()

	start := time.Now()
	out, err := p.opts.Renderer.Render(ctx, compositor.Request{
		Raster:      raster,
		Crop:        params.Crop,
		Scale:       params.Scale,
		Rotation:    params.Rotation,
		OutputScale: 1,
	}, p.opts.Format, p.opts.Quality)
	if err != nil {
		p.log.Warn("export failed", "ref", raster.Ref, "kind", editerr.KindOf(err).String(), "error", err)
		return nil, err
	}

	ext := out.Extension
	if ext == "" {
		ext = encoder.Canonical(out.Format)
	}
	res := &Result{
		Data:   out.Data,
		Width:  out.Width,
		Height: out.Height,
		Format: out.Format,
		MIME:   out.MIME,
		Hash:   hasher.ContentHash(out.Data, 16),
		Name:   hasher.UploadName(out.Data, ext),
		done:   make(chan struct{}),
	}
	res.Handle = p.opts.Blobs.Create(out.Data, out.MIME)

	p.log.Info("export encoded", "name", res.Name, "width", res.Width, "height", res.Height,
		"bytes", len(res.Data), "took", time.Since(start))

	if p.opts.Uploader == nil {
		close(res.done)
		return res, nil
	}
	go p.upload(ctx, res)
	return res, nil
}

func (p *Pipeline) upload(ctx context.Context, res *Result) {
	defer close(res.done)
	url, err := upload.Result(p.opts.Uploader.Upload(ctx, upload.File{
		Name:   res.Name,
		Data:   res.Data,
		MIME:   res.MIME,
		Fields: p.opts.Fields,
	}))
	if err != nil {
		res.err = editerr.New(editerr.Upload, "export.upload", err)
		p.log.Warn("upload failed", "name", res.Name, "error", err)
		return
	}
	res.url = url
	p.log.Info("upload finished", "name", res.Name, "url", url)
}
