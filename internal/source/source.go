// Package source decodes image references into rasters.
//
// A reference is a remote http(s) URL, a data: URL, a blob: URL of a buffer
// registered in the session's blob registry, or a local file path. Decoding
// never assumes same-origin access: a remote raster is only readable at
// export time when its origin is trusted or the response grants access.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/AnyUserName/imgedit/internal/blob"
	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/logging"
)

// DefaultMaxBytes caps remote and data: payloads.
const DefaultMaxBytes = 32 << 20

// Raster is a decoded image with known natural dimensions.
type Raster struct {
	// Ref is the reference the raster was loaded from.
	Ref string
	// Image holds the pixels, EXIF orientation already applied.
	Image *image.NRGBA
	// Width and Height are the natural dimensions.
	Width, Height int
	// Format is the decoder name ("jpeg", "png", "webp", ...).
	Format string
	// OriginClean is false for cross-origin rasters whose pixels may be
	// drawn but not read back.
	OriginClean bool
	// Handle is the transient local buffer the raster was decoded from, if
	// any. The session releases it when the raster is replaced.
	Handle *blob.Handle
}

// Options configures a Loader.
type Options struct {
	// Client fetches remote references. Defaults to http.DefaultClient.
	Client *http.Client
	// Origin is the editor's own origin, e.g. "https://example.com".
	// Remote images on the same host are origin-clean.
	Origin string
	// Trusted lists extra hosts whose images are readable.
	Trusted []string
	// Blobs resolves blob: references. Nil disables them.
	Blobs *blob.Registry
	// MaxBytes caps fetched payloads. Zero means DefaultMaxBytes.
	MaxBytes int64
	Logger   *slog.Logger
}

// Loader implements the asynchronous image source.
type Loader struct {
	opts       Options
	originHost string
	log        *slog.Logger
}

// Result is delivered by LoadAsync.
type Result struct {
	Raster *Raster
	Err    error
}

// NewLoader builds a Loader.
func NewLoader(opts Options) *Loader {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	l := &Loader{opts: opts, log: logging.Or(opts.Logger)}
	if u, err := url.Parse(opts.Origin); err == nil {
		l.originHost = strings.ToLower(u.Hostname())
	}
	return l
}

// LoadAsync starts Load in a goroutine and delivers exactly one Result.
func (l *Loader) LoadAsync(ctx context.Context, ref string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		r, err := l.Load(ctx, ref)
		ch <- Result{Raster: r, Err: err}
	}()
	return ch
}

// Load resolves and decodes ref. Every failure is an editerr.Decode error.
func (l *Loader) Load(ctx context.Context, ref string) (*Raster, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, editerr.Errorf(editerr.Decode, "source.load", "empty image reference")
	}

	var (
		data   []byte
		clean  = true
		handle *blob.Handle
		err    error
	)
	switch {
	case strings.HasPrefix(ref, "data:"):
		data, err = parseDataURL(ref, l.opts.MaxBytes)
	case blob.IsURL(ref):
		handle, data, err = l.resolveBlob(ref)
	case isRemote(ref):
		data, clean, err = l.fetch(ctx, ref)
	default:
		data, err = readFile(strings.TrimPrefix(ref, "file://"), l.opts.MaxBytes)
	}
	if err != nil {
		l.log.Warn("image source unavailable", "ref", redact(ref), "error", err)
		return nil, editerr.New(editerr.Decode, "source.load", err)
	}

	r, err := Decode(data)
	if err != nil {
		if handle != nil {
			handle.Release()
		}
		l.log.Warn("image decode failed", "ref", redact(ref), "error", err)
		return nil, err
	}
	r.Ref = ref
	r.OriginClean = clean
	r.Handle = handle
	l.log.Debug("image loaded", "ref", redact(ref), "width", r.Width, "height", r.Height,
		"format", r.Format, "origin_clean", clean)
	return r, nil
}

// LoadBytes decodes an in-memory buffer. name is informational only.
func (l *Loader) LoadBytes(data []byte, name string) (*Raster, error) {
	r, err := Decode(data)
	if err != nil {
		return nil, err
	}
	r.Ref = name
	r.OriginClean = true
	return r, nil
}

// Decode decodes an encoded image, applying EXIF orientation. Rasters with
// zero width or height are rejected even when the decoder succeeded.
func Decode(data []byte) (*Raster, error) {
	if len(data) == 0 {
		return nil, editerr.Errorf(editerr.Decode, "source.decode", "empty image data")
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, editerr.New(editerr.Decode, "source.decode", fmt.Errorf("unsupported image: %w", err))
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, editerr.New(editerr.Decode, "source.decode", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, editerr.Errorf(editerr.Decode, "source.decode", "image has zero dimensions %dx%d", b.Dx(), b.Dy())
	}
	return &Raster{
		Image:  imaging.Clone(img),
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
	}, nil
}

func (l *Loader) resolveBlob(ref string) (*blob.Handle, []byte, error) {
	if l.opts.Blobs == nil {
		return nil, nil, errors.New("blob references are not enabled")
	}
	h, err := l.opts.Blobs.Lookup(ref)
	if err != nil {
		return nil, nil, err
	}
	data, err := h.Bytes()
	if err != nil {
		h.Release()
		return nil, nil, err
	}
	return h, data, nil
}

func (l *Loader) fetch(ctx context.Context, ref string) ([]byte, bool, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false, fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if l.opts.Origin != "" {
		req.Header.Set("Origin", l.opts.Origin)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("failed to fetch image: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") &&
		!strings.HasPrefix(ct, "application/octet-stream") {
		return nil, false, fmt.Errorf("unexpected content type %q", ct)
	}

	data, err := readLimited(resp.Body, l.opts.MaxBytes)
	if err != nil {
		return nil, false, err
	}
	return data, l.readable(u, resp.Header), nil
}

// readable decides whether pixels of a remote image may be read back.
func (l *Loader) readable(u *url.URL, h http.Header) bool {
	host := strings.ToLower(u.Hostname())
	if l.originHost != "" && host == l.originHost {
		return true
	}
	for _, t := range l.opts.Trusted {
		if strings.EqualFold(t, host) {
			return true
		}
	}
	acao := strings.TrimSpace(h.Get("Access-Control-Allow-Origin"))
	if acao == "*" {
		return true
	}
	return acao != "" && l.opts.Origin != "" && strings.EqualFold(acao, l.opts.Origin)
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func parseDataURL(ref string, maxBytes int64) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}
	if !strings.HasSuffix(meta, ";base64") {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("data url: %w", err)
		}
		return []byte(unescaped), nil
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes {
		return nil, fmt.Errorf("data url exceeds %d bytes", maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("data url: %w", err)
	}
	return data, nil
}

func readFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	return readLimited(f, maxBytes)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// redact shortens data: URLs for logs.
func redact(ref string) string {
	if strings.HasPrefix(ref, "data:") && len(ref) > 48 {
		return ref[:48] + "..."
	}
	return ref
}
