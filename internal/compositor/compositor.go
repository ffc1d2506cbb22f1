// Package compositor renders a crop/zoom/rotate transform of a raster onto
// an opaque output surface and encodes the result.
//
// The drawing model is that of a 2D canvas: the surface is filled with the
// background colour, the origin is moved to the surface centre and rotated,
// and the zoomed sampling rectangle of the source is stretched over the
// whole surface. Source pixels outside the raster are clipped, so the
// background shows through when zooming out or rotating.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/encoder"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/logging"
	"github.com/AnyUserName/imgedit/internal/source"
)

// DefaultBackground is the fill colour behind the drawn source.
const DefaultBackground = "#ffffff"

// ErrTainted is wrapped in the Security error returned when encoding a
// surface that was drawn from a cross-origin raster.
var ErrTainted = errors.New("surface is tainted by cross-origin data")

// Options configures a Compositor.
type Options struct {
	// Background is a hex colour. Alpha is ignored, the fill is always opaque.
	Background string
	// Interpolator resamples the source. Defaults to draw.CatmullRom.
	Interpolator draw.Interpolator
	// Encoders provides output formats. Defaults to encoder.NewRegistry().
	Encoders *encoder.Registry
	Logger   *slog.Logger
}

// Renderer composes and encodes a request. *Compositor implements it; the
// preview and export stages depend only on this.
type Renderer interface {
	Render(ctx context.Context, req Request, format string, quality int) (*Output, error)
}

// Compositor is safe for concurrent use; it keeps no per-render state.
type Compositor struct {
	bg     color.RGBA
	interp draw.Interpolator
	enc    *encoder.Registry
	log    *slog.Logger
}

// Request describes one render.
type Request struct {
	Raster *source.Raster
	// Crop is in natural pixels of Raster.
	Crop geometry.PixelRect
	// Scale is the zoom factor; >1 magnifies.
	Scale float64
	// Rotation is in degrees, clockwise.
	Rotation int
	// OutputScale multiplies the crop size to get the surface size:
	// 2 for previews, 1 for export.
	OutputScale float64
}

// Surface is a composed, not yet encoded, output.
type Surface struct {
	Image *image.RGBA
	// OriginClean is inherited from the raster; a tainted surface can be
	// inspected by the process but never encoded.
	OriginClean bool
}

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.Image.Bounds().Dx() }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.Image.Bounds().Dy() }

// Output is an encoded surface.
type Output struct {
	Data      []byte
	Width     int
	Height    int
	Format    string
	MIME      string
	Extension string
}

// New builds a Compositor. An unparseable background colour is an error.
func New(opts Options) (*Compositor, error) {
	bg, err := ParseBackground(opts.Background)
	if err != nil {
		return nil, err
	}
	c := &Compositor{
		bg:     bg,
		interp: opts.Interpolator,
		enc:    opts.Encoders,
		log:    logging.Or(opts.Logger),
	}
	if c.interp == nil {
		c.interp = draw.CatmullRom
	}
	if c.enc == nil {
		c.enc = encoder.NewRegistry()
	}
	return c, nil
}

// ParseBackground parses a hex colour ("#fff" or "#ffffff") into an opaque
// RGBA. Empty selects DefaultBackground.
func ParseBackground(s string) (color.RGBA, error) {
	if s == "" {
		s = DefaultBackground
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("background %q: %w", s, err)
	}
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// Render composes and encodes in one step.
func (c *Compositor) Render(ctx context.Context, req Request, format string, quality int) (*Output, error) {
	s, err := c.Compose(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.Encode(ctx, s, format, quality)
}

// Compose draws req onto a fresh surface.
func (c *Compositor) Compose(ctx context.Context, req Request) (*Surface, error) {
	const op = "compositor.compose"
	if err := ctx.Err(); err != nil {
		return nil, editerr.New(editerr.Render, op, err)
	}
	if req.Raster == nil || req.Raster.Image == nil {
		return nil, editerr.Errorf(editerr.Render, op, "no source raster")
	}
	factor := req.OutputScale
	if factor <= 0 {
		factor = 1
	}

	w := roundHalfUp(float64(req.Crop.Width) * factor)
	h := roundHalfUp(float64(req.Crop.Height) * factor)
	if w <= 0 || h <= 0 {
		return nil, editerr.Errorf(editerr.Render, op, "output surface %dx%d for crop %s", w, h, req.Crop)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c.bg), image.Point{}, draw.Src)

	sample := geometry.SampleRect(req.Crop, geometry.ClampScale(req.Scale))
	rotation := geometry.NormalizeRotation(req.Rotation)
	src := req.Raster.Image

	if sr, ok := sourceRect(sample, src.Bounds()); ok {
		m := surfaceMatrix(sample, w, h, rotation)
		c.interp.Transform(dst, m, src, sr, draw.Over, nil)
	}

	c.log.Debug("surface composed",
		"width", w, "height", h,
		"crop", req.Crop.String(),
		"scale", req.Scale,
		"rotation", rotation,
		"origin_clean", req.Raster.OriginClean)

	return &Surface{Image: dst, OriginClean: req.Raster.OriginClean}, nil
}

// Encode encodes s. Reading pixels back from a tainted surface is a
// Security error; every other failure is an Encode error.
func (c *Compositor) Encode(ctx context.Context, s *Surface, format string, quality int) (*Output, error) {
	const op = "compositor.encode"
	if s == nil || s.Image == nil {
		return nil, editerr.Errorf(editerr.Encode, op, "no surface")
	}
	if !s.OriginClean {
		return nil, editerr.New(editerr.Security, op, ErrTainted)
	}
	if err := ctx.Err(); err != nil {
		return nil, editerr.New(editerr.Encode, op, err)
	}

	enc, err := c.enc.Lookup(format)
	if err != nil {
		return nil, editerr.New(editerr.Encode, op, err)
	}
	data, err := enc.Encode(s.Image, quality)
	if err != nil {
		c.log.Warn("encode failed", "format", enc.Format(), "error", err)
		return nil, editerr.New(editerr.Encode, op, fmt.Errorf("%s: %w", enc.Format(), err))
	}
	if len(data) == 0 {
		return nil, editerr.Errorf(editerr.Encode, op, "%s encoder produced no data", enc.Format())
	}

	return &Output{
		Data:      data,
		Width:     s.Width(),
		Height:    s.Height(),
		Format:    enc.Format(),
		MIME:      enc.MIME(),
		Extension: enc.Extension(),
	}, nil
}

// surfaceMatrix maps source pixels onto a w×h surface: the sample rect is
// stretched to the surface, then rotated about the surface centre.
func surfaceMatrix(sample geometry.FloatRect, w, h, rotation int) f64.Aff3 {
	W, H := float64(w), float64(h)
	kx := W / sample.Width
	ky := H / sample.Height

	sin, cos := math.Sincos(float64(rotation) * math.Pi / 180)

	// Position of the sample origin relative to the surface centre.
	ox := -sample.X*kx - W/2
	oy := -sample.Y*ky - H/2

	return f64.Aff3{
		kx * cos, -ky * sin, W/2 + ox*cos - oy*sin,
		kx * sin, ky * cos, H/2 + ox*sin + oy*cos,
	}
}

// sourceRect is the integer source region covering sample, clipped to the
// raster bounds.
func sourceRect(sample geometry.FloatRect, bounds image.Rectangle) (image.Rectangle, bool) {
	r := image.Rect(
		int(math.Floor(sample.X)),
		int(math.Floor(sample.Y)),
		int(math.Ceil(sample.X+sample.Width)),
		int(math.Ceil(sample.Y+sample.Height)),
	).Intersect(bounds)
	return r, !r.Empty()
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
