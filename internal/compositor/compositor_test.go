package compositor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnyUserName/imgedit/internal/editerr"
	"github.com/AnyUserName/imgedit/internal/encoder"
	"github.com/AnyUserName/imgedit/internal/geometry"
	"github.com/AnyUserName/imgedit/internal/source"
)

var red = color.NRGBA{R: 255, A: 255}

func solidRaster(w, h int, c color.NRGBA) *source.Raster {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return &source.Raster{Image: img, Width: w, Height: h, Format: "png", OriginClean: true}
}

func gradientRaster(w, h int) *source.Raster {
	r := solidRaster(w, h, red)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r.Image.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	return r
}

func newCompositor(t *testing.T, bg string) *Compositor {
	t.Helper()
	c, err := New(Options{Background: bg})
	require.NoError(t, err)
	return c
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -1 && d <= 1
}

func assertColor(t *testing.T, img *image.RGBA, x, y int, want color.RGBA) {
	t.Helper()
	got := img.RGBAAt(x, y)
	assert.True(t, near(got.R, want.R) && near(got.G, want.G) && near(got.B, want.B) && near(got.A, want.A),
		"pixel (%d,%d) = %v, want %v", x, y, got, want)
}

func TestCompose_SurfaceSize(t *testing.T) {
	c := newCompositor(t, "")
	r := solidRaster(300, 200, red)
	crop := geometry.PixelRect{X: 15, Y: 10, Width: 270, Height: 180}

	tests := []struct {
		factor float64
		w, h   int
	}{
		{1, 270, 180},
		{2, 540, 360},
		{0.5, 135, 90},
		{0, 270, 180}, // zero selects 1
	}
	for _, tt := range tests {
		s, err := c.Compose(context.Background(), Request{Raster: r, Crop: crop, Scale: 1, OutputScale: tt.factor})
		require.NoError(t, err)
		assert.Equal(t, tt.w, s.Width(), "factor %v", tt.factor)
		assert.Equal(t, tt.h, s.Height(), "factor %v", tt.factor)
	}
}

func TestCompose_EmptySurfaceIsRenderError(t *testing.T) {
	c := newCompositor(t, "")
	r := solidRaster(10, 10, red)

	_, err := c.Compose(context.Background(), Request{Raster: r, Crop: geometry.PixelRect{Width: 0, Height: 5}, Scale: 1})
	assert.True(t, editerr.Is(err, editerr.Render), "got %v", err)

	_, err = c.Compose(context.Background(), Request{Raster: r, Crop: geometry.PixelRect{Width: 1, Height: 1}, Scale: 1, OutputScale: 0.1})
	assert.True(t, editerr.Is(err, editerr.Render), "got %v", err)

	_, err = c.Compose(context.Background(), Request{Crop: geometry.PixelRect{Width: 1, Height: 1}})
	assert.True(t, editerr.Is(err, editerr.Render), "got %v", err)
}

func TestCompose_IdentityKeepsSource(t *testing.T) {
	c := newCompositor(t, "")
	r := solidRaster(40, 20, red)
	s, err := c.Compose(context.Background(), Request{Raster: r, Crop: geometry.PixelRect{Width: 40, Height: 20}, Scale: 1})
	require.NoError(t, err)

	for _, p := range []image.Point{{0, 0}, {39, 0}, {0, 19}, {39, 19}, {20, 10}} {
		assertColor(t, s.Image, p.X, p.Y, color.RGBA{R: 255, A: 255})
	}
}

func TestCompose_ZoomOutShowsBackground(t *testing.T) {
	c := newCompositor(t, "")
	r := solidRaster(40, 20, red)
	s, err := c.Compose(context.Background(), Request{Raster: r, Crop: geometry.PixelRect{Width: 40, Height: 20}, Scale: 0.5})
	require.NoError(t, err)

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	assertColor(t, s.Image, 0, 0, white)
	assertColor(t, s.Image, 39, 19, white)
	assertColor(t, s.Image, 20, 10, color.RGBA{R: 255, A: 255})
}

func TestCompose_RotationPivotsOnCentre(t *testing.T) {
	c := newCompositor(t, "#000")
	r := solidRaster(40, 20, red)
	s, err := c.Compose(context.Background(), Request{Raster: r, Crop: geometry.PixelRect{Width: 40, Height: 20}, Scale: 1, Rotation: 45})
	require.NoError(t, err)

	assert.Equal(t, 40, s.Width(), "rotation does not change the surface size")
	assertColor(t, s.Image, 0, 0, color.RGBA{A: 255})
	assertColor(t, s.Image, 39, 19, color.RGBA{A: 255})
	assertColor(t, s.Image, 20, 10, color.RGBA{R: 255, A: 255})
}

func TestCompose_FullTurnMatchesNoRotation(t *testing.T) {
	c := newCompositor(t, "")
	r := gradientRaster(60, 40)
	crop := geometry.PixelRect{X: 5, Y: 5, Width: 45, Height: 30}

	base, err := c.Compose(context.Background(), Request{Raster: r, Crop: crop, Scale: 1.3, Rotation: 0, OutputScale: 2})
	require.NoError(t, err)
	for _, rot := range []int{360, -360, 720} {
		s, err := c.Compose(context.Background(), Request{Raster: r, Crop: crop, Scale: 1.3, Rotation: rot, OutputScale: 2})
		require.NoError(t, err)
		assert.True(t, bytes.Equal(base.Image.Pix, s.Image.Pix), "rotation %d differs from 0", rot)
	}
}

func TestCompose_QuarterTurnMovesCorners(t *testing.T) {
	c := newCompositor(t, "")
	// Square raster: left half red, right half blue.
	r := solidRaster(20, 20, red)
	for y := 0; y < 20; y++ {
		for x := 10; x < 20; x++ {
			r.Image.SetNRGBA(x, y, color.NRGBA{B: 255, A: 255})
		}
	}
	s, err := c.Compose(context.Background(), Request{Raster: r, Crop: geometry.PixelRect{Width: 20, Height: 20}, Scale: 1, Rotation: 90})
	require.NoError(t, err)

	// Clockwise quarter turn: the left half ends up on top.
	assertColor(t, s.Image, 10, 2, color.RGBA{R: 255, A: 255})
	assertColor(t, s.Image, 10, 17, color.RGBA{B: 255, A: 255})
}

func TestEncode_JPEG(t *testing.T) {
	c := newCompositor(t, "")
	out, err := c.Render(context.Background(), Request{
		Raster: gradientRaster(80, 60),
		Crop:   geometry.PixelRect{X: 4, Y: 3, Width: 72, Height: 48},
		Scale:  1,
	}, "jpeg", encoder.DefaultQuality)
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", out.MIME)
	assert.Equal(t, 72, out.Width)
	assert.Equal(t, 48, out.Height)

	img, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 72, 48), img.Bounds())
}

func TestEncode_TaintedIsSecurityError(t *testing.T) {
	c := newCompositor(t, "")
	r := solidRaster(30, 20, red)
	r.OriginClean = false

	s, err := c.Compose(context.Background(), Request{Raster: r, Crop: geometry.PixelRect{Width: 30, Height: 20}, Scale: 1})
	require.NoError(t, err, "drawing a cross-origin raster is allowed")
	assert.False(t, s.OriginClean)

	_, err = c.Encode(context.Background(), s, "jpeg", 95)
	require.Error(t, err)
	assert.True(t, editerr.Is(err, editerr.Security), "got %v", err)
	assert.ErrorIs(t, err, ErrTainted)
	assert.Equal(t, "Cannot edit this image due to cross-origin restrictions.", editerr.UserMessage(err))
}

func TestEncode_UnknownFormatIsEncodeError(t *testing.T) {
	c, err := New(Options{Encoders: encoder.NewRegistryWith(&encoder.JPEGEncoder{})})
	require.NoError(t, err)
	_, err = c.Render(context.Background(), Request{
		Raster: solidRaster(10, 10, red),
		Crop:   geometry.PixelRect{Width: 10, Height: 10},
		Scale:  1,
	}, "png", 0)
	assert.True(t, editerr.Is(err, editerr.Encode), "got %v", err)
}

func TestCompose_CancelledContext(t *testing.T) {
	c := newCompositor(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Compose(ctx, Request{Raster: solidRaster(4, 4, red), Crop: geometry.PixelRect{Width: 4, Height: 4}})
	assert.True(t, editerr.Is(err, editerr.Render))
}

func TestParseBackground(t *testing.T) {
	got, err := ParseBackground("")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, got)

	got, err = ParseBackground("#336699")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0x33, 0x66, 0x99, 0xff}, got)

	_, err = ParseBackground("chartreuse")
	assert.Error(t, err)

	_, err = New(Options{Background: "nope"})
	assert.Error(t, err)
}
