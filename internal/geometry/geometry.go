// Package geometry computes crop rectangles and transform parameters.
//
// Everything here is pure: no state, no I/O. Rectangles come in two
// coordinate systems, PercentRect (relative to the raster's natural size)
// and PixelRect (natural pixels).
package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AnyUserName/imgedit/internal/editerr"
)

// DefaultAspect is the 3:2 ratio used for cover images.
const DefaultAspect = 3.0 / 2.0

// DefaultCoverage is the initial crop width as a percentage of the source.
const DefaultCoverage = 90.0

// PercentRect is a rectangle in percent of the natural dimensions.
type PercentRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PixelRect is a rectangle in natural pixels.
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r PixelRect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Aspect returns width/height, or 0 for an empty rectangle.
func (r PixelRect) Aspect() float64 {
	if r.Empty() {
		return 0
	}
	return float64(r.Width) / float64(r.Height)
}

func (r PixelRect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// FloatRect is a rectangle with fractional coordinates, used for the
// source sampling region.
type FloatRect struct {
	X, Y, Width, Height float64
}

// Area returns Width*Height.
func (r FloatRect) Area() float64 { return r.Width * r.Height }

// CenteredCrop returns the initial crop for a source of the given natural
// size: coverage percent of the width, height derived from aspect. If that
// height does not fit, height is capped at the full source height and width
// derived from it, then symmetrically for width. The result is centred.
// coverage <= 0 selects DefaultCoverage.
func CenteredCrop(naturalWidth, naturalHeight int, aspect, coverage float64) (PercentRect, error) {
	if naturalWidth <= 0 || naturalHeight <= 0 {
		return PercentRect{}, editerr.Errorf(editerr.InvalidGeometry, "geometry.centered_crop",
			"source size %dx%d", naturalWidth, naturalHeight)
	}
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		aspect = float64(naturalWidth) / float64(naturalHeight)
	}
	if coverage <= 0 {
		coverage = DefaultCoverage
	}
	coverage = math.Min(coverage, 100)

	w := float64(naturalWidth)
	h := float64(naturalHeight)

	cw := w * coverage / 100
	ch := cw / aspect
	if ch > h {
		ch = h
		cw = ch * aspect
	}
	if cw > w {
		cw = w
		ch = cw / aspect
	}

	pw := cw / w * 100
	ph := ch / h * 100
	return PercentRect{
		X:      (100 - pw) / 2,
		Y:      (100 - ph) / 2,
		Width:  pw,
		Height: ph,
	}, nil
}

// ToPixelRect scales a percent rectangle to natural pixels, rounding each
// component half-up.
func ToPixelRect(r PercentRect, naturalWidth, naturalHeight int) PixelRect {
	w := float64(naturalWidth)
	h := float64(naturalHeight)
	return PixelRect{
		X:      roundHalfUp(r.X / 100 * w),
		Y:      roundHalfUp(r.Y / 100 * h),
		Width:  roundHalfUp(r.Width / 100 * w),
		Height: roundHalfUp(r.Height / 100 * h),
	}
}

// ToPercentRect is the inverse of ToPixelRect.
func ToPercentRect(r PixelRect, naturalWidth, naturalHeight int) PercentRect {
	if naturalWidth <= 0 || naturalHeight <= 0 {
		return PercentRect{}
	}
	w := float64(naturalWidth)
	h := float64(naturalHeight)
	return PercentRect{
		X:      float64(r.X) / w * 100,
		Y:      float64(r.Y) / h * 100,
		Width:  float64(r.Width) / w * 100,
		Height: float64(r.Height) / h * 100,
	}
}

// ClampPixelRect moves an externally supplied rectangle into
// [0,naturalWidth]x[0,naturalHeight], trimming whatever hangs over. A
// rectangle left without area is an InvalidGeometry error.
func ClampPixelRect(r PixelRect, naturalWidth, naturalHeight int) (PixelRect, error) {
	x0 := clampInt(r.X, 0, naturalWidth)
	y0 := clampInt(r.Y, 0, naturalHeight)
	x1 := clampInt(r.X+r.Width, 0, naturalWidth)
	y1 := clampInt(r.Y+r.Height, 0, naturalHeight)

	out := PixelRect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if out.Empty() {
		return PixelRect{}, editerr.Errorf(editerr.InvalidGeometry, "geometry.clamp",
			"crop %s has no area inside %dx%d", r, naturalWidth, naturalHeight)
	}
	return out, nil
}

// FitAspect shrinks the longer side of r around its centre so that
// width/height matches aspect. aspect <= 0 returns r unchanged.
func FitAspect(r PixelRect, aspect float64) (PixelRect, error) {
	if r.Empty() {
		return PixelRect{}, editerr.Errorf(editerr.InvalidGeometry, "geometry.fit_aspect", "crop %s is empty", r)
	}
	if aspect <= 0 {
		return r, nil
	}

	w, h := r.Width, r.Height
	if float64(w)/float64(h) > aspect {
		w = roundHalfUp(float64(h) * aspect)
	} else {
		h = roundHalfUp(float64(w) / aspect)
	}
	if w <= 0 || h <= 0 {
		return PixelRect{}, editerr.Errorf(editerr.InvalidGeometry, "geometry.fit_aspect",
			"crop %s too small for aspect %.4f", r, aspect)
	}
	return PixelRect{
		X:      r.X + (r.Width-w)/2,
		Y:      r.Y + (r.Height-h)/2,
		Width:  w,
		Height: h,
	}, nil
}

// SampleRect returns the source region sampled for a crop at the given
// zoom. Zoom pivots on the crop centre: scale > 1 samples less source,
// scale < 1 samples more.
func SampleRect(crop PixelRect, scale float64) FloatRect {
	if scale <= 0 {
		scale = 1
	}
	cw := float64(crop.Width)
	ch := float64(crop.Height)
	sw := cw / scale
	sh := ch / scale
	return FloatRect{
		X:      float64(crop.X) - (sw-cw)/2,
		Y:      float64(crop.Y) - (sh-ch)/2,
		Width:  sw,
		Height: sh,
	}
}

// ParseAspect accepts "W:H", "W/H" or a decimal ratio. An empty string or
// "free" returns 0, meaning "use the source's own ratio".
func ParseAspect(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "free" {
		return 0, nil
	}
	for _, sep := range []string{":", "/"} {
		if a, b, ok := strings.Cut(s, sep); ok {
			w, err1 := strconv.ParseFloat(a, 64)
			h, err2 := strconv.ParseFloat(b, 64)
			if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
				return 0, fmt.Errorf("invalid aspect ratio %q", s)
			}
			return w / h, nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return v, nil
}

// ParsePixelRect parses "x,y,w,h".
func ParsePixelRect(s string) (PixelRect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return PixelRect{}, fmt.Errorf("crop %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return PixelRect{}, fmt.Errorf("crop %q: %w", s, err)
		}
		v[i] = n
	}
	return PixelRect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// ParsePercentRect parses "x,y,w,h" in percent.
func ParsePercentRect(s string) (PercentRect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return PercentRect{}, fmt.Errorf("crop %q: want x,y,w,h", s)
	}
	var v [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return PercentRect{}, fmt.Errorf("crop %q: %w", s, err)
		}
		v[i] = n
	}
	return PercentRect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
