package geometry

import "math"

// Transform limits and steps.
const (
	MinScale     = 0.1
	MaxScale     = 3.0
	ZoomStep     = 0.1
	RotationStep = 15
)

// TransformParams is the full set of user-adjustable edit parameters.
type TransformParams struct {
	Scale    float64   `json:"scale"`
	Rotation int       `json:"rotation"`
	Crop     PixelRect `json:"crop"`
}

// NewTransformParams returns identity zoom and rotation for crop.
func NewTransformParams(crop PixelRect) TransformParams {
	return TransformParams{Scale: 1, Crop: crop}
}

// InitialCrop is CenteredCrop in natural pixels, clamped into the image.
func InitialCrop(naturalWidth, naturalHeight int, aspect, coverage float64) (PixelRect, error) {
	pct, err := CenteredCrop(naturalWidth, naturalHeight, aspect, coverage)
	if err != nil {
		return PixelRect{}, err
	}
	return ClampPixelRect(ToPixelRect(pct, naturalWidth, naturalHeight), naturalWidth, naturalHeight)
}

// InitialParams is the starting point of every edit: the centred crop at
// scale 1 and no rotation.
func InitialParams(naturalWidth, naturalHeight int, aspect, coverage float64) (TransformParams, error) {
	crop, err := InitialCrop(naturalWidth, naturalHeight, aspect, coverage)
	if err != nil {
		return TransformParams{}, err
	}
	return NewTransformParams(crop), nil
}

// Normalize clamps the scale and folds the rotation into [0, 360).
func (p TransformParams) Normalize() TransformParams {
	p.Scale = ClampScale(p.Scale)
	p.Rotation = NormalizeRotation(p.Rotation)
	return p
}

// WithScale returns p with a clamped scale.
func (p TransformParams) WithScale(scale float64) TransformParams {
	p.Scale = ClampScale(scale)
	return p
}

// WithZoomStep moves the scale by steps*ZoomStep, clamped.
func (p TransformParams) WithZoomStep(steps int) TransformParams {
	// Round to a tenth so repeated steps do not drift (0.1+0.2 != 0.3).
	s := math.Round((p.Scale+float64(steps)*ZoomStep)*10) / 10
	p.Scale = ClampScale(s)
	return p
}

// WithRotation returns p with a normalised rotation.
func (p TransformParams) WithRotation(deg int) TransformParams {
	p.Rotation = NormalizeRotation(deg)
	return p
}

// WithRotationStep rotates by steps*RotationStep degrees; negative steps
// rotate counter-clockwise.
func (p TransformParams) WithRotationStep(steps int) TransformParams {
	p.Rotation = NormalizeRotation(p.Rotation + steps*RotationStep)
	return p
}

// WithCrop returns p with a new crop rectangle.
func (p TransformParams) WithCrop(crop PixelRect) TransformParams {
	p.Crop = crop
	return p
}

// ClampScale limits s to [MinScale, MaxScale]. Non-finite or non-positive
// values become 1.
func ClampScale(s float64) float64 {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 1
	}
	return math.Max(MinScale, math.Min(MaxScale, s))
}

// NormalizeRotation folds deg into [0, 360).
func NormalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}
