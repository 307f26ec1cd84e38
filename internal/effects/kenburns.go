package effects

import (
	"fmt"
	"math"
	"strings"
)

// DefaultZoomIntensity makes the image grow by 10% over one scene.
const DefaultZoomIntensity = 0.1

// Rect is a destination rectangle on the canvas, in pixels.
type Rect struct {
	X, Y, W, H float64
}

// Center returns the rectangle center.
func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Easing reshapes scene progress before it drives the zoom.
type Easing string

const (
	EaseLinear     Easing = "linear"
	EaseInOutCubic Easing = "ease-in-out"
)

// Apply maps p in [0,1] to the eased value, also in [0,1].
func (e Easing) Apply(p float64) float64 {
	switch e {
	case EaseInOutCubic:
		return easeInOutCubic(p)
	default:
		return p
	}
}

// Fit chooses the base size of the image on the canvas before zooming.
type Fit string

const (
	// FitNative draws the image at its decoded pixel size.
	FitNative Fit = "native"
	// FitContain shrinks or grows the image until it fits inside the canvas.
	FitContain Fit = "contain"
	// FitCover grows or shrinks the image until it covers the whole canvas.
	FitCover Fit = "cover"
)

// ParseEasing accepts "linear" or "ease-in-out" (case-insensitive).
func ParseEasing(s string) (Easing, error) {
	switch e := Easing(strings.ToLower(s)); e {
	case "", EaseLinear:
		return EaseLinear, nil
	case EaseInOutCubic:
		return e, nil
	default:
		return "", fmt.Errorf("unknown easing %q", s)
	}
}

// ParseFit accepts "native", "contain" or "cover" (case-insensitive).
func ParseFit(s string) (Fit, error) {
	switch f := Fit(strings.ToLower(s)); f {
	case "", FitNative:
		return FitNative, nil
	case FitContain, FitCover:
		return f, nil
	default:
		return "", fmt.Errorf("unknown fit mode %q", s)
	}
}

// Animator computes where a scene image is drawn for a given scene progress.
type Animator interface {
	Transform(progress float64, nativeW, nativeH, canvasW, canvasH int) Rect
}

// KenBurns zooms the image in slowly around the canvas center.
type KenBurns struct {
	// Intensity is how much the image grows over a full scene (0.1 = 10%).
	Intensity float64
	Easing    Easing
	Fit       Fit
}

// NewKenBurns returns the default centered zoom-in.
func NewKenBurns() KenBurns {
	return KenBurns{Intensity: DefaultZoomIntensity, Easing: EaseLinear, Fit: FitNative}
}

// Scale returns the zoom factor at progress p: 1 at p=0, growing to 1+Intensity.
func (k KenBurns) Scale(p float64) float64 {
	return lerp(1, 1+k.Intensity, k.Easing.Apply(p))
}

// Transform returns the centered destination rectangle at progress p.
func (k KenBurns) Transform(p float64, nativeW, nativeH, canvasW, canvasH int) Rect {
	s := k.Scale(p) * baseScale(k.Fit, nativeW, nativeH, canvasW, canvasH)

	w := float64(nativeW) * s
	h := float64(nativeH) * s
	return Rect{
		X: (float64(canvasW) - w) / 2,
		Y: (float64(canvasH) - h) / 2,
		W: w,
		H: h,
	}
}

func baseScale(fit Fit, nativeW, nativeH, canvasW, canvasH int) float64 {
	if nativeW <= 0 || nativeH <= 0 {
		return 1
	}
	sx := float64(canvasW) / float64(nativeW)
	sy := float64(canvasH) / float64(nativeH)

	switch fit {
	case FitContain:
		return math.Min(sx, sy)
	case FitCover:
		return math.Max(sx, sy)
	default:
		return 1
	}
}
