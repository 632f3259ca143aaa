package soft

import (
	"image/color"
	"math"
)

// rgba is a color with float channels, nominally in [0,1].
type rgba struct {
	R, G, B, A float64
}

var transparent = rgba{}

func gray(v float64) rgba {
	return rgba{R: v, G: v, B: v, A: 1}
}

// luminance uses Rec. 601 weights.
func (c rgba) luminance() float64 {
	return 0.299*c.R + 0.587*c.G + 0.114*c.B
}

func (c rgba) clamp() rgba {
	return rgba{R: clamp01(c.R), G: clamp01(c.G), B: clamp01(c.B), A: clamp01(c.A)}
}

func (c rgba) toRGBA() color.RGBA {
	c = c.clamp()
	return color.RGBA{
		R: uint8(math.Round(c.R * 255)),
		G: uint8(math.Round(c.G * 255)),
		B: uint8(math.Round(c.B * 255)),
		A: uint8(math.Round(c.A * 255)),
	}
}

func fromRGBA(c color.RGBA) rgba {
	return rgba{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
		A: float64(c.A) / 255,
	}
}

// mixColor linearly interpolates every channel from a to b.
func mixColor(a, b rgba, t float64) rgba {
	return rgba{
		R: lerp(a.R, b.R, t),
		G: lerp(a.G, b.G, t),
		B: lerp(a.B, b.B, t),
		A: lerp(a.A, b.A, t),
	}
}

// mapRGB applies fn to the color channels, leaving alpha alone.
func (c rgba) mapRGB(fn func(float64) float64) rgba {
	return rgba{R: fn(c.R), G: fn(c.G), B: fn(c.B), A: c.A}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// smoothstep is the Hermite step between e0 and e1. Equal edges degrade to
// a hard step.
func smoothstep(e0, e1, x float64) float64 {
	if e0 == e1 {
		if x < e0 {
			return 0
		}
		return 1
	}
	t := clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}

// fract returns the fractional part, always in [0,1).
func fract(v float64) float64 {
	return v - math.Floor(v)
}
