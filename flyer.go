package flyer

import (
	"image/color"
	"math"
)

// Color represents an RGBA color with components in [0, 1]. Not premultiplied.
// Premultiplication occurs at submission time.
type Color struct {
	R, G, B, A float64
}

// Palette used by the default template and placeholder glyphs.
var (
	ColorWhite       = Color{1, 1, 1, 1}
	ColorBlack       = Color{0, 0, 0, 1}
	ColorCanvas      = Color{0.071, 0.086, 0.133, 1}
	ColorPlaceholder = Color{0.357, 0.376, 0.439, 1}
	ColorAccent      = Color{0.969, 0.757, 0.141, 1}
	ColorPlate       = Color{0, 0, 0, 0.72}
)

// RGBA converts c to a premultiplied color.RGBA.
func (c Color) RGBA() color.RGBA {
	a := clamp01(c.A)
	return color.RGBA{
		R: uint8(clamp01(c.R)*a*255 + 0.5),
		G: uint8(clamp01(c.G)*a*255 + 0.5),
		B: uint8(clamp01(c.B)*a*255 + 0.5),
		A: uint8(a*255 + 0.5),
	}
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Vec2 is a 2D vector used for positions and sizes, either normalized
// (percent of the canvas) or in pixels depending on context.
type Vec2 struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle. The coordinate system has its origin at
// the top-left, with Y increasing downward.
type Rect struct {
	X, Y, Width, Height float64
}

// Contains reports whether the point (x, y) lies inside the rectangle.
// Points on the edge are considered inside.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width &&
		y >= r.Y && y <= r.Y+r.Height
}

// Intersects reports whether r and other overlap.
// Adjacent rectangles (sharing only an edge) are considered intersecting.
func (r Rect) Intersects(other Rect) bool {
	return r.X <= other.X+other.Width &&
		r.X+r.Width >= other.X &&
		r.Y <= other.Y+other.Height &&
		r.Y+r.Height >= other.Y
}

// Center returns the midpoint of r.
func (r Rect) Center() Vec2 {
	return Vec2{r.X + r.Width/2, r.Y + r.Height/2}
}

// Normalized coordinate bounds. Every stored position lies in [MinCoord, MaxCoord].
const (
	MinCoord = 0.0
	MaxCoord = 100.0
)

// Clamp maps v into [0, 100]. NaN maps to 0 and infinities to the nearest
// bound. Clamp(Clamp(v)) == Clamp(v) for every v.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return MinCoord
	case v < MinCoord:
		return MinCoord
	case v > MaxCoord:
		return MaxCoord
	}
	return v
}

// TextAlign controls horizontal text alignment within a text part.
type TextAlign uint8

const (
	TextAlignLeft   TextAlign = iota // align text to the left edge (default)
	TextAlignCenter                  // center text horizontally
	TextAlignRight                   // align text to the right edge
)
