package flyer

// CanvasAspect is the only supported canvas ratio, width:height = 4:5,
// matching the social-media export target.
const CanvasAspect = 4.0 / 5.0

// Viewport is a canvas size in pixels.
type Viewport struct {
	Width, Height float64
}

// DefaultViewport is the canonical export size.
var DefaultViewport = Viewport{Width: 1080, Height: 1350}

// NewViewport returns the 4:5 viewport with the given width.
func NewViewport(width float64) Viewport {
	return Viewport{Width: width, Height: width / CanvasAspect}
}

// FitViewport returns the largest 4:5 viewport that fits inside maxW x maxH.
func FitViewport(maxW, maxH float64) Viewport {
	if maxW <= 0 || maxH <= 0 {
		return Viewport{}
	}
	if maxW/maxH > CanvasAspect {
		return Viewport{Width: maxH * CanvasAspect, Height: maxH}
	}
	return NewViewport(maxW)
}

// Empty reports whether the viewport has no drawable area.
func (vp Viewport) Empty() bool {
	return vp.Width <= 0 || vp.Height <= 0
}

// Project maps a normalized coordinate (percent of width, percent of height)
// to pixels: pixel = normalized/100 * size.
func Project(v Vec2, vp Viewport) Vec2 {
	return Vec2{
		X: v.X / MaxCoord * vp.Width,
		Y: v.Y / MaxCoord * vp.Height,
	}
}

// Unproject maps a pixel point back to a clamped normalized coordinate.
// Used to turn pointer positions into Reposition arguments.
func Unproject(p Vec2, vp Viewport) Vec2 {
	if vp.Empty() {
		return Vec2{}
	}
	return Vec2{
		X: Clamp(p.X / vp.Width * MaxCoord),
		Y: Clamp(p.Y / vp.Height * MaxCoord),
	}
}

// Layer identifies a compositing layer.
type Layer uint8

// Canonical z-order, back to front. Markers always occlude the background;
// the spotlight and footer always occlude markers.
const (
	LayerBackground Layer = iota
	LayerHeader
	LayerMarkers
	LayerSpotlight
	LayerFooter
)

var zOrder = [...]Layer{LayerBackground, LayerHeader, LayerMarkers, LayerSpotlight, LayerFooter}

// ZOrder returns the layers back to front.
func ZOrder() []Layer {
	out := make([]Layer, len(zOrder))
	copy(out, zOrder[:])
	return out
}

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerHeader:
		return "header"
	case LayerMarkers:
		return "marker"
	case LayerSpotlight:
		return "spotlight"
	case LayerFooter:
		return "footer"
	default:
		return "unknown"
	}
}

// Block geometry, as fractions of the viewport. Sub-elements sit at fixed
// offsets from their owning block and are never positioned on their own.
const (
	headerHeightFrac = 0.16 // of height
	footerHeightFrac = 0.05 // of height

	markerWidthFrac  = 0.16 // of width
	markerHeightFrac = 0.20 // of width; cards are portrait
	badgeSizeFrac    = 0.055
	plateWidthFrac   = 0.22
	plateHeightFrac  = 0.045

	spotlightWidthFrac  = 0.36
	spotlightHeightFrac = 0.44
	clubLogoFrac        = 0.09
)

// HeaderBounds returns the header band.
func HeaderBounds(vp Viewport) Rect {
	return Rect{0, 0, vp.Width, vp.Height * headerHeightFrac}
}

// HeaderLogoBounds returns the logo square at the left of the header band.
func HeaderLogoBounds(vp Viewport) Rect {
	band := HeaderBounds(vp)
	pad := band.Height * 0.15
	size := band.Height - 2*pad
	return Rect{pad, pad, size, size}
}

// FooterBounds returns the footer/watermark band.
func FooterBounds(vp Viewport) Rect {
	h := vp.Height * footerHeightFrac
	return Rect{0, vp.Height - h, vp.Width, h}
}

// MarkerBounds returns the card of a marker whose normalized position is pos.
// The card is centered on the projected point.
func MarkerBounds(pos Vec2, vp Viewport) Rect {
	c := Project(pos, vp)
	w := vp.Width * markerWidthFrac
	h := vp.Width * markerHeightFrac
	return Rect{c.X - w/2, c.Y - h/2, w, h}
}

// BadgeBounds returns the stat badge anchored to the bottom-right corner of
// a marker card. The badge overhangs the corner by a quarter of its size.
func BadgeBounds(card Rect, vp Viewport) Rect {
	s := vp.Width * badgeSizeFrac
	return Rect{card.X + card.Width - s*0.75, card.Y + card.Height - s*0.75, s, s}
}

// PlateBounds returns the name/role plate anchored to the bottom-center of a
// marker card.
func PlateBounds(card Rect, vp Viewport) Rect {
	w := vp.Width * plateWidthFrac
	h := vp.Width * plateHeightFrac
	return Rect{card.X + (card.Width-w)/2, card.Y + card.Height - h/2, w, h}
}

// SpotlightBounds returns the spotlight block. top and left are normalized
// and locate the block's center.
func SpotlightBounds(top, left float64, vp Viewport) Rect {
	c := Project(Vec2{left, top}, vp)
	w := vp.Width * spotlightWidthFrac
	h := vp.Width * spotlightHeightFrac
	return Rect{c.X - w/2, c.Y - h/2, w, h}
}

// ClubLogoBounds returns the club logo at the top-right of the spotlight.
func ClubLogoBounds(spot Rect, vp Viewport) Rect {
	s := vp.Width * clubLogoFrac
	return Rect{spot.X + spot.Width - s*0.8, spot.Y - s*0.2, s, s}
}
