package flyer

import (
	"time"

	"github.com/rs/zerolog"
)

// PartKind identifies the kind of a draw part.
type PartKind uint8

const (
	PartFill        PartKind = iota // solid rectangle
	PartImage                       // uploaded image scaled into Bounds
	PartPlaceholder                 // glyph drawn where an image is missing or undecodable
	PartText                        // single line of text
)

// String returns the part kind name.
func (k PartKind) String() string {
	switch k {
	case PartFill:
		return "fill"
	case PartImage:
		return "image"
	case PartPlaceholder:
		return "placeholder"
	case PartText:
		return "text"
	default:
		return "unknown"
	}
}

// DrawPart is one primitive inside a DrawInstruction, in pixel space.
type DrawPart struct {
	Kind   PartKind
	Slot   string // sub-element name, e.g. "photo", "badge", "plate"
	Bounds Rect
	Color  Color

	Image *ImageResource // PartImage only

	Text  string // PartText only
	Size  float64
	Align TextAlign
}

// DrawInstruction is the output for one visual layer block. Parts are drawn
// in order.
type DrawInstruction struct {
	Layer    Layer
	MarkerID int // LayerMarkers only
	Bounds   Rect
	Parts    []DrawPart

	order int // emission order, for stable sort
}

const defaultInstructionCap = 32

// Renderer composes scenes into draw instructions. It keeps its buffers
// between calls so per-frame rendering does not allocate once warm.
//
// The slice returned by Render, including each instruction's Parts, is only
// valid until the next call on the same Renderer. Use the package-level
// Render for an independent result.
type Renderer struct {
	commands []DrawInstruction
	sortBuf  []DrawInstruction
	arena    []DrawPart

	debug bool
	log   zerolog.Logger
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithRendererLogger sets the logger used for debug stats.
func WithRendererLogger(log zerolog.Logger) RendererOption {
	return func(r *Renderer) { r.log = log }
}

// WithRendererDebug enables per-call timing stats.
func WithRendererDebug(enabled bool) RendererOption {
	return func(r *Renderer) { r.debug = enabled }
}

// NewRenderer creates a renderer with preallocated buffers.
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{
		commands: make([]DrawInstruction, 0, defaultInstructionCap),
		sortBuf:  make([]DrawInstruction, 0, defaultInstructionCap),
		arena:    make([]DrawPart, 0, defaultInstructionCap*4),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns a freshly allocated instruction list for s at vp.
func Render(s *Scene, vp Viewport) []DrawInstruction {
	return NewRenderer().Render(s, vp)
}

// Render composes s at vp into one instruction per visual layer block,
// ordered back to front by the canonical z-order. Markers keep collection
// order within their layer. Render never mutates s.
func (r *Renderer) Render(s *Scene, vp Viewport) []DrawInstruction {
	r.commands = r.commands[:0]
	r.arena = r.arena[:0]

	var stats debugStats
	var t0 time.Time
	if r.debug {
		t0 = time.Now()
	}

	// Emission follows scene field order; the sort below establishes the
	// z-order, so stacking never depends on how blocks are emitted.
	r.emitBackground(s, vp)
	r.emitHeader(s, vp)
	r.emitSpotlight(s, vp)
	r.emitFooter(s, vp)
	for _, m := range s.markers {
		r.emitMarker(m, vp)
	}

	if r.debug {
		stats.emitTime = time.Since(t0)
		t0 = time.Now()
	}

	r.mergeSort()

	if r.debug {
		stats.sortTime = time.Since(t0)
		stats.instructionCount = len(r.commands)
		stats.partCount = len(r.arena)
		stats.markerCount = len(s.markers)
		r.debugLog(stats)
	}
	return r.commands
}

func (r *Renderer) push(layer Layer, markerID int, bounds Rect, start int) {
	r.commands = append(r.commands, DrawInstruction{
		Layer:    layer,
		MarkerID: markerID,
		Bounds:   bounds,
		Parts:    r.arena[start:len(r.arena):len(r.arena)],
		order:    len(r.commands),
	})
}

func (r *Renderer) part(p DrawPart) {
	r.arena = append(r.arena, p)
}

// imagePart emits res scaled into b, or a placeholder glyph when res is
// absent, released or undecodable.
func (r *Renderer) imagePart(slot string, res *ImageResource, b Rect) {
	if res.Drawable() {
		r.part(DrawPart{Kind: PartImage, Slot: slot, Bounds: b, Image: res, Color: ColorWhite})
		return
	}
	r.part(DrawPart{Kind: PartPlaceholder, Slot: slot, Bounds: b, Color: ColorPlaceholder})
}

func (r *Renderer) emitBackground(s *Scene, vp Viewport) {
	start := len(r.arena)
	full := Rect{0, 0, vp.Width, vp.Height}
	r.part(DrawPart{Kind: PartFill, Slot: "canvas", Bounds: full, Color: ColorCanvas})
	if s.background.Drawable() {
		r.part(DrawPart{Kind: PartImage, Slot: "background", Bounds: full, Image: s.background, Color: ColorWhite})
	} else {
		r.part(DrawPart{Kind: PartPlaceholder, Slot: "background", Bounds: full, Color: ColorCanvas})
	}
	r.push(LayerBackground, 0, full, start)
}

func (r *Renderer) emitHeader(s *Scene, vp Viewport) {
	start := len(r.arena)
	band := HeaderBounds(vp)
	textX := band.X
	if s.header.Logo != nil {
		logo := HeaderLogoBounds(vp)
		r.imagePart("logo", s.header.Logo, logo)
		textX = logo.X + logo.Width + logo.X
	}
	titleH := band.Height * 0.45
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "title",
		Bounds: Rect{textX, band.Y + band.Height*0.12, band.Width - textX, titleH},
		Color:  ColorWhite,
		Text:   s.header.Title,
		Size:   titleH,
		Align:  headerAlign(s.header.Logo),
	})
	subH := band.Height * 0.22
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "subtitle",
		Bounds: Rect{textX, band.Y + band.Height*0.62, band.Width - textX, subH},
		Color:  ColorAccent,
		Text:   s.header.Subtitle,
		Size:   subH,
		Align:  headerAlign(s.header.Logo),
	})
	r.push(LayerHeader, 0, band, start)
}

func headerAlign(logo *ImageResource) TextAlign {
	if logo != nil {
		return TextAlignLeft
	}
	return TextAlignCenter
}

func (r *Renderer) emitMarker(m *EntityMarker, vp Viewport) {
	start := len(r.arena)
	card := MarkerBounds(Vec2{m.X, m.Y}, vp)
	r.imagePart("photo", m.Image, card)

	plate := PlateBounds(card, vp)
	r.part(DrawPart{Kind: PartFill, Slot: "plate", Bounds: plate, Color: ColorPlate})
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "name",
		Bounds: Rect{plate.X, plate.Y, plate.Width, plate.Height * 0.6},
		Color:  ColorWhite,
		Text:   m.Name,
		Size:   plate.Height * 0.5,
		Align:  TextAlignCenter,
	})
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "role",
		Bounds: Rect{plate.X, plate.Y + plate.Height*0.6, plate.Width, plate.Height * 0.4},
		Color:  ColorAccent,
		Text:   m.Role,
		Size:   plate.Height * 0.35,
		Align:  TextAlignCenter,
	})

	badge := BadgeBounds(card, vp)
	r.part(DrawPart{Kind: PartFill, Slot: "badge", Bounds: badge, Color: ColorAccent})
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "stat",
		Bounds: badge,
		Color:  ColorBlack,
		Text:   m.Stat,
		Size:   badge.Height * 0.55,
		Align:  TextAlignCenter,
	})

	r.push(LayerMarkers, m.ID, unionRect(card, unionRect(plate, badge)), start)
}

func (r *Renderer) emitSpotlight(s *Scene, vp Viewport) {
	start := len(r.arena)
	sp := s.spotlight
	box := SpotlightBounds(sp.Top, sp.Left, vp)
	r.part(DrawPart{Kind: PartFill, Slot: "panel", Bounds: box, Color: ColorPlate})

	photo := Rect{box.X, box.Y, box.Width, box.Height * 0.74}
	r.imagePart("photo", sp.Image, photo)
	if sp.ClubLogo != nil {
		r.imagePart("clubLogo", sp.ClubLogo, ClubLogoBounds(box, vp))
	}

	nameH := box.Height * 0.11
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "name",
		Bounds: Rect{box.X, photo.Y + photo.Height + box.Height*0.02, box.Width, nameH},
		Color:  ColorWhite,
		Text:   sp.Name,
		Size:   nameH,
		Align:  TextAlignCenter,
	})
	statH := box.Height * 0.09
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "stat",
		Bounds: Rect{box.X, box.Y + box.Height - statH - box.Height*0.02, box.Width, statH},
		Color:  ColorAccent,
		Text:   sp.Stat,
		Size:   statH,
		Align:  TextAlignCenter,
	})
	r.push(LayerSpotlight, 0, box, start)
}

func (r *Renderer) emitFooter(s *Scene, vp Viewport) {
	if s.footer.Hidden {
		return
	}
	start := len(r.arena)
	band := FooterBounds(vp)
	r.part(DrawPart{Kind: PartFill, Slot: "band", Bounds: band, Color: ColorPlate})
	r.part(DrawPart{
		Kind:   PartText,
		Slot:   "watermark",
		Bounds: band,
		Color:  ColorWhite,
		Text:   s.footer.Text,
		Size:   band.Height * 0.5,
		Align:  TextAlignRight,
	})
	r.push(LayerFooter, 0, band, start)
}

func unionRect(a, b Rect) Rect {
	x0 := min(a.X, b.X)
	y0 := min(a.Y, b.Y)
	x1 := max(a.X+a.Width, b.X+b.Width)
	y1 := max(a.Y+a.Height, b.Y+b.Height)
	return Rect{x0, y0, x1 - x0, y1 - y0}
}

// --- Merge sort ---

// instructionLessOrEqual returns true if a should sort before or at the same
// position as b. Using <= for order keeps the sort stable.
func instructionLessOrEqual(a, b DrawInstruction) bool {
	if a.Layer != b.Layer {
		return a.Layer < b.Layer
	}
	return a.order <= b.order
}

// mergeSort sorts r.commands in place using r.sortBuf as scratch space.
// Bottom-up merge sort: zero allocations after the sort buffer reaches its
// high-water mark.
func (r *Renderer) mergeSort() {
	n := len(r.commands)
	if n <= 1 {
		return
	}
	if cap(r.sortBuf) < n {
		r.sortBuf = make([]DrawInstruction, n)
	}
	r.sortBuf = r.sortBuf[:n]

	a := r.commands
	b := r.sortBuf
	swapped := false

	for width := 1; width < n; width *= 2 {
		for i := 0; i < n; i += 2 * width {
			lo := i
			mid := min(lo+width, n)
			hi := min(lo+2*width, n)
			mergeRun(a, b, lo, mid, hi)
		}
		a, b = b, a
		swapped = !swapped
	}

	if swapped {
		copy(r.commands, r.sortBuf)
	}
}

// mergeRun merges two sorted runs [lo, mid) and [mid, hi) from src into dst.
func mergeRun(src, dst []DrawInstruction, lo, mid, hi int) {
	i, j, k := lo, mid, lo
	for i < mid && j < hi {
		if instructionLessOrEqual(src[i], src[j]) {
			dst[k] = src[i]
			i++
		} else {
			dst[k] = src[j]
			j++
		}
		k++
	}
	for i < mid {
		dst[k] = src[i]
		i++
		k++
	}
	for j < hi {
		dst[k] = src[j]
		j++
		k++
	}
}
