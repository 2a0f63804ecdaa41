// Package preview draws flyer scenes with Ebitengine and hosts the
// interactive editor.
package preview

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/rs/zerolog"
	"golang.org/x/image/font/basicfont"

	"github.com/phanxgames/flyer"
)

// Surface submits draw instructions to an Ebitengine image. Decoded images
// are uploaded to the GPU once and cached per resource; the cache entry is
// deallocated when the resource manager releases the handle.
type Surface struct {
	log zerolog.Logger

	mu      sync.Mutex
	images  map[*flyer.ImageResource]*ebiten.Image
	evicted []*flyer.ImageResource

	face  *text.GoXFace
	white *ebiten.Image
	op    ebiten.DrawImageOptions
}

// NewSurface creates a surface whose cache follows rm's releases.
func NewSurface(rm *flyer.ResourceManager, log zerolog.Logger) *Surface {
	s := &Surface{
		log:    log,
		images: make(map[*flyer.ImageResource]*ebiten.Image),
		face:   text.NewGoXFace(basicfont.Face7x13),
	}
	rm.OnRelease(s.evict)
	return s
}

// evict may run on any goroutine; deallocation waits for the next Submit.
func (s *Surface) evict(r *flyer.ImageResource) {
	s.mu.Lock()
	if _, ok := s.images[r]; ok {
		s.evicted = append(s.evicted, r)
	}
	s.mu.Unlock()
}

// Cached returns the number of GPU images held.
func (s *Surface) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Surface) flushEvicted() {
	s.mu.Lock()
	evicted := s.evicted
	s.evicted = nil
	for _, r := range evicted {
		if img, ok := s.images[r]; ok {
			img.Deallocate()
			delete(s.images, r)
		}
	}
	s.mu.Unlock()
	if len(evicted) > 0 {
		s.log.Debug().Int("count", len(evicted)).Msg("evicted gpu images")
	}
}

// Submit draws cmds onto target in order.
func (s *Surface) Submit(target *ebiten.Image, cmds []flyer.DrawInstruction) {
	s.flushEvicted()
	if s.white == nil {
		s.white = ebiten.NewImage(1, 1)
		s.white.Fill(color.White)
	}
	for i := range cmds {
		for j := range cmds[i].Parts {
			s.submitPart(target, &cmds[i].Parts[j])
		}
	}
}

func (s *Surface) submitPart(target *ebiten.Image, p *flyer.DrawPart) {
	b := p.Bounds
	if b.Width <= 0 || b.Height <= 0 {
		return
	}
	switch p.Kind {
	case flyer.PartFill:
		s.fill(target, b, p.Color)
	case flyer.PartImage:
		img := s.upload(p.Image)
		if img == nil {
			s.placeholder(target, b, flyer.ColorPlaceholder)
			return
		}
		s.cover(target, img, b)
	case flyer.PartPlaceholder:
		s.placeholder(target, b, p.Color)
	case flyer.PartText:
		s.text(target, p)
	}
}

func (s *Surface) fill(target *ebiten.Image, b flyer.Rect, c flyer.Color) {
	s.op = ebiten.DrawImageOptions{}
	s.op.GeoM.Scale(b.Width, b.Height)
	s.op.GeoM.Translate(b.X, b.Y)
	s.op.ColorScale.Scale(float32(c.R*c.A), float32(c.G*c.A), float32(c.B*c.A), float32(c.A))
	target.DrawImage(s.white, &s.op)
}

// upload returns the cached GPU image for r, decoding on first use. Nil
// means r cannot be drawn.
func (s *Surface) upload(r *flyer.ImageResource) *ebiten.Image {
	s.mu.Lock()
	img, ok := s.images[r]
	s.mu.Unlock()
	if ok {
		return img
	}
	if !r.Valid() {
		return nil
	}
	src, err := r.Decode()
	if err != nil {
		s.log.Debug().Err(err).Str("uri", r.DisplayURI()).Msg("image undecodable")
		return nil
	}
	img = ebiten.NewImageFromImage(src)
	s.mu.Lock()
	s.images[r] = img
	s.mu.Unlock()
	return img
}

// cover scales the centered crop of img with b's aspect ratio into b.
func (s *Surface) cover(target, img *ebiten.Image, b flyer.Rect) {
	src := img.Bounds()
	sw, sh := float64(src.Dx()), float64(src.Dy())
	if sw == 0 || sh == 0 {
		return
	}
	crop := src
	if sw/sh > b.Width/b.Height {
		cw := int(sh * b.Width / b.Height)
		x0 := src.Min.X + (src.Dx()-cw)/2
		crop.Min.X, crop.Max.X = x0, x0+cw
	} else {
		ch := int(sw * b.Height / b.Width)
		y0 := src.Min.Y + (src.Dy()-ch)/2
		crop.Min.Y, crop.Max.Y = y0, y0+ch
	}
	if crop.Dx() <= 0 || crop.Dy() <= 0 {
		return
	}
	sub := img.SubImage(crop).(*ebiten.Image)
	s.op = ebiten.DrawImageOptions{}
	s.op.GeoM.Scale(b.Width/float64(crop.Dx()), b.Height/float64(crop.Dy()))
	s.op.GeoM.Translate(b.X, b.Y)
	s.op.Filter = ebiten.FilterLinear
	target.DrawImage(sub, &s.op)
}

func (s *Surface) placeholder(target *ebiten.Image, b flyer.Rect, c flyer.Color) {
	s.fill(target, b, c)
	size := min(b.Width, b.Height)
	cx := float32(b.X + b.Width/2)
	glyph := flyer.Color{R: 1, G: 1, B: 1, A: 0.35}.RGBA()
	vector.DrawFilledCircle(target, cx, float32(b.Y+b.Height*2/5), float32(size/6), glyph, true)

	// Shoulders are a disc centered below the card, clipped to it.
	clip := target.SubImage(pixelBounds(b)).(*ebiten.Image)
	vector.DrawFilledCircle(clip, cx, float32(b.Y+b.Height+size/8), float32(size/3), glyph, true)
}

func (s *Surface) text(target *ebiten.Image, p *flyer.DrawPart) {
	if p.Text == "" || p.Size <= 0 {
		return
	}
	m := s.face.Metrics()
	lineH := m.HAscent + m.HDescent
	w, _ := text.Measure(p.Text, s.face, lineH)
	if w <= 0 || lineH <= 0 {
		return
	}
	b := p.Bounds
	scale := p.Size / lineH
	if w*scale > b.Width {
		scale = b.Width / w
	}
	tw := w * scale
	th := lineH * scale

	x := b.X
	switch p.Align {
	case flyer.TextAlignCenter:
		x += (b.Width - tw) / 2
	case flyer.TextAlignRight:
		x = b.X + b.Width - tw
	}
	y := b.Y + (b.Height-th)/2

	op := &text.DrawOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(x, y)
	c := p.Color
	op.ColorScale.Scale(float32(c.R*c.A), float32(c.G*c.A), float32(c.B*c.A), float32(c.A))
	op.Filter = ebiten.FilterLinear
	text.Draw(target, p.Text, s.face, op)
}

func pixelBounds(b flyer.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(b.X)), int(math.Round(b.Y)),
		int(math.Round(b.X+b.Width)), int(math.Round(b.Y+b.Height)),
	)
}

// Dispose deallocates every cached GPU image.
func (s *Surface) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for r, img := range s.images {
		img.Deallocate()
		delete(s.images, r)
	}
	s.evicted = nil
	if s.white != nil {
		s.white.Deallocate()
		s.white = nil
	}
}
