package flyer

import (
	"fmt"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Glide eases a block from its current normalized position to a target,
// writing each step through the scene's named operations. Create one with
// GlideMarker or GlideSpotlight and call Update(dt) each frame.
//
// There is no global animation manager; callers drive Update themselves.
type Glide struct {
	tweens [2]*gween.Tween
	to     [2]float64 // exact targets; the tweens run in float32
	apply  func(a, b float64) error
	Done   bool
}

// Update advances the glide by dt seconds. If the target disappears (the
// marker was removed, or the scene closed) the glide stops and reports why.
func (g *Glide) Update(dt float32) error {
	if g.Done {
		return nil
	}
	a, doneA := g.tweens[0].Update(dt)
	b, doneB := g.tweens[1].Update(dt)
	g.Done = doneA && doneB
	x, y := float64(a), float64(b)
	if g.Done {
		x, y = g.to[0], g.to[1]
	}
	if err := g.apply(x, y); err != nil {
		g.Done = true
		return err
	}
	return nil
}

// GlideMarker glides marker id to (toX, toY) over duration seconds. Each
// step is a Reposition call, so targets outside [0, 100] end clamped.
func GlideMarker(s *Scene, id int, toX, toY float64, duration float32, fn ease.TweenFunc) (*Glide, error) {
	m, ok := s.Marker(id)
	if !ok {
		return nil, fmt.Errorf("glide marker %d: %w", id, ErrMarkerNotFound)
	}
	g := &Glide{
		to:    [2]float64{toX, toY},
		apply: func(x, y float64) error { return s.Reposition(id, x, y) },
	}
	g.tweens[0] = gween.New(float32(m.X), float32(toX), duration, fn)
	g.tweens[1] = gween.New(float32(m.Y), float32(toY), duration, fn)
	return g, nil
}

// GlideSpotlight glides the spotlight center to (top, left).
func GlideSpotlight(s *Scene, top, left float64, duration float32, fn ease.TweenFunc) (*Glide, error) {
	if s.Closed() {
		return nil, fmt.Errorf("glide spotlight: %w", ErrSceneClosed)
	}
	sp := s.Spotlight()
	g := &Glide{
		to:    [2]float64{top, left},
		apply: func(t, l float64) error { return s.MoveSpotlight(t, l) },
	}
	g.tweens[0] = gween.New(float32(sp.Top), float32(top), duration, fn)
	g.tweens[1] = gween.New(float32(sp.Left), float32(left), duration, fn)
	return g, nil
}

// DefaultEase is the easing used by the editor's keyboard nudges.
var DefaultEase ease.TweenFunc = ease.OutCubic
