package flyer

import "math"

const defaultDragDeadZone = 4.0 // pixels

// TargetKind identifies what a pointer interaction grabbed.
type TargetKind uint8

const (
	TargetNone      TargetKind = iota // empty canvas, header or footer
	TargetMarker                      // an entity marker card
	TargetSpotlight                   // the spotlight block
)

// Target is the block under a pointer.
type Target struct {
	Kind     TargetKind
	MarkerID int // TargetMarker only
}

// HitTest returns the front-most movable block at pixel (x, y). The
// spotlight occludes markers, so it is tested first; among markers, later
// ones draw on top and win.
func HitTest(s *Scene, x, y float64, vp Viewport) Target {
	sp := s.spotlight
	if SpotlightBounds(sp.Top, sp.Left, vp).Contains(x, y) {
		return Target{Kind: TargetSpotlight}
	}
	if id, ok := s.MarkerAt(x, y, vp); ok {
		return Target{Kind: TargetMarker, MarkerID: id}
	}
	return Target{}
}

// PointerController turns raw pointer samples into scene edits: press on a
// block, move past the dead zone, and every further sample repositions the
// block. A press and release without a drag is a click, which selects.
//
// Feed it one sample per frame from whatever input source the surface has.
type PointerController struct {
	// DeadZone is the movement in pixels before a press becomes a drag.
	DeadZone float64
	// OnClick, if set, is called for presses released without dragging.
	OnClick func(Target)

	scene *Scene
	vp    Viewport

	down         bool
	dragging     bool
	startX       float64
	startY       float64
	lastX, lastY float64
	grabDX       float64 // pointer minus block center at press, pixels
	grabDY       float64
	target       Target
	selected     Target
}

// NewPointerController binds a controller to a scene and viewport.
func NewPointerController(s *Scene, vp Viewport) *PointerController {
	return &PointerController{DeadZone: defaultDragDeadZone, scene: s, vp: vp}
}

// SetScene rebinds the controller, e.g. after a session loads a new scene.
// Any interaction in progress is dropped.
func (c *PointerController) SetScene(s *Scene) {
	c.scene = s
	c.down = false
	c.dragging = false
	c.selected = Target{}
}

// SetViewport updates the viewport used to map pixels to coordinates.
func (c *PointerController) SetViewport(vp Viewport) { c.vp = vp }

// Selected returns the most recently clicked or dragged block.
func (c *PointerController) Selected() Target { return c.selected }

// Select sets the selection directly.
func (c *PointerController) Select(t Target) { c.selected = t }

// Dragging reports whether a drag is in progress.
func (c *PointerController) Dragging() bool { return c.dragging }

// Pointer processes one sample at pixel (x, y).
func (c *PointerController) Pointer(x, y float64, pressed bool) error {
	switch {
	case pressed && !c.down:
		c.down = true
		c.dragging = false
		c.startX, c.startY = x, y
		c.lastX, c.lastY = x, y
		c.target = HitTest(c.scene, x, y, c.vp)
		center := c.blockCenter(c.target)
		c.grabDX, c.grabDY = x-center.X, y-center.Y
	case !pressed && c.down:
		if !c.dragging && c.OnClick != nil {
			c.OnClick(c.target)
		}
		if c.target.Kind != TargetNone {
			c.selected = c.target
		}
		c.down = false
		c.dragging = false
		c.target = Target{}
	case pressed && c.down:
		if x == c.lastX && y == c.lastY {
			return nil
		}
		c.lastX, c.lastY = x, y
		if !c.dragging {
			dx := x - c.startX
			dy := y - c.startY
			if math.Sqrt(dx*dx+dy*dy) <= c.DeadZone {
				return nil
			}
			c.dragging = true
		}
		return c.moveTarget(x, y)
	}
	return nil
}

func (c *PointerController) moveTarget(x, y float64) error {
	p := Unproject(Vec2{x - c.grabDX, y - c.grabDY}, c.vp)
	switch c.target.Kind {
	case TargetMarker:
		return c.scene.Reposition(c.target.MarkerID, p.X, p.Y)
	case TargetSpotlight:
		return c.scene.MoveSpotlight(p.Y, p.X)
	}
	return nil
}

// blockCenter returns the projected center of t.
func (c *PointerController) blockCenter(t Target) Vec2 {
	switch t.Kind {
	case TargetMarker:
		if m, ok := c.scene.Marker(t.MarkerID); ok {
			return Project(Vec2{m.X, m.Y}, c.vp)
		}
	case TargetSpotlight:
		sp := c.scene.Spotlight()
		return Project(Vec2{sp.Left, sp.Top}, c.vp)
	}
	return Vec2{c.startX, c.startY}
}
