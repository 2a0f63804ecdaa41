package preview

import (
	"errors"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/rs/zerolog"

	"github.com/phanxgames/flyer"
)

const (
	nudgeStep     = 5.0  // normalized units per arrow press
	nudgeDuration = 0.25 // seconds
)

// EditorConfig configures an Editor. Every callback is optional.
type EditorConfig struct {
	Viewport flyer.Viewport
	Renderer *flyer.Renderer
	Log      zerolog.Logger

	// NewMarker supplies the marker added by the N key.
	NewMarker func() flyer.MarkerInit
	// Save is called by the S key.
	Save func(*flyer.Scene) error
	// Export is called by the E key with the current instructions.
	Export func([]flyer.DrawInstruction) error
}

// Editor is an ebiten.Game that previews a session's scene and edits it
// with the pointer and keyboard:
//
//	drag      move a marker or the spotlight
//	arrows    glide the selection
//	N         add a marker
//	Delete    remove the selected marker
//	S / E     save / export
type Editor struct {
	session *flyer.Session
	cfg     EditorConfig
	surface *Surface
	pointer *flyer.PointerController

	scene    *flyer.Scene
	revision uint64
	cmds     []flyer.DrawInstruction
	glides   []*flyer.Glide
	dirty    bool
}

// NewEditor returns an editor over session.
func NewEditor(session *flyer.Session, cfg EditorConfig) *Editor {
	if cfg.Viewport.Empty() {
		cfg.Viewport = flyer.DefaultViewport
	}
	if cfg.Renderer == nil {
		cfg.Renderer = flyer.NewRenderer(flyer.WithRendererLogger(cfg.Log))
	}
	e := &Editor{
		session: session,
		cfg:     cfg,
		surface: NewSurface(session.Resources(), cfg.Log),
		dirty:   true,
	}
	e.bind()
	return e
}

// Run opens a window sized to the viewport and blocks until it closes.
func (e *Editor) Run(title string) error {
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(int(e.cfg.Viewport.Width), int(e.cfg.Viewport.Height))
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	err := ebiten.RunGame(e)
	e.surface.Dispose()
	return err
}

// bind attaches the pointer controller to the session's current scene.
func (e *Editor) bind() {
	e.scene = e.session.Scene()
	e.glides = e.glides[:0]
	e.dirty = true
	if e.pointer == nil {
		e.pointer = flyer.NewPointerController(e.scene, e.cfg.Viewport)
		return
	}
	e.pointer.SetScene(e.scene)
}

// Update implements ebiten.Game.
func (e *Editor) Update() error {
	if e.session.Scene() != e.scene {
		e.bind()
	}

	x, y := ebiten.CursorPosition()
	pressed := ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)
	if err := e.pointer.Pointer(float64(x), float64(y), pressed); err != nil {
		e.cfg.Log.Warn().Err(err).Msg("drag")
	}

	if err := e.keys(); err != nil {
		e.cfg.Log.Error().Err(err).Msg("edit")
	}

	dt := float32(1.0 / float64(ebiten.TPS()))
	live := e.glides[:0]
	for _, g := range e.glides {
		if err := g.Update(dt); err != nil && !errors.Is(err, flyer.ErrMarkerNotFound) {
			e.cfg.Log.Warn().Err(err).Msg("glide")
		}
		if !g.Done {
			live = append(live, g)
		}
	}
	e.glides = live
	return nil
}

func (e *Editor) keys() error {
	sel := e.pointer.Selected()
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyN):
		mi := flyer.MarkerInit{}
		if e.cfg.NewMarker != nil {
			mi = e.cfg.NewMarker()
		}
		id, err := e.scene.AddMarker(mi)
		if err != nil {
			mi.Image.Release()
			return err
		}
		e.pointer.Select(flyer.Target{Kind: flyer.TargetMarker, MarkerID: id})
	case inpututil.IsKeyJustPressed(ebiten.KeyDelete), inpututil.IsKeyJustPressed(ebiten.KeyBackspace):
		if sel.Kind != flyer.TargetMarker {
			return nil
		}
		e.pointer.Select(flyer.Target{})
		return e.scene.RemoveMarker(sel.MarkerID)
	case inpututil.IsKeyJustPressed(ebiten.KeyS):
		if e.cfg.Save != nil {
			return e.cfg.Save(e.scene)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyE):
		if e.cfg.Export != nil {
			return e.cfg.Export(e.cfg.Renderer.Render(e.scene, e.cfg.Viewport))
		}
	default:
		dx, dy := arrowDelta()
		if dx != 0 || dy != 0 {
			return e.nudge(sel, dx, dy)
		}
	}
	return nil
}

func arrowDelta() (dx, dy float64) {
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft) {
		dx -= nudgeStep
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowRight) {
		dx += nudgeStep
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) {
		dy -= nudgeStep
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) {
		dy += nudgeStep
	}
	return dx, dy
}

func (e *Editor) nudge(t flyer.Target, dx, dy float64) error {
	var (
		g   *flyer.Glide
		err error
	)
	switch t.Kind {
	case flyer.TargetMarker:
		m, ok := e.scene.Marker(t.MarkerID)
		if !ok {
			return nil
		}
		g, err = flyer.GlideMarker(e.scene, t.MarkerID, m.X+dx, m.Y+dy, nudgeDuration, flyer.DefaultEase)
	case flyer.TargetSpotlight:
		sp := e.scene.Spotlight()
		g, err = flyer.GlideSpotlight(e.scene, sp.Top+dy, sp.Left+dx, nudgeDuration, flyer.DefaultEase)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	e.glides = append(e.glides, g)
	return nil
}

// Draw implements ebiten.Game. Instructions are rebuilt only when the
// scene's revision changes.
func (e *Editor) Draw(screen *ebiten.Image) {
	if e.dirty || e.scene.Revision() != e.revision {
		e.cmds = e.cfg.Renderer.Render(e.scene, e.cfg.Viewport)
		e.revision = e.scene.Revision()
		e.dirty = false
	}
	e.surface.Submit(screen, e.cmds)
}

// Layout implements ebiten.Game. The logical screen is always the viewport,
// so cursor positions map directly to canvas pixels.
func (e *Editor) Layout(outsideWidth, outsideHeight int) (int, int) {
	return int(e.cfg.Viewport.Width), int(e.cfg.Viewport.Height)
}
