package flyer

import (
	"errors"
	"fmt"
)

// Default template values used by NewScene.
const (
	DefaultTitle          = "MATCHDAY"
	DefaultSubtitle       = "Starting Lineup"
	DefaultSpotlightName  = "Player of the Match"
	DefaultSpotlightTop   = 72
	DefaultSpotlightLeft  = 78
	DefaultFooterText     = "made with flyer"
	DefaultMarkerPosition = 50
)

// Scene field names used for resource ownership.
const (
	fieldBackground    = "background"
	fieldHeaderLogo    = "header.logo"
	fieldSpotlightImg  = "spotlight.image"
	fieldSpotlightClub = "spotlight.clubLogo"
)

func markerField(id int) string {
	return fmt.Sprintf("marker:%d", id)
}

var (
	// ErrMarkerNotFound is returned by marker operations that reference an
	// id absent from the scene. The scene is left unchanged.
	ErrMarkerNotFound = errors.New("flyer: marker not found")
	// ErrSceneClosed is returned by mutations on a closed scene.
	ErrSceneClosed = errors.New("flyer: scene is closed")
)

// HeaderConfig is the title block at the top of the canvas.
type HeaderConfig struct {
	Title    string
	Subtitle string
	Logo     *ImageResource
}

// SpotlightConfig is the featured block. Top and Left are percentages of the
// canvas height and width locating the block's center.
type SpotlightConfig struct {
	Name     string
	Stat     string
	Image    *ImageResource
	ClubLogo *ImageResource
	Top      float64
	Left     float64
}

// FooterConfig is the watermark band drawn above everything else.
type FooterConfig struct {
	Text   string
	Hidden bool
}

// HeaderPatch is a partial header update. Nil fields are left untouched.
type HeaderPatch struct {
	Title     *string
	Subtitle  *string
	Logo      *ImageResource
	ClearLogo bool
}

// SpotlightPatch is a partial spotlight update. Nil fields are left untouched.
type SpotlightPatch struct {
	Name          *string
	Stat          *string
	Image         *ImageResource
	ClubLogo      *ImageResource
	ClearImage    bool
	ClearClubLogo bool
	Top           *float64
	Left          *float64
}

// FooterPatch is a partial footer update.
type FooterPatch struct {
	Text   *string
	Hidden *bool
}

// Ptr returns a pointer to v. Convenient for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Scene is the complete editable state of one template composition.
//
// A Scene is owned by a single editor session and is not safe for concurrent
// use. It is mutated only through its named operations; every operation that
// supersedes an ImageResource releases the old handle.
type Scene struct {
	background *ImageResource
	header     HeaderConfig
	spotlight  SpotlightConfig
	footer     FooterConfig

	markers []*EntityMarker
	index   map[int]int // marker id -> position in markers
	nextID  int

	revision uint64
	closed   bool
}

// NewScene creates a scene populated with the default template: header,
// spotlight and footer text, no images and no markers.
func NewScene() *Scene {
	return &Scene{
		header: HeaderConfig{
			Title:    DefaultTitle,
			Subtitle: DefaultSubtitle,
		},
		spotlight: SpotlightConfig{
			Name: DefaultSpotlightName,
			Top:  DefaultSpotlightTop,
			Left: DefaultSpotlightLeft,
		},
		footer: FooterConfig{Text: DefaultFooterText},
		index:  make(map[int]int),
		nextID: 1,
	}
}

// Background returns the background image, or nil.
func (s *Scene) Background() *ImageResource { return s.background }

// Header returns the header configuration.
func (s *Scene) Header() HeaderConfig { return s.header }

// Spotlight returns the spotlight configuration.
func (s *Scene) Spotlight() SpotlightConfig { return s.spotlight }

// Footer returns the footer configuration.
func (s *Scene) Footer() FooterConfig { return s.footer }

// Revision returns a counter incremented by every successful mutation.
// Surfaces compare it to skip redundant re-renders.
func (s *Scene) Revision() uint64 { return s.revision }

// NextID returns the id the next AddMarker call will mint.
func (s *Scene) NextID() int { return s.nextID }

// Closed reports whether Close has been called.
func (s *Scene) Closed() bool { return s.closed }

// SetBackground replaces the background image, releasing the previous one.
// A nil res clears the background.
func (s *Scene) SetBackground(res *ImageResource) error {
	if s.closed {
		return ErrSceneClosed
	}
	if err := replaceResource(&s.background, res, fieldBackground); err != nil {
		return fmt.Errorf("set background: %w", err)
	}
	s.revision++
	return nil
}

// SetHeader merges p into the header.
func (s *Scene) SetHeader(p HeaderPatch) error {
	if s.closed {
		return ErrSceneClosed
	}
	h := s.header
	switch {
	case p.Logo != nil:
		if err := replaceResource(&h.Logo, p.Logo, fieldHeaderLogo); err != nil {
			return fmt.Errorf("set header: %w", err)
		}
	case p.ClearLogo:
		_ = replaceResource(&h.Logo, nil, fieldHeaderLogo)
	}
	if p.Title != nil {
		h.Title = *p.Title
	}
	if p.Subtitle != nil {
		h.Subtitle = *p.Subtitle
	}
	s.header = h
	s.revision++
	return nil
}

// SetSpotlight merges p into the spotlight. Top and Left are clamped.
func (s *Scene) SetSpotlight(p SpotlightPatch) error {
	if s.closed {
		return ErrSceneClosed
	}
	sp := s.spotlight
	// Claim both new handles before releasing anything so a failed claim
	// leaves the spotlight untouched.
	if err := claim(p.Image, fieldSpotlightImg); err != nil {
		return fmt.Errorf("set spotlight image: %w", err)
	}
	if err := claim(p.ClubLogo, fieldSpotlightClub); err != nil {
		if p.Image != nil && p.Image != sp.Image {
			unclaim(p.Image)
		}
		return fmt.Errorf("set spotlight club logo: %w", err)
	}
	switch {
	case p.Image != nil:
		_ = replaceResource(&sp.Image, p.Image, fieldSpotlightImg)
	case p.ClearImage:
		_ = replaceResource(&sp.Image, nil, fieldSpotlightImg)
	}
	switch {
	case p.ClubLogo != nil:
		_ = replaceResource(&sp.ClubLogo, p.ClubLogo, fieldSpotlightClub)
	case p.ClearClubLogo:
		_ = replaceResource(&sp.ClubLogo, nil, fieldSpotlightClub)
	}
	if p.Name != nil {
		sp.Name = *p.Name
	}
	if p.Stat != nil {
		sp.Stat = *p.Stat
	}
	if p.Top != nil {
		sp.Top = Clamp(*p.Top)
	}
	if p.Left != nil {
		sp.Left = Clamp(*p.Left)
	}
	s.spotlight = sp
	s.revision++
	return nil
}

// MoveSpotlight sets the spotlight center. Values are clamped.
func (s *Scene) MoveSpotlight(top, left float64) error {
	return s.SetSpotlight(SpotlightPatch{Top: &top, Left: &left})
}

// SetFooter merges p into the footer.
func (s *Scene) SetFooter(p FooterPatch) error {
	if s.closed {
		return ErrSceneClosed
	}
	if p.Text != nil {
		s.footer.Text = *p.Text
	}
	if p.Hidden != nil {
		s.footer.Hidden = *p.Hidden
	}
	s.revision++
	return nil
}

// Resources returns every image handle reachable from the scene, background
// first, then header, spotlight and markers in collection order.
func (s *Scene) Resources() []*ImageResource {
	var out []*ImageResource
	add := func(r *ImageResource) {
		if r != nil {
			out = append(out, r)
		}
	}
	add(s.background)
	add(s.header.Logo)
	add(s.spotlight.Image)
	add(s.spotlight.ClubLogo)
	for _, m := range s.markers {
		add(m.Image)
	}
	return out
}

// Close releases every resource reachable from the scene. Further mutations
// return ErrSceneClosed. Calling Close more than once is a no-op.
func (s *Scene) Close() {
	if s.closed {
		return
	}
	for _, r := range s.Resources() {
		r.Release()
	}
	s.background = nil
	s.header.Logo = nil
	s.spotlight.Image = nil
	s.spotlight.ClubLogo = nil
	for i, m := range s.markers {
		if m.Image != nil {
			cp := *m
			cp.Image = nil
			s.markers[i] = &cp
		}
	}
	s.closed = true
	s.revision++
}

// replaceResource installs next into *slot on behalf of field and releases
// the previous handle. Assigning the handle already in the slot is a no-op.
func replaceResource(slot **ImageResource, next *ImageResource, field string) error {
	if *slot == next {
		return nil
	}
	if err := claim(next, field); err != nil {
		return err
	}
	if old := *slot; old != nil {
		old.Release()
	}
	*slot = next
	return nil
}

// unclaim drops ownership of a handle claimed by a failed operation.
func unclaim(r *ImageResource) {
	r.mgr.mu.Lock()
	r.owner = ""
	r.mgr.mu.Unlock()
}
