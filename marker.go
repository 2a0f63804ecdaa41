package flyer

import "fmt"

// EntityMarker is a positioned, labeled element (e.g. a player) with an
// optional photo. X and Y are percentages of the canvas width and height.
type EntityMarker struct {
	ID    int
	Role  string // free-form label, e.g. a position code
	Name  string
	Stat  string
	Image *ImageResource
	X, Y  float64
}

// MarkerInit describes a marker to add. Nil X or Y default to the canvas
// center.
type MarkerInit struct {
	Role  string
	Name  string
	Stat  string
	Image *ImageResource
	X, Y  *float64
}

// MarkerPatch is a partial marker update. Nil fields are left untouched.
type MarkerPatch struct {
	Role       *string
	Name       *string
	Stat       *string
	Image      *ImageResource
	ClearImage bool
	X, Y       *float64
}

// Len returns the number of markers.
func (s *Scene) Len() int { return len(s.markers) }

// Markers returns a copy of the markers in collection order.
func (s *Scene) Markers() []EntityMarker {
	out := make([]EntityMarker, len(s.markers))
	for i, m := range s.markers {
		out[i] = *m
	}
	return out
}

// Marker returns the marker with the given id.
func (s *Scene) Marker(id int) (EntityMarker, bool) {
	i, ok := s.index[id]
	if !ok {
		return EntityMarker{}, false
	}
	return *s.markers[i], true
}

// AddMarker appends a marker with a freshly minted id and returns the id.
// The position is clamped.
func (s *Scene) AddMarker(init MarkerInit) (int, error) {
	if s.closed {
		return 0, ErrSceneClosed
	}
	id := s.nextID
	if err := claim(init.Image, markerField(id)); err != nil {
		return 0, fmt.Errorf("add marker: %w", err)
	}
	x, y := float64(DefaultMarkerPosition), float64(DefaultMarkerPosition)
	if init.X != nil {
		x = *init.X
	}
	if init.Y != nil {
		y = *init.Y
	}
	s.nextID++
	s.index[id] = len(s.markers)
	s.markers = append(s.markers, &EntityMarker{
		ID:    id,
		Role:  init.Role,
		Name:  init.Name,
		Stat:  init.Stat,
		Image: init.Image,
		X:     Clamp(x),
		Y:     Clamp(y),
	})
	s.revision++
	return id, nil
}

// UpdateMarker merges p into the marker with the given id. Position fields
// are clamped. Returns ErrMarkerNotFound, leaving the scene unchanged, when
// id is absent.
func (s *Scene) UpdateMarker(id int, p MarkerPatch) error {
	if s.closed {
		return ErrSceneClosed
	}
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("update marker %d: %w", id, ErrMarkerNotFound)
	}
	m := *s.markers[i]
	switch {
	case p.Image != nil:
		if err := replaceResource(&m.Image, p.Image, markerField(id)); err != nil {
			return fmt.Errorf("update marker %d: %w", id, err)
		}
	case p.ClearImage:
		_ = replaceResource(&m.Image, nil, markerField(id))
	}
	if p.Role != nil {
		m.Role = *p.Role
	}
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Stat != nil {
		m.Stat = *p.Stat
	}
	if p.X != nil {
		m.X = Clamp(*p.X)
	}
	if p.Y != nil {
		m.Y = Clamp(*p.Y)
	}
	s.markers[i] = &m
	s.revision++
	return nil
}

// Reposition moves a marker. It runs on every pointer move or slider tick:
// a single map lookup and one value copy, independent of marker count.
// Only the target marker changes; every other marker keeps its identity.
func (s *Scene) Reposition(id int, x, y float64) error {
	if s.closed {
		return ErrSceneClosed
	}
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("reposition marker %d: %w", id, ErrMarkerNotFound)
	}
	m := *s.markers[i]
	m.X = Clamp(x)
	m.Y = Clamp(y)
	s.markers[i] = &m
	s.revision++
	return nil
}

// RemoveMarker releases the marker's image and removes it. The id is never
// reissued.
func (s *Scene) RemoveMarker(id int) error {
	if s.closed {
		return ErrSceneClosed
	}
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("remove marker %d: %w", id, ErrMarkerNotFound)
	}
	if img := s.markers[i].Image; img != nil {
		img.Release()
	}
	copy(s.markers[i:], s.markers[i+1:])
	s.markers[len(s.markers)-1] = nil
	s.markers = s.markers[:len(s.markers)-1]
	delete(s.index, id)
	for j := i; j < len(s.markers); j++ {
		s.index[s.markers[j].ID] = j
	}
	s.revision++
	return nil
}

// MarkerAt returns the id of the front-most marker whose projected box
// contains the pixel point (x, y), or false if none does. Markers later in
// the collection draw on top and win ties.
func (s *Scene) MarkerAt(x, y float64, vp Viewport) (int, bool) {
	for i := len(s.markers) - 1; i >= 0; i-- {
		m := s.markers[i]
		if MarkerBounds(Vec2{m.X, m.Y}, vp).Contains(x, y) {
			return m.ID, true
		}
	}
	return 0, false
}
