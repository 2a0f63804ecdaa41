package flyer

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Session is one editor session: exactly one live Scene plus the
// ResourceManager its images come from. Ending the session releases every
// resource reachable from the final scene.
type Session struct {
	rm    *ResourceManager
	scene *Scene
	log   zerolog.Logger
}

// NewSession starts a session on the default template.
func NewSession(rm *ResourceManager, log zerolog.Logger) *Session {
	return &Session{rm: rm, scene: NewScene(), log: log}
}

// Scene returns the live scene.
func (s *Session) Scene() *Scene { return s.scene }

// Resources returns the session's resource manager.
func (s *Session) Resources() *ResourceManager { return s.rm }

// Upload acquires data as a new handle. The caller assigns it to exactly one
// scene field.
func (s *Session) Upload(data []byte) *ImageResource {
	return s.rm.Acquire(data)
}

// Load replaces the live scene, releasing every resource of the old one.
// A nil scene loads a fresh default template.
func (s *Session) Load(next *Scene) {
	if next == nil {
		next = NewScene()
	}
	if next == s.scene {
		return
	}
	s.scene.Close()
	s.scene = next
	if next.Len() > debugMaxMarkers {
		s.log.Warn().Int("markers", next.Len()).Msg("scene has more markers than fit legibly")
	}
}

// Reset loads a fresh default template.
func (s *Session) Reset() {
	s.Load(NewScene())
}

// Close ends the session and releases the scene's resources.
func (s *Session) Close() {
	s.scene.Close()
	s.log.Debug().Int("live", s.rm.Live()).Msg("session closed")
}

// WithSession runs fn inside a session and releases the final scene's
// resources on every exit path, including panics, which are re-raised.
func WithSession(rm *ResourceManager, log zerolog.Logger, fn func(*Session) error) error {
	s := NewSession(rm, log)
	defer s.Close()
	if err := fn(s); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
