package flyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DocumentVersion is the document format written by Serialize.
const DocumentVersion = 1

var (
	// ErrPersistence matches every error surfaced by the persistence
	// adapter, so callers can retry or alert without inspecting causes.
	ErrPersistence = errors.New("flyer: persistence failure")
	// ErrNotFound is returned by stores for missing documents or blobs.
	ErrNotFound = errors.New("flyer: not found")
	// ErrUnsupportedVersion is returned for documents newer than this build.
	ErrUnsupportedVersion = errors.New("flyer: unsupported document version")
)

// PersistError wraps a failure at the persistence boundary.
// errors.Is(err, ErrPersistence) is true for every PersistError.
type PersistError struct {
	Op   string // "save", "load", "deserialize", ...
	Name string // document name, if any
	Err  error
}

func (e *PersistError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("flyer: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("flyer: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPersistence.
func (e *PersistError) Is(target error) bool { return target == ErrPersistence }

// Document is the transport-neutral form of a Scene. Image fields hold
// storage references, never display URIs.
type Document struct {
	Version    int          `json:"version"`
	Background string       `json:"background,omitempty"`
	Header     HeaderDoc    `json:"header"`
	Spotlight  SpotlightDoc `json:"spotlight"`
	Footer     FooterDoc    `json:"footer"`
	Markers    []MarkerDoc  `json:"markers"`
	NextID     int          `json:"nextId"`
}

// HeaderDoc is the serialized HeaderConfig.
type HeaderDoc struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Logo     string `json:"logo,omitempty"`
}

// SpotlightDoc is the serialized SpotlightConfig.
type SpotlightDoc struct {
	Name     string  `json:"name"`
	Stat     string  `json:"stat"`
	Image    string  `json:"image,omitempty"`
	ClubLogo string  `json:"clubLogo,omitempty"`
	Top      float64 `json:"top"`
	Left     float64 `json:"left"`
}

// FooterDoc is the serialized FooterConfig.
type FooterDoc struct {
	Text   string `json:"text"`
	Hidden bool   `json:"hidden,omitempty"`
}

// MarkerDoc is the serialized EntityMarker.
type MarkerDoc struct {
	ID    int     `json:"id"`
	Role  string  `json:"role"`
	Name  string  `json:"name"`
	Stat  string  `json:"stat"`
	Image string  `json:"image,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Serialize converts s to a Document. Released handles are written as
// empty references.
func Serialize(s *Scene) Document {
	doc := Document{
		Version:    DocumentVersion,
		Background: persistRef(s.background),
		Header: HeaderDoc{
			Title:    s.header.Title,
			Subtitle: s.header.Subtitle,
			Logo:     persistRef(s.header.Logo),
		},
		Spotlight: SpotlightDoc{
			Name:     s.spotlight.Name,
			Stat:     s.spotlight.Stat,
			Image:    persistRef(s.spotlight.Image),
			ClubLogo: persistRef(s.spotlight.ClubLogo),
			Top:      s.spotlight.Top,
			Left:     s.spotlight.Left,
		},
		Footer: FooterDoc{
			Text:   s.footer.Text,
			Hidden: s.footer.Hidden,
		},
		Markers: make([]MarkerDoc, 0, len(s.markers)),
		NextID:  s.nextID,
	}
	for _, m := range s.markers {
		doc.Markers = append(doc.Markers, MarkerDoc{
			ID:    m.ID,
			Role:  m.Role,
			Name:  m.Name,
			Stat:  m.Stat,
			Image: persistRef(m.Image),
			X:     m.X,
			Y:     m.Y,
		})
	}
	return doc
}

// persistRef is r's storage reference, or "" once r is released.
func persistRef(r *ImageResource) string {
	if !r.Valid() {
		return ""
	}
	return r.ref
}

// Refs returns every image reference doc carries, in field order.
func Refs(doc Document) []string {
	var refs []string
	add := func(ref string) {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	add(doc.Background)
	add(doc.Header.Logo)
	add(doc.Spotlight.Image)
	add(doc.Spotlight.ClubLogo)
	for _, m := range doc.Markers {
		add(m.Image)
	}
	return refs
}

// Bundle returns the bytes of every image the scene references, keyed by
// reference, for upload alongside the document.
func Bundle(s *Scene) map[string][]byte {
	out := make(map[string][]byte)
	for _, r := range s.Resources() {
		if data := r.Bytes(); data != nil {
			out[r.Ref()] = data
		}
	}
	return out
}

// Resolver rehydrates an image reference into a handle. Resolvers may
// return the same handle for repeated calls with one reference; Deserialize
// copies it when a second field needs it.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*ImageResource, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref string) (*ImageResource, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, ref string) (*ImageResource, error) {
	return f(ctx, ref)
}

// Deserialize builds a Scene from doc, resolving each image reference
// through res. Positions are clamped exactly as AddMarker and UpdateMarker
// clamp them; duplicate or non-positive marker ids are replaced by fresh
// ids. If any reference fails to resolve, every handle resolved so far is
// released and a *PersistError is returned.
func Deserialize(ctx context.Context, doc Document, res Resolver) (*Scene, error) {
	if doc.Version > DocumentVersion {
		return nil, &PersistError{Op: "deserialize", Err: fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)}
	}

	s := NewScene()
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	resolve := func(ref, field string) (*ImageResource, error) {
		if ref == "" {
			return nil, nil
		}
		r, err := res.Resolve(ctx, ref)
		if err != nil {
			return nil, &PersistError{Op: "deserialize", Err: fmt.Errorf("resolve %s for %s: %w", ref, field, err)}
		}
		err = claim(r, field)
		if errors.Is(err, ErrResourceShared) {
			// content refs repeat across fields; each field owns its own copy
			if data := r.Bytes(); data != nil {
				r = r.mgr.AcquireWithRef(data, ref)
				err = claim(r, field)
			}
		}
		if err != nil {
			if !errors.Is(err, ErrResourceShared) {
				r.Release()
			}
			return nil, &PersistError{Op: "deserialize", Err: fmt.Errorf("%s: %w", field, err)}
		}
		return r, nil
	}

	var err error
	if s.background, err = resolve(doc.Background, fieldBackground); err != nil {
		return nil, err
	}
	s.header.Title = doc.Header.Title
	s.header.Subtitle = doc.Header.Subtitle
	if s.header.Logo, err = resolve(doc.Header.Logo, fieldHeaderLogo); err != nil {
		return nil, err
	}
	s.spotlight.Name = doc.Spotlight.Name
	s.spotlight.Stat = doc.Spotlight.Stat
	s.spotlight.Top = Clamp(doc.Spotlight.Top)
	s.spotlight.Left = Clamp(doc.Spotlight.Left)
	if s.spotlight.Image, err = resolve(doc.Spotlight.Image, fieldSpotlightImg); err != nil {
		return nil, err
	}
	if s.spotlight.ClubLogo, err = resolve(doc.Spotlight.ClubLogo, fieldSpotlightClub); err != nil {
		return nil, err
	}
	s.footer = FooterConfig{Text: doc.Footer.Text, Hidden: doc.Footer.Hidden}

	maxID := 0
	for _, md := range doc.Markers {
		maxID = max(maxID, md.ID)
	}
	s.nextID = max(doc.NextID, maxID+1, 1)

	for _, md := range doc.Markers {
		id := md.ID
		if _, dup := s.index[id]; dup || id <= 0 {
			id = s.nextID
			s.nextID++
		}
		img, err := resolve(md.Image, markerField(id))
		if err != nil {
			return nil, err
		}
		s.index[id] = len(s.markers)
		s.markers = append(s.markers, &EntityMarker{
			ID:    id,
			Role:  md.Role,
			Name:  md.Name,
			Stat:  md.Stat,
			Image: img,
			X:     Clamp(md.X),
			Y:     Clamp(md.Y),
		})
	}

	ok = true
	return s, nil
}

// EncodeDocument marshals doc as JSON.
func EncodeDocument(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// DecodeDocument unmarshals a JSON document.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, &PersistError{Op: "decode", Err: err}
	}
	return doc, nil
}

// Store is the external save/load collaborator. Implementations return
// ErrNotFound (possibly wrapped) for missing documents and blobs.
type Store interface {
	SaveDocument(ctx context.Context, name string, doc Document) error
	LoadDocument(ctx context.Context, name string) (Document, error)
	ListDocuments(ctx context.Context) ([]string, error)
	DeleteDocument(ctx context.Context, name string) error
	PutBlob(ctx context.Context, ref string, data []byte) error
	GetBlob(ctx context.Context, ref string) ([]byte, error)
}

// Save uploads the scene's images and document under name. A failed save
// never modifies s.
func Save(ctx context.Context, st Store, name string, s *Scene) error {
	doc := Serialize(s)
	blobs := Bundle(s)
	for _, ref := range Refs(doc) {
		if _, ok := blobs[ref]; !ok {
			return &PersistError{Op: "save", Name: name, Err: fmt.Errorf("%s: %w", ref, ErrResourceReleased)}
		}
	}
	for ref, data := range blobs {
		if err := st.PutBlob(ctx, ref, data); err != nil {
			return &PersistError{Op: "save", Name: name, Err: fmt.Errorf("upload %s: %w", ref, err)}
		}
	}
	if err := st.SaveDocument(ctx, name, doc); err != nil {
		return &PersistError{Op: "save", Name: name, Err: err}
	}
	return nil
}

// Load fetches the document saved under name and rehydrates its images
// into rm.
func Load(ctx context.Context, st Store, rm *ResourceManager, name string) (*Scene, error) {
	doc, err := st.LoadDocument(ctx, name)
	if err != nil {
		return nil, &PersistError{Op: "load", Name: name, Err: err}
	}
	s, err := Deserialize(ctx, doc, BlobResolver(st, rm))
	if err != nil {
		var pe *PersistError
		if errors.As(err, &pe) {
			pe.Name = name
		}
		return nil, err
	}
	return s, nil
}

// BlobResolver resolves references by fetching blobs from st and acquiring
// them in rm under their original reference.
func BlobResolver(st Store, rm *ResourceManager) Resolver {
	return ResolverFunc(func(ctx context.Context, ref string) (*ImageResource, error) {
		data, err := st.GetBlob(ctx, ref)
		if err != nil {
			return nil, err
		}
		return rm.AcquireWithRef(data, ref), nil
	})
}
