package flyer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// fakeStore is an in-process Store with failure injection.
type fakeStore struct {
	mu    sync.Mutex
	docs  map[string]Document
	blobs map[string][]byte

	failSave error
	failPut  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]Document), blobs: make(map[string][]byte)}
}

func (f *fakeStore) SaveDocument(_ context.Context, name string, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	doc.Markers = append([]MarkerDoc(nil), doc.Markers...)
	f.docs[name] = doc
	return nil
}

func (f *fakeStore) LoadDocument(_ context.Context, name string) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[name]
	if !ok {
		return Document{}, fmt.Errorf("document %q: %w", name, ErrNotFound)
	}
	return doc, nil
}

func (f *fakeStore) ListDocuments(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n := range f.docs {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[name]; !ok {
		return ErrNotFound
	}
	delete(f.docs, name)
	return nil
}

func (f *fakeStore) PutBlob(_ context.Context, ref string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != nil {
		return f.failPut
	}
	f.blobs[ref] = append([]byte(nil), data...)
	return nil
}

func (f *fakeStore) GetBlob(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", ref, ErrNotFound)
	}
	return data, nil
}

// identityResolver acquires the reference string itself as image bytes,
// keeping the reference unchanged.
func identityResolver(rm *ResourceManager) Resolver {
	return ResolverFunc(func(_ context.Context, ref string) (*ImageResource, error) {
		return rm.AcquireWithRef([]byte(ref), ref), nil
	})
}

func sampleDocument() Document {
	return Document{
		Version:    DocumentVersion,
		Background: "sha256:bg",
		Header:     HeaderDoc{Title: "DERBY DAY", Subtitle: "Away XI", Logo: "sha256:logo"},
		Spotlight: SpotlightDoc{
			Name: "Gakpo", Stat: "2 goals",
			Image: "sha256:spot", ClubLogo: "sha256:club",
			Top: 10, Left: 20,
		},
		Footer: FooterDoc{Text: "@club", Hidden: true},
		Markers: []MarkerDoc{
			{ID: 3, Role: "ST", Name: "Nunez", Stat: "7.0", Image: "sha256:m3", X: 1, Y: 2},
			{ID: 7, Role: "CM", Name: "Szoboszlai", Stat: "8.1", X: 55.5, Y: 60},
		},
		NextID: 9,
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	rm := NewResourceManager()
	doc := sampleDocument()

	s, err := Deserialize(context.Background(), doc, identityResolver(rm))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	defer s.Close()

	got := Serialize(s)
	if !reflect.DeepEqual(got, doc) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, doc)
	}
	if rm.Live() != 5 {
		t.Errorf("Live = %d, want 5 resolved handles", rm.Live())
	}
	if s.Header().Logo.Owner() != fieldHeaderLogo {
		t.Errorf("logo owner = %q", s.Header().Logo.Owner())
	}
}

func TestSerializeHoldsRefsNotURIs(t *testing.T) {
	rm := NewResourceManager()
	s := NewScene()
	defer s.Close()
	bg := rm.Acquire([]byte("background bytes"))
	_ = s.SetBackground(bg)

	doc := Serialize(s)
	if doc.Background != ContentRef([]byte("background bytes")) {
		t.Errorf("Background = %q, want content ref", doc.Background)
	}
	data, err := EncodeDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), DisplayURIPrefix) {
		t.Error("encoded document leaks a display URI")
	}
	if !strings.Contains(string(data), `"nextId":1`) {
		t.Errorf("encoded document = %s", data)
	}
}

func TestDeserializeClamps(t *testing.T) {
	doc := Document{
		Version:   DocumentVersion,
		Spotlight: SpotlightDoc{Top: 120, Left: -3},
		Markers:   []MarkerDoc{{ID: 1, X: -10, Y: 300}},
	}
	s, err := Deserialize(context.Background(), doc, identityResolver(NewResourceManager()))
	if err != nil {
		t.Fatal(err)
	}
	m, _ := s.Marker(1)
	if m.X != 0 || m.Y != 100 {
		t.Errorf("marker = (%v, %v), want (0, 100)", m.X, m.Y)
	}
	if sp := s.Spotlight(); sp.Top != 100 || sp.Left != 0 {
		t.Errorf("spotlight = (%v, %v), want (100, 0)", sp.Top, sp.Left)
	}
	if s.NextID() != 2 {
		t.Errorf("NextID = %d, want 2", s.NextID())
	}
}

func TestDeserializeDuplicateIDs(t *testing.T) {
	doc := Document{
		Version: DocumentVersion,
		Markers: []MarkerDoc{{ID: 2, Name: "a"}, {ID: 2, Name: "b"}, {ID: 0, Name: "c"}},
	}
	s, err := Deserialize(context.Background(), doc, identityResolver(NewResourceManager()))
	if err != nil {
		t.Fatal(err)
	}
	ms := s.Markers()
	wantIDs := []int{2, 3, 4}
	wantNames := []string{"a", "b", "c"}
	for i := range ms {
		if ms[i].ID != wantIDs[i] || ms[i].Name != wantNames[i] {
			t.Errorf("marker[%d] = %d %q, want %d %q", i, ms[i].ID, ms[i].Name, wantIDs[i], wantNames[i])
		}
	}
	if s.NextID() != 5 {
		t.Errorf("NextID = %d, want 5", s.NextID())
	}
	if id, _ := s.AddMarker(MarkerInit{}); id != 5 {
		t.Errorf("next minted id = %d, want 5", id)
	}
}

func TestDeserializeResolverFailureReleasesAll(t *testing.T) {
	rm := NewResourceManager()
	var minted []*ImageResource
	res := ResolverFunc(func(_ context.Context, ref string) (*ImageResource, error) {
		if ref == "sha256:m7" {
			return nil, fmt.Errorf("fetch: %w", ErrNotFound)
		}
		r := rm.AcquireWithRef([]byte(ref), ref)
		minted = append(minted, r)
		return r, nil
	})
	doc := sampleDocument()
	doc.Markers[1].Image = "sha256:m7"

	s, err := Deserialize(context.Background(), doc, res)
	if s != nil {
		t.Error("failed Deserialize must not return a scene")
	}
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrPersistence wrapping ErrNotFound", err)
	}
	if len(minted) != 5 {
		t.Fatalf("resolved %d handles before failure, want 5", len(minted))
	}
	for _, r := range minted {
		if r.Valid() {
			t.Errorf("handle %s leaked after failure", r.Ref())
		}
	}
	if rm.Live() != 0 {
		t.Errorf("Live = %d, want 0", rm.Live())
	}
}

func TestDeserializeUnsupportedVersion(t *testing.T) {
	_, err := Deserialize(context.Background(), Document{Version: DocumentVersion + 1}, identityResolver(NewResourceManager()))
	if !errors.Is(err, ErrUnsupportedVersion) || !errors.Is(err, ErrPersistence) {
		t.Errorf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeDocumentMalformed(t *testing.T) {
	if _, err := DecodeDocument([]byte("{not json")); !errors.Is(err, ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestRefs(t *testing.T) {
	want := []string{"sha256:bg", "sha256:logo", "sha256:spot", "sha256:club", "sha256:m3"}
	if got := Refs(sampleDocument()); !reflect.DeepEqual(got, want) {
		t.Errorf("Refs = %v, want %v", got, want)
	}
	if got := Refs(Document{}); len(got) != 0 {
		t.Errorf("Refs(empty) = %v", got)
	}
}

func TestBundleDedupesByRef(t *testing.T) {
	rm := NewResourceManager()
	s := NewScene()
	defer s.Close()
	_, _ = s.AddMarker(MarkerInit{Image: rm.Acquire([]byte("same"))})
	_, _ = s.AddMarker(MarkerInit{Image: rm.Acquire([]byte("same"))})
	_ = s.SetBackground(rm.Acquire([]byte("bg")))

	b := Bundle(s)
	if len(b) != 2 {
		t.Errorf("Bundle has %d entries, want 2", len(b))
	}
	if string(b[ContentRef([]byte("same"))]) != "same" {
		t.Error("bundle bytes mismatch")
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	rm := NewResourceManager()

	s := NewScene()
	bg := rm.Acquire([]byte("bg"))
	_ = s.SetBackground(bg)
	_ = s.SetHeader(HeaderPatch{Title: Ptr("CUP FINAL")})
	id, _ := s.AddMarker(MarkerInit{Name: "Konate", Image: rm.Acquire([]byte("k")), X: Ptr(40.0)})
	_ = s.RemoveMarker(id)
	_, _ = s.AddMarker(MarkerInit{Name: "Gomez"})

	if err := Save(ctx, st, "final", s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := Serialize(s)
	oldURI := bg.DisplayURI()
	s.Close()

	loaded, err := Load(ctx, st, rm, "final")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	if got := Serialize(loaded); !reflect.DeepEqual(got, want) {
		t.Errorf("loaded scene differs:\n got  %+v\n want %+v", got, want)
	}
	if loaded.NextID() != 3 {
		t.Errorf("NextID = %d, want 3 (removed ids stay retired)", loaded.NextID())
	}
	nb := loaded.Background()
	if string(nb.Bytes()) != "bg" {
		t.Errorf("background bytes = %q", nb.Bytes())
	}
	if nb.DisplayURI() == oldURI || nb.DisplayURI() == "" {
		t.Error("reload must mint a fresh display URI")
	}
}

func TestSaveSkipsReleasedImages(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	rm := NewResourceManager()

	s := NewScene()
	bg := rm.Acquire([]byte("bg"))
	_ = s.SetBackground(bg)
	photo := rm.Acquire([]byte("photo"))
	id, _ := s.AddMarker(MarkerInit{Name: "Mac Allister", Image: photo})
	bg.Release()
	photo.Release()

	doc := Serialize(s)
	if doc.Background != "" || doc.Markers[0].Image != "" {
		t.Errorf("released handles serialized as %q, %q", doc.Background, doc.Markers[0].Image)
	}
	if err := Save(ctx, st, "released", s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	loaded, err := Load(ctx, st, rm, "released")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()
	if loaded.Background() != nil {
		t.Error("released background should load as empty")
	}
	m, ok := loaded.Marker(id)
	if !ok || m.Image != nil || m.Name != "Mac Allister" {
		t.Errorf("marker = %+v", m)
	}
}

func TestDeserializeSharedRefCachingResolver(t *testing.T) {
	rm := NewResourceManager()
	cache := make(map[string]*ImageResource)
	res := ResolverFunc(func(_ context.Context, ref string) (*ImageResource, error) {
		if r, ok := cache[ref]; ok {
			return r, nil
		}
		r := rm.AcquireWithRef([]byte(ref), ref)
		cache[ref] = r
		return r, nil
	})

	doc := Document{
		Version:    DocumentVersion,
		Background: "sha256:a",
		Header:     HeaderDoc{Logo: "sha256:a"},
		Markers:    []MarkerDoc{{ID: 1, Image: "sha256:a"}},
	}
	s, err := Deserialize(context.Background(), doc, res)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	bg, logo := s.Background(), s.Header().Logo
	m, _ := s.Marker(1)
	if bg == logo || bg == m.Image || logo == m.Image {
		t.Fatal("fields sharing a ref must hold distinct handles")
	}
	for _, r := range []*ImageResource{bg, logo, m.Image} {
		if !r.Valid() || r.Ref() != "sha256:a" || string(r.Bytes()) != "sha256:a" {
			t.Errorf("handle %s: valid=%v ref=%q", r.Owner(), r.Valid(), r.Ref())
		}
	}
	if got := Serialize(s); !reflect.DeepEqual(got.Markers, doc.Markers) || got.Background != "sha256:a" || got.Header.Logo != "sha256:a" {
		t.Errorf("round trip = %+v", got)
	}
	if rm.Live() != 3 {
		t.Errorf("Live = %d, want 3", rm.Live())
	}
	s.Close()
	if rm.Live() != 0 {
		t.Errorf("Live = %d after Close, want 0", rm.Live())
	}
}

func TestSaveFailureLeavesSceneUnchanged(t *testing.T) {
	ctx := context.Background()
	rm := NewResourceManager()
	s := NewScene()
	defer s.Close()
	img := rm.Acquire([]byte("img"))
	_, _ = s.AddMarker(MarkerInit{Image: img})
	before := Serialize(s)
	rev := s.Revision()

	for name, st := range map[string]*fakeStore{
		"document": {docs: map[string]Document{}, blobs: map[string][]byte{}, failSave: errors.New("disk full")},
		"blob":     {docs: map[string]Document{}, blobs: map[string][]byte{}, failPut: errors.New("quota")},
	} {
		err := Save(ctx, st, "x", s)
		if !errors.Is(err, ErrPersistence) {
			t.Errorf("%s: err = %v, want ErrPersistence", name, err)
		}
		var pe *PersistError
		if !errors.As(err, &pe) || pe.Op != "save" || pe.Name != "x" {
			t.Errorf("%s: PersistError = %+v", name, pe)
		}
	}
	if !reflect.DeepEqual(Serialize(s), before) || s.Revision() != rev {
		t.Error("failed save modified the scene")
	}
	if !img.Valid() {
		t.Error("failed save released a resource")
	}
}

func TestLoadMissing(t *testing.T) {
	rm := NewResourceManager()
	_, err := Load(context.Background(), newFakeStore(), rm, "nope")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v", err)
	}
	var pe *PersistError
	if errors.As(err, &pe) && pe.Name != "nope" {
		t.Errorf("Name = %q", pe.Name)
	}
}

func TestLoadMissingBlobReleases(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	doc := sampleDocument()
	st.docs["partial"] = doc
	st.blobs["sha256:bg"] = []byte("bg")
	st.blobs["sha256:logo"] = []byte("logo")

	rm := NewResourceManager()
	_, err := Load(ctx, st, rm, "partial")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var pe *PersistError
	if !errors.As(err, &pe) || pe.Name != "partial" {
		t.Errorf("PersistError = %+v", pe)
	}
	if rm.Live() != 0 {
		t.Errorf("Live = %d, want 0", rm.Live())
	}
}

func TestPersistErrorMessage(t *testing.T) {
	e := &PersistError{Op: "load", Name: "a", Err: ErrNotFound}
	if got := e.Error(); got != `flyer: load "a": flyer: not found` {
		t.Errorf("Error() = %q", got)
	}
	e.Name = ""
	if got := e.Error(); got != "flyer: load: flyer: not found" {
		t.Errorf("Error() = %q", got)
	}
}
