package flyer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	// Registered decoders: uploads are only validated by what decoding enforces.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DisplayURIPrefix prefixes every display URI minted by a ResourceManager.
// Display URIs are process-local and never persisted.
const DisplayURIPrefix = "blob:flyer/"

// RefPrefix prefixes content references emitted by Serialize.
const RefPrefix = "sha256:"

var (
	// ErrResourceReleased is returned when a released handle is assigned to
	// a scene field.
	ErrResourceReleased = errors.New("flyer: image resource has been released")
	// ErrResourceShared is returned when a handle already owned by another
	// scene field is assigned again.
	ErrResourceShared = errors.New("flyer: image resource is already owned by another field")
)

// liveResources counts unreleased handles across every ResourceManager.
var liveResources atomic.Int64

// LiveResources returns the number of unreleased handles in the process.
func LiveResources() int64 {
	return liveResources.Load()
}

// ImageResource is an opaque handle to uploaded image bytes plus a revocable
// display URI. A handle is owned by at most one scene field.
type ImageResource struct {
	mgr  *ResourceManager
	uri  string
	ref  string
	data []byte

	released bool
	owner    string // scene field currently holding the handle, "" if none

	// Lazy decode caches. Malformed bytes are recorded, not raised.
	cfgDone bool
	cfg     image.Config
	format  string
	cfgErr  error
	imgDone bool
	img     image.Image
	imgErr  error
}

// DisplayURI returns the process-local URI used to display the image.
// Empty after release.
func (r *ImageResource) DisplayURI() string {
	if r == nil || !r.Valid() {
		return ""
	}
	return r.uri
}

// Ref returns the content reference ("sha256:<hex>") the storage
// collaborator uses to re-fetch the bytes after a reload.
func (r *ImageResource) Ref() string {
	if r == nil {
		return ""
	}
	return r.ref
}

// Bytes returns the raw image bytes, or nil after release.
// The returned slice MUST NOT be mutated.
func (r *ImageResource) Bytes() []byte {
	if r == nil {
		return nil
	}
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	return r.data
}

// Valid reports whether the handle has not been released.
func (r *ImageResource) Valid() bool {
	if r == nil {
		return false
	}
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	return !r.released
}

// Owner returns the scene field currently holding this handle.
func (r *ImageResource) Owner() string {
	if r == nil {
		return ""
	}
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	return r.owner
}

// Release invalidates the display URI. Safe to call more than once.
func (r *ImageResource) Release() {
	if r == nil {
		return
	}
	r.mgr.Release(r)
}

// Config decodes and caches the image header. Malformed bytes return an
// error; the handle stays usable as a placeholder.
func (r *ImageResource) Config() (image.Config, string, error) {
	if r == nil {
		return image.Config{}, "", ErrResourceReleased
	}
	m := r.mgr
	m.mu.Lock()
	if r.cfgDone {
		defer m.mu.Unlock()
		return r.cfg, r.format, r.cfgErr
	}
	data := r.data
	m.mu.Unlock()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))

	m.mu.Lock()
	defer m.mu.Unlock()
	if !r.cfgDone {
		r.cfg, r.format, r.cfgErr = cfg, format, err
		r.cfgDone = true
	}
	return r.cfg, r.format, r.cfgErr
}

// Decode decodes and caches the full image.
func (r *ImageResource) Decode() (image.Image, error) {
	if r == nil {
		return nil, ErrResourceReleased
	}
	m := r.mgr
	m.mu.Lock()
	if r.released {
		m.mu.Unlock()
		return nil, ErrResourceReleased
	}
	if r.imgDone {
		defer m.mu.Unlock()
		return r.img, r.imgErr
	}
	data := r.data
	m.mu.Unlock()

	img, _, err := image.Decode(bytes.NewReader(data))

	m.mu.Lock()
	defer m.mu.Unlock()
	if r.released {
		return nil, ErrResourceReleased
	}
	if !r.imgDone {
		r.img, r.imgErr = img, err
		r.imgDone = true
	}
	return r.img, r.imgErr
}

// Drawable reports whether the renderer may draw this image: the handle is
// live and its header decodes. Anything else renders a placeholder.
func (r *ImageResource) Drawable() bool {
	if !r.Valid() {
		return false
	}
	_, _, err := r.Config()
	return err == nil
}

// ResourceManager mints ImageResource handles and owns their lifecycle.
// Safe for concurrent use so storage I/O can acquire off the UI goroutine.
type ResourceManager struct {
	mu        sync.Mutex
	live      map[string]*ImageResource
	onRelease []func(*ImageResource)
	log       zerolog.Logger
}

// ResourceOption configures a ResourceManager.
type ResourceOption func(*ResourceManager)

// WithResourceLogger sets the logger used for lifecycle diagnostics.
func WithResourceLogger(log zerolog.Logger) ResourceOption {
	return func(m *ResourceManager) { m.log = log }
}

// NewResourceManager creates an empty manager.
func NewResourceManager(opts ...ResourceOption) *ResourceManager {
	m := &ResourceManager{
		live: make(map[string]*ImageResource),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire creates a fresh handle for data. It never fails: malformed bytes
// produce a handle whose Drawable reports false. Every call mints a new
// display URI, even for identical bytes. data is copied.
func (m *ResourceManager) Acquire(data []byte) *ImageResource {
	return m.AcquireWithRef(data, ContentRef(data))
}

// AcquireWithRef is Acquire with an explicit storage reference. Resolvers
// use it so a reloaded handle keeps the reference it was saved under.
func (m *ResourceManager) AcquireWithRef(data []byte, ref string) *ImageResource {
	buf := make([]byte, len(data))
	copy(buf, data)
	if ref == "" {
		ref = ContentRef(buf)
	}
	r := &ImageResource{
		mgr:  m,
		uri:  DisplayURIPrefix + uuid.NewString(),
		ref:  ref,
		data: buf,
	}

	m.mu.Lock()
	m.live[r.uri] = r
	m.mu.Unlock()
	liveResources.Add(1)

	m.log.Debug().Str("uri", r.uri).Int("bytes", len(buf)).Msg("resource acquired")
	return r
}

// ContentRef returns the content reference for data: "sha256:" followed by
// the hex digest.
func ContentRef(data []byte) string {
	sum := sha256.Sum256(data)
	return RefPrefix + hex.EncodeToString(sum[:])
}

// Release invalidates r's display URI and runs release hooks. Releasing an
// already released handle is a no-op.
func (m *ResourceManager) Release(r *ImageResource) {
	if r == nil || r.mgr != m {
		return
	}
	m.mu.Lock()
	if r.released {
		m.mu.Unlock()
		return
	}
	r.released = true
	r.owner = ""
	r.data = nil
	r.img = nil
	delete(m.live, r.uri)
	hooks := m.onRelease
	m.mu.Unlock()
	liveResources.Add(-1)

	for _, fn := range hooks {
		fn(r)
	}
	m.log.Debug().Str("uri", r.uri).Msg("resource released")
}

// OnRelease registers fn to run after a handle is released. Used by
// surfaces that cache derived GPU images per handle.
func (m *ResourceManager) OnRelease(fn func(*ImageResource)) {
	m.mu.Lock()
	m.onRelease = append(m.onRelease, fn)
	m.mu.Unlock()
}

// Live returns the number of unreleased handles minted by m.
func (m *ResourceManager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Lookup resolves a display URI to its live handle.
func (m *ResourceManager) Lookup(uri string) (*ImageResource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.live[uri]
	return r, ok
}

// ReleaseAll releases every live handle and returns how many were released.
// Intended for process teardown; scenes release their own fields on Close.
func (m *ResourceManager) ReleaseAll() int {
	m.mu.Lock()
	all := make([]*ImageResource, 0, len(m.live))
	for _, r := range m.live {
		all = append(all, r)
	}
	m.mu.Unlock()
	for _, r := range all {
		m.Release(r)
	}
	if len(all) > 0 {
		m.log.Warn().Int("count", len(all)).Msg("released leaked resources")
	}
	return len(all)
}

// claim marks r as owned by field. A nil r always succeeds.
func claim(r *ImageResource, field string) error {
	if r == nil {
		return nil
	}
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	if r.released {
		return ErrResourceReleased
	}
	if r.owner != "" && r.owner != field {
		return ErrResourceShared
	}
	r.owner = field
	return nil
}
