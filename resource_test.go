package flyer

import (
	"errors"
	"image/color"
	"strings"
	"sync"
	"testing"
)

func TestAcquireMintsFreshHandles(t *testing.T) {
	rm := NewResourceManager()
	data := testPNG(t, 4, 4, color.White)

	a := rm.Acquire(data)
	b := rm.Acquire(data)
	defer a.Release()
	defer b.Release()

	if a == b {
		t.Fatal("identical bytes must still produce distinct handles")
	}
	if a.DisplayURI() == b.DisplayURI() {
		t.Errorf("display URIs collide: %s", a.DisplayURI())
	}
	if !strings.HasPrefix(a.DisplayURI(), DisplayURIPrefix) {
		t.Errorf("DisplayURI = %q, want prefix %q", a.DisplayURI(), DisplayURIPrefix)
	}
	if a.Ref() != b.Ref() || a.Ref() != ContentRef(data) {
		t.Errorf("refs = %q, %q; want content ref %q", a.Ref(), b.Ref(), ContentRef(data))
	}
	if rm.Live() != 2 {
		t.Errorf("Live = %d, want 2", rm.Live())
	}
}

func TestAcquireCopiesBytes(t *testing.T) {
	rm := NewResourceManager()
	data := []byte{1, 2, 3}
	r := rm.Acquire(data)
	defer r.Release()

	data[0] = 99
	if r.Bytes()[0] != 1 {
		t.Error("handle must not alias caller's buffer")
	}
}

func TestReleaseInvalidates(t *testing.T) {
	rm := NewResourceManager()
	r := rm.Acquire(testPNG(t, 2, 2, color.Black))
	uri := r.DisplayURI()
	ref := r.Ref()

	r.Release()
	if r.Valid() {
		t.Error("released handle reports Valid")
	}
	if r.DisplayURI() != "" {
		t.Errorf("DisplayURI after release = %q, want empty", r.DisplayURI())
	}
	if r.Bytes() != nil {
		t.Error("Bytes after release should be nil")
	}
	if r.Ref() != ref {
		t.Error("Ref should survive release")
	}
	if _, ok := rm.Lookup(uri); ok {
		t.Error("Lookup found a released URI")
	}
	if r.Drawable() {
		t.Error("released handle must not be drawable")
	}
	if _, err := r.Decode(); !errors.Is(err, ErrResourceReleased) {
		t.Errorf("Decode after release: err = %v, want ErrResourceReleased", err)
	}

	// idempotent
	r.Release()
	rm.Release(r)
	if rm.Live() != 0 {
		t.Errorf("Live = %d, want 0", rm.Live())
	}
}

func TestMalformedBytesAcquire(t *testing.T) {
	rm := NewResourceManager()
	r := rm.Acquire([]byte("definitely not an image"))
	defer r.Release()

	if !r.Valid() {
		t.Fatal("malformed bytes must still yield a valid handle")
	}
	if r.Drawable() {
		t.Error("malformed bytes must not be drawable")
	}
	if _, err := r.Decode(); err == nil {
		t.Error("Decode should fail on malformed bytes")
	}
}

func TestDecodeCaches(t *testing.T) {
	rm := NewResourceManager()
	r := rm.Acquire(testPNG(t, 3, 5, color.White))
	defer r.Release()

	cfg, format, err := r.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if format != "png" || cfg.Width != 3 || cfg.Height != 5 {
		t.Errorf("Config = %dx%d %s, want 3x5 png", cfg.Width, cfg.Height, format)
	}
	a, err := r.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, _ := r.Decode()
	if a != b {
		t.Error("Decode should return the cached image")
	}
}

func TestOnReleaseHooks(t *testing.T) {
	rm := NewResourceManager()
	var released []*ImageResource
	rm.OnRelease(func(r *ImageResource) { released = append(released, r) })

	a := rm.Acquire([]byte("a"))
	b := rm.Acquire([]byte("b"))
	a.Release()
	a.Release()
	if len(released) != 1 || released[0] != a {
		t.Fatalf("hooks fired for %v, want only a", released)
	}

	if n := rm.ReleaseAll(); n != 1 {
		t.Errorf("ReleaseAll = %d, want 1", n)
	}
	if len(released) != 2 || released[1] != b {
		t.Error("ReleaseAll should fire hooks")
	}
}

func TestReleaseConcurrentWithReaders(t *testing.T) {
	rm := NewResourceManager()
	data := testPNG(t, 8, 8, color.White)

	for i := 0; i < 20; i++ {
		r := rm.Acquire(data)
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if b := r.Bytes(); b != nil && len(b) != len(data) {
					t.Errorf("Bytes returned %d bytes, want %d", len(b), len(data))
				}
				if img, err := r.Decode(); err == nil && img.Bounds().Dx() != 8 {
					t.Errorf("Decode bounds = %v", img.Bounds())
				}
				_ = r.Drawable()
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Release()
		}()
		wg.Wait()

		if r.Bytes() != nil || r.Drawable() {
			t.Fatal("handle still readable after release")
		}
		if _, err := r.Decode(); !errors.Is(err, ErrResourceReleased) {
			t.Fatalf("Decode after release: %v", err)
		}
	}
	if rm.Live() != 0 {
		t.Errorf("Live = %d, want 0", rm.Live())
	}
}

func TestLiveResourcesProcessWide(t *testing.T) {
	before := LiveResources()
	rm1 := NewResourceManager()
	rm2 := NewResourceManager()
	a := rm1.Acquire([]byte("x"))
	b := rm2.Acquire([]byte("y"))
	if got := LiveResources() - before; got != 2 {
		t.Errorf("live delta = %d, want 2", got)
	}
	a.Release()
	b.Release()
	if got := LiveResources() - before; got != 0 {
		t.Errorf("live delta after release = %d, want 0", got)
	}
}

func TestReleaseForeignManagerIgnored(t *testing.T) {
	rm1 := NewResourceManager()
	rm2 := NewResourceManager()
	r := rm1.Acquire([]byte("x"))
	defer r.Release()

	rm2.Release(r)
	if !r.Valid() {
		t.Error("a manager must not release another manager's handle")
	}
}

func TestNilResource(t *testing.T) {
	var r *ImageResource
	if r.Valid() || r.Drawable() {
		t.Error("nil handle must be invalid")
	}
	if r.DisplayURI() != "" || r.Ref() != "" || r.Bytes() != nil || r.Owner() != "" {
		t.Error("nil handle accessors must return zero values")
	}
	r.Release()
}
