// Package memory implements flyer.Store in process memory. Documents are
// held in their encoded form so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/phanxgames/flyer"
)

// Backend stores documents and image blobs in maps.
type Backend struct {
	docs  map[string][]byte // encoded documents keyed by name
	blobs map[string][]byte // keyed by content reference

	mu sync.RWMutex
}

// New creates an empty memory backend.
func New() *Backend {
	return &Backend{
		docs:  make(map[string][]byte),
		blobs: make(map[string][]byte),
	}
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// SaveDocument stores doc under name, replacing any previous version.
func (b *Backend) SaveDocument(ctx context.Context, name string, doc flyer.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := flyer.EncodeDocument(doc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.docs[name] = data
	b.mu.Unlock()
	return nil
}

// LoadDocument returns the document stored under name.
func (b *Backend) LoadDocument(ctx context.Context, name string) (flyer.Document, error) {
	if err := ctx.Err(); err != nil {
		return flyer.Document{}, err
	}
	b.mu.RLock()
	data, ok := b.docs[name]
	b.mu.RUnlock()
	if !ok {
		return flyer.Document{}, fmt.Errorf("document %q: %w", name, flyer.ErrNotFound)
	}
	return flyer.DecodeDocument(data)
}

// ListDocuments returns stored document names in sorted order.
func (b *Backend) ListDocuments(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	names := make([]string, 0, len(b.docs))
	for name := range b.docs {
		names = append(names, name)
	}
	b.mu.RUnlock()
	slices.Sort(names)
	return names, nil
}

// DeleteDocument removes the document stored under name. Blobs are kept;
// other documents may reference them.
func (b *Backend) DeleteDocument(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.docs[name]; !ok {
		return fmt.Errorf("document %q: %w", name, flyer.ErrNotFound)
	}
	delete(b.docs, name)
	return nil
}

// PutBlob stores a copy of data under ref. Blobs are content addressed, so
// an existing entry is left untouched.
func (b *Backend) PutBlob(ctx context.Context, ref string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[ref]; ok {
		return nil
	}
	b.blobs[ref] = slices.Clone(data)
	return nil
}

// GetBlob returns a copy of the blob stored under ref.
func (b *Backend) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	data, ok := b.blobs[ref]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", ref, flyer.ErrNotFound)
	}
	return slices.Clone(data), nil
}

// Blobs returns the number of stored blobs.
func (b *Backend) Blobs() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}
