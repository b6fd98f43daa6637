package registry

import (
	"context"
	"sync"
)

// Store persists the registry document. Load always returns a structurally
// valid document: implementations initialize missing storage, recover corrupt
// payloads (preserving the original under a side channel), and coerce
// malformed collections to empty before returning.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// Registry serializes every load-mutate-save cycle behind a per-process
// mutex. The underlying store offers no concurrent-writer protection, so all
// mutations must flow through Update to avoid lost updates.
type Registry struct {
	mu    sync.Mutex
	store Store
}

// New wraps a store in the single-writer discipline.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Update runs fn against the current document and persists the result. When
// fn returns an error nothing is written, so callers never leave a partial
// mutation behind.
func (r *Registry) Update(ctx context.Context, fn func(doc *Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.store.Save(ctx, doc)
}

// View runs fn against the latest durable snapshot without writing back.
func (r *Registry) View(ctx context.Context, fn func(doc *Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	return fn(doc)
}
