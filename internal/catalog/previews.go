package catalog

import (
	"sync"

	"handmade/internal/ingest"

	"github.com/google/uuid"
)

// PreviewPool holds the bytes of staged files so they can be shown before
// they are ingested. Every acquired preview must be released.
type PreviewPool struct {
	items map[string]ingest.File
	mu    sync.RWMutex
}

// NewPreviewPool creates an empty pool.
func NewPreviewPool() *PreviewPool {
	return &PreviewPool{items: make(map[string]ingest.File)}
}

// Acquire stores f and returns its preview id.
func (p *PreviewPool) Acquire(f ingest.File) string {
	id := uuid.New().String()

	p.mu.Lock()
	p.items[id] = f
	p.mu.Unlock()
	return id
}

// Get returns the file behind a preview id.
func (p *PreviewPool) Get(id string) (ingest.File, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.items[id]
	return f, ok
}

// Release frees one preview. Unknown ids are ignored.
func (p *PreviewPool) Release(id string) {
	p.mu.Lock()
	delete(p.items, id)
	p.mu.Unlock()
}

// ReleaseAll frees every preview in the pool.
func (p *PreviewPool) ReleaseAll() {
	p.mu.Lock()
	clear(p.items)
	p.mu.Unlock()
}

// Len returns the number of outstanding previews.
func (p *PreviewPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}
