// Package catalog keeps a seller's local view of their products in sync with
// the store and mediates creating, editing and deleting them.
package catalog

import (
	"context"
	"log"
	"sync"

	"handmade/internal/ingest"
	"handmade/internal/models"
	"handmade/internal/store"
)

// Store is the document store the adapter writes to and watches.
type Store interface {
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, p *models.Product, actor models.Identity) error
	Delete(ctx context.Context, id string, actor models.Identity) error
	Get(ctx context.Context, id string) (*models.Product, error)
	Watch(ctx context.Context, q store.Query) <-chan store.Snapshot
}

// Ingester turns staged files into embeddable payloads.
type Ingester interface {
	Validate(f ingest.File) error
	IngestAll(ctx context.Context, files []ingest.File) ([]ingest.EncodedImage, error)
}

// IdentityProvider reports the authenticated caller, if any.
type IdentityProvider interface {
	Identity(ctx context.Context) (models.Identity, bool)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (models.Identity, bool)

func (f IdentityFunc) Identity(ctx context.Context) (models.Identity, bool) {
	return f(ctx)
}

type identityKey struct{}

// WithIdentity returns a context carrying the authenticated caller.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext reads the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok && id.ID != ""
}

// ContextIdentity is the IdentityProvider backed by WithIdentity.
var ContextIdentity IdentityProvider = IdentityFunc(IdentityFromContext)

// Adapter mediates one seller's catalog. At most one EditSession is open at a time.
type Adapter struct {
	store    Store
	pipeline Ingester
	identity IdentityProvider

	mu      sync.Mutex
	session *EditSession
}

// New creates an Adapter.
func New(st Store, pipeline Ingester, identity IdentityProvider) *Adapter {
	return &Adapter{
		store:    st,
		pipeline: pipeline,
		identity: identity,
	}
}

// Subscribe starts a live view of vendorID's products.
func (a *Adapter) Subscribe(ctx context.Context, vendorID string) (*Subscription, error) {
	if vendorID == "" {
		return nil, ErrAuthRequired
	}
	return newSubscription(ctx, a.store, vendorID), nil
}

// NewStaging returns an empty staging area for the create form.
func (a *Adapter) NewStaging() *Staging {
	return newStaging(a.pipeline.Validate)
}

// Create ingests every staged file and persists a new product owned by the caller.
// On success the staging area is cleared; on failure it is left untouched.
func (a *Adapter) Create(ctx context.Context, draft *DraftProduct, staging *Staging) (*models.Product, error) {
	actor, ok := a.identity.Identity(ctx)
	if !ok {
		return nil, ErrAuthRequired
	}

	staged := staging.Files()
	if err := draft.Validate(len(staged)); err != nil {
		return nil, err
	}

	images, err := a.pipeline.IngestAll(ctx, rawFiles(staged))
	if err != nil {
		return nil, err
	}

	product := &models.Product{
		Title:       draft.Title,
		Description: draft.Description,
		Price:       *draft.Price,
		Images:      payloads(images),
		Contacts:    CleanContacts(draft.Contacts),
		VendorID:    actor.ID,
		VendorEmail: actor.Email,
		Status:      models.StatusActive,
	}
	if err := a.store.Create(ctx, product); err != nil {
		return nil, &StoreError{Op: "create", Err: err}
	}

	staging.Clear()
	log.Printf("[catalog] vendor %s created product %s with %d images", actor.ID, product.ID, len(product.Images))
	return product, nil
}

// BeginEdit opens an edit session on product, cancelling any session already open.
func (a *Adapter) BeginEdit(product *models.Product) *EditSession {
	s := newEditSession(product, a.pipeline.Validate)

	a.mu.Lock()
	prev := a.session
	a.session = s
	a.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	return s
}

// Session returns the open edit session.
func (a *Adapter) Session() (*EditSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, ErrNoSession
	}
	return a.session, nil
}

// Save ingests the session's staged files and persists
// [remaining existing images..., newly ingested images...]. On success the
// session is closed; on failure it returns to Editing with its files intact.
func (a *Adapter) Save(ctx context.Context, s *EditSession) (*models.Product, error) {
	actor, ok := a.identity.Identity(ctx)
	if !ok {
		return nil, ErrAuthRequired
	}

	draft, existing, staged, err := s.beginSave()
	if err != nil {
		return nil, err
	}

	ingested, err := a.pipeline.IngestAll(ctx, rawFiles(staged))
	if err != nil {
		s.abortSave()
		return nil, err
	}

	images := make([]string, 0, len(existing)+len(ingested))
	images = append(images, existing...)
	images = append(images, payloads(ingested)...)

	product := &models.Product{
		ID:          s.ProductID(),
		Title:       draft.Title,
		Description: draft.Description,
		Price:       *draft.Price,
		Images:      images,
		Contacts:    CleanContacts(draft.Contacts),
		Status:      models.StatusActive,
	}
	if err := a.store.Update(ctx, product, actor); err != nil {
		s.abortSave()
		return nil, &StoreError{Op: "update", Err: err}
	}

	a.release(s)
	return product, nil
}

// Cancel closes s and releases its previews. It is safe to call more than once.
func (a *Adapter) Cancel(s *EditSession) {
	a.release(s)
}

// Delete irreversibly removes a product once the caller has confirmed it.
func (a *Adapter) Delete(ctx context.Context, productID string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	actor, ok := a.identity.Identity(ctx)
	if !ok {
		return ErrAuthRequired
	}

	if err := a.store.Delete(ctx, productID, actor); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	log.Printf("[catalog] %s deleted product %s", actor.ID, productID)
	return nil
}

func (a *Adapter) editing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func (a *Adapter) release(s *EditSession) {
	a.mu.Lock()
	if a.session == s {
		a.session = nil
	}
	a.mu.Unlock()
	s.close()
}

func payloads(images []ingest.EncodedImage) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.Payload
	}
	return out
}

// Registry hands out one Adapter per seller. An adapter lives while a request
// holds it or it has an open edit session.
type Registry struct {
	store    Store
	pipeline Ingester
	identity IdentityProvider

	mu       sync.Mutex
	adapters map[string]*registryEntry
}

type registryEntry struct {
	adapter *Adapter
	refs    int
}

// NewRegistry creates a Registry whose adapters share the given collaborators.
func NewRegistry(st Store, pipeline Ingester, identity IdentityProvider) *Registry {
	return &Registry{
		store:    st,
		pipeline: pipeline,
		identity: identity,
		adapters: make(map[string]*registryEntry),
	}
}

// Acquire returns the adapter for vendorID, creating it on first use. The
// caller must call release when done; release is safe to call more than once.
func (r *Registry) Acquire(vendorID string) (*Adapter, func()) {
	r.mu.Lock()
	e, ok := r.adapters[vendorID]
	if !ok {
		e = &registryEntry{adapter: New(r.store, r.pipeline, r.identity)}
		r.adapters[vendorID] = e
	}
	e.refs++
	r.mu.Unlock()

	var once sync.Once
	return e.adapter, func() {
		once.Do(func() { r.release(vendorID, e) })
	}
}

// Len returns the number of live adapters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters)
}

func (r *Registry) release(vendorID string, e *registryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.refs--
	if e.refs > 0 || e.adapter.editing() {
		return
	}
	if r.adapters[vendorID] == e {
		delete(r.adapters, vendorID)
	}
}
