package catalog

import (
	"fmt"
	"sync"

	"handmade/internal/ingest"
	"handmade/internal/models"

	"github.com/google/uuid"
)

// SessionState is the lifecycle of an EditSession.
type SessionState int

const (
	Editing SessionState = iota
	Saving
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Editing:
		return "editing"
	case Saving:
		return "saving"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// EntryKind tells persisted images apart from newly staged files.
type EntryKind string

const (
	Existing EntryKind = "existing"
	Staged   EntryKind = "staged"
)

// ImageEntry is one image in an edit session, in display order.
// Existing entries carry the stored payload; Staged entries carry the local
// file and its preview id.
type ImageEntry struct {
	Kind      EntryKind   `json:"kind"`
	Payload   string      `json:"payload,omitempty"`
	File      ingest.File `json:"-"`
	PreviewID string      `json:"previewId,omitempty"`
}

// EditSession is a local fork of one product. Pushes from the store never
// touch it; only Save and Cancel reconcile it.
type EditSession struct {
	id        string
	productID string
	draft     DraftProduct
	entries   []ImageEntry
	state     SessionState
	previews  *PreviewPool
	validate  func(ingest.File) error
	mu        sync.Mutex
}

func newEditSession(p *models.Product, validate func(ingest.File) error) *EditSession {
	price := p.Price
	s := &EditSession{
		id:        uuid.New().String(),
		productID: p.ID,
		draft: DraftProduct{
			Title:       p.Title,
			Description: p.Description,
			Price:       &price,
			Contacts:    append([]string(nil), p.Contacts...),
		},
		state:    Editing,
		previews: NewPreviewPool(),
		validate: validate,
	}
	for _, payload := range p.Images {
		s.entries = append(s.entries, ImageEntry{Kind: Existing, Payload: payload})
	}
	return s
}

// ID returns the session id.
func (s *EditSession) ID() string { return s.id }

// ProductID returns the id of the product being edited.
func (s *EditSession) ProductID() string { return s.productID }

// Previews exposes the pool holding this session's staged files.
func (s *EditSession) Previews() *PreviewPool { return s.previews }

// State returns the current lifecycle state.
func (s *EditSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Draft returns a copy of the edited fields.
func (s *EditSession) Draft() DraftProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.clone()
}

// SetDraft replaces the edited fields.
func (s *EditSession) SetDraft(d DraftProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.draft = d.clone()
	return nil
}

// Entries returns a copy of the image list in display order.
func (s *EditSession) Entries() []ImageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ImageEntry(nil), s.entries...)
}

// Existing returns the payloads of the persisted images still kept.
func (s *EditSession) Existing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, e := range s.entries {
		if e.Kind == Existing {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Staged returns the newly selected files still kept.
func (s *EditSession) Staged() []StagedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged()
}

// Stage validates and appends files after the current images.
func (s *EditSession) Stage(files ...ingest.File) ([]Rejection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return nil, err
	}

	var rejected []Rejection
	for _, f := range files {
		if err := s.validate(f); err != nil {
			rejected = append(rejected, Rejection{Name: f.Name, Err: err})
			continue
		}
		s.entries = append(s.entries, ImageEntry{Kind: Staged, File: f, PreviewID: s.previews.Acquire(f)})
	}
	return rejected, nil
}

// RemoveImage removes exactly the entry shown at displayIndex.
func (s *EditSession) RemoveImage(displayIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if displayIndex < 0 || displayIndex >= len(s.entries) {
		return &ValidationError{Fields: map[string]string{
			"images": fmt.Sprintf("no image at position %d", displayIndex),
		}}
	}

	e := s.entries[displayIndex]
	if e.Kind == Staged {
		s.previews.Release(e.PreviewID)
	}
	s.entries = append(s.entries[:displayIndex], s.entries[displayIndex+1:]...)
	return nil
}

func (s *EditSession) editable() error {
	switch s.state {
	case Closed:
		return ErrSessionClosed
	case Saving:
		return ErrSessionBusy
	}
	return nil
}

func (s *EditSession) staged() []StagedFile {
	var out []StagedFile
	for _, e := range s.entries {
		if e.Kind == Staged {
			out = append(out, StagedFile{File: e.File, PreviewID: e.PreviewID})
		}
	}
	return out
}

// beginSave validates the session and moves it to Saving, returning what must
// be persisted.
func (s *EditSession) beginSave() (DraftProduct, []string, []StagedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return DraftProduct{}, nil, nil, err
	}
	if err := s.draft.Validate(len(s.entries)); err != nil {
		return DraftProduct{}, nil, nil, err
	}

	var existing []string
	for _, e := range s.entries {
		if e.Kind == Existing {
			existing = append(existing, e.Payload)
		}
	}
	s.state = Saving
	return s.draft.clone(), existing, s.staged(), nil
}

// abortSave returns a failed save to Editing with the staged files intact.
func (s *EditSession) abortSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Saving {
		s.state = Editing
	}
}

// close ends the session and releases every preview. It reports whether this
// call did the closing.
func (s *EditSession) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return false
	}
	s.state = Closed
	s.entries = nil
	s.previews.ReleaseAll()
	return true
}
