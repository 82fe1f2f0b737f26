package catalog

import (
	"fmt"
	"sync"

	"handmade/internal/ingest"
)

// StagedFile is a selected file that has not been ingested yet.
type StagedFile struct {
	File      ingest.File `json:"-"`
	PreviewID string      `json:"previewId"`
}

// Rejection names a file that was refused at selection time.
type Rejection struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Staging collects the files selected on the create form.
type Staging struct {
	files    []StagedFile
	previews *PreviewPool
	validate func(ingest.File) error
	mu       sync.Mutex
}

func newStaging(validate func(ingest.File) error) *Staging {
	return &Staging{
		previews: NewPreviewPool(),
		validate: validate,
	}
}

// Stage validates and appends files; refused files are reported and skipped.
func (s *Staging) Stage(files ...ingest.File) []Rejection {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rejected []Rejection
	for _, f := range files {
		if err := s.validate(f); err != nil {
			rejected = append(rejected, Rejection{Name: f.Name, Err: err})
			continue
		}
		s.files = append(s.files, StagedFile{File: f, PreviewID: s.previews.Acquire(f)})
	}
	return rejected
}

// Remove drops the file at index and releases its preview.
func (s *Staging) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.files) {
		return fmt.Errorf("%w: no staged image at index %d", ErrValidation, index)
	}
	s.previews.Release(s.files[index].PreviewID)
	s.files = append(s.files[:index], s.files[index+1:]...)
	return nil
}

// Files returns a copy of the staged files in selection order.
func (s *Staging) Files() []StagedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StagedFile(nil), s.files...)
}

// Len returns the number of staged files.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Previews exposes the pool backing this staging area.
func (s *Staging) Previews() *PreviewPool {
	return s.previews
}

// Clear drops every staged file and releases all previews.
func (s *Staging) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
	s.previews.ReleaseAll()
}

func rawFiles(staged []StagedFile) []ingest.File {
	files := make([]ingest.File, len(staged))
	for i, sf := range staged {
		files[i] = sf.File
	}
	return files
}
