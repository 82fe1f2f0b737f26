package catalog

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthRequired  = errors.New("please log in to continue")
	ErrStore         = errors.New("store request failed")
	ErrSessionClosed = errors.New("edit session is closed")
	ErrSessionBusy   = errors.New("edit session is being saved")
	ErrNotConfirmed  = errors.New("deletion was not confirmed")
	ErrNoSession     = errors.New("no product is being edited")
)

// ValidationError lists the offending fields of a draft, keyed by their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError reports a failed store call. Its message is the store's own.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}
