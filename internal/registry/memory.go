package registry

import (
	"context"
	"encoding/json"
	"sync"

	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
)

// MemoryStore is the in-memory test double behind the same Store contract.
// Documents are deep-copied on the way in and out so callers cannot alias
// store-owned state.
type MemoryStore struct {
	mu  sync.Mutex
	doc *Document

	// SaveCount tracks persistence calls for assertions.
	SaveCount int
	// FailLoad and FailSave force storage errors.
	FailLoad error
	FailSave error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLoad != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, s.FailLoad, "load registry document")
	}
	if s.doc == nil {
		s.doc = NewDocument()
	}
	return copyDocument(s.doc)
}

func (s *MemoryStore) Save(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, s.FailSave, "save registry document")
	}
	copied, err := copyDocument(doc)
	if err != nil {
		return err
	}
	s.doc = copied
	s.SaveCount++
	return nil
}

// Snapshot returns a copy of the stored document for assertions.
func (s *MemoryStore) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return NewDocument()
	}
	copied, err := copyDocument(s.doc)
	if err != nil {
		return NewDocument()
	}
	return copied
}

func copyDocument(doc *Document) (*Document, error) {
	if doc == nil {
		return NewDocument(), nil
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "copy registry document")
	}
	copied := NewDocument()
	if err := json.Unmarshal(payload, copied); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "copy registry document")
	}
	if copied.Donations == nil {
		copied.Donations = []Donation{}
	}
	if copied.Identities == nil {
		copied.Identities = []Identity{}
	}
	if copied.Orders == nil {
		copied.Orders = []Order{}
	}
	return copied, nil
}
