package index

import (
	"sort"
	"sync"
)

// Document is a stored, immutable record. Mutations never modify a Document
// in place; they install a replacement with an incremented Version, which is
// what makes cheap point-in-time snapshots safe.
type Document struct {
	ID      string
	Version int64
	Fields  Fields
}

// Store is the in-memory document store for a single index. It follows a
// single-writer-multiple-reader discipline: mutations are serialized under
// the write lock while any number of readers take snapshots concurrently.
type Store struct {
	mu       sync.RWMutex
	schema   *Schema
	docs     map[string]*Document
	versions map[string]int64
	gen      uint64
}

// NewStore creates an empty store bound to the given schema.
func NewStore(schema *Schema) *Store {
	return &Store{
		schema:   schema,
		docs:     make(map[string]*Document),
		versions: make(map[string]int64),
	}
}

// Schema returns the store's field-type mapping.
func (s *Store) Schema() *Schema {
	return s.schema
}

// Len returns the number of live documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Generation returns the mutation generation counter. It increases on every
// committed mutation and keys cache entries to the state they were computed
// against.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Snapshot is a fixed, consistent point-in-time view of the store. The
// document map is copied shallowly; the documents themselves are immutable,
// so a snapshot stays valid regardless of concurrent mutations.
type Snapshot struct {
	gen    uint64
	schema *Schema
	docs   map[string]*Document
	ids    []string
}

// Snapshot captures the current committed state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make(map[string]*Document, len(s.docs))
	ids := make([]string, 0, len(s.docs))
	for id, doc := range s.docs {
		docs[id] = doc
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Snapshot{
		gen:    s.gen,
		schema: s.schema,
		docs:   docs,
		ids:    ids,
	}
}

// Generation returns the store generation the snapshot was taken at.
func (sn *Snapshot) Generation() uint64 {
	return sn.gen
}

// Schema returns the field-type mapping the snapshot was taken under.
func (sn *Snapshot) Schema() *Schema {
	return sn.schema
}

// Get returns the document with the given identifier, if present.
func (sn *Snapshot) Get(id string) (*Document, bool) {
	doc, ok := sn.docs[id]
	return doc, ok
}

// IDs returns all document identifiers in ascending order. Callers must not
// modify the returned slice.
func (sn *Snapshot) IDs() []string {
	return sn.ids
}

// Len returns the number of documents in the snapshot.
func (sn *Snapshot) Len() int {
	return len(sn.ids)
}
