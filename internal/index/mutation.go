package index

import (
	"github.com/google/uuid"

	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
	"github.com/Muntasir-Arin/es-in-action/pkg/logger"
)

// OpType identifies a mutation operation.
type OpType string

const (
	OpIndex  OpType = "index"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is a single mutation against the store. Fields holds the
// decoded-JSON document body for index and update operations. Upsert makes
// an update create the document when it does not exist.
type Operation struct {
	Type   OpType
	ID     string
	Fields map[string]any
	Upsert bool
}

// Status values reported per operation.
const (
	StatusCreated  = "created"
	StatusUpdated  = "updated"
	StatusDeleted  = "deleted"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Result is the per-operation outcome. Err is set only when Status is
// StatusError or the update target was missing.
type Result struct {
	ID      string
	Version int64
	Status  string
	Err     error
}

// Apply executes one mutation. Index is create-or-replace and generates an
// identifier when none is supplied. Update shallow-merges the supplied
// fields and fails with DocumentNotFound unless upsert was requested.
// Delete is idempotent: a missing target reports not_found without error.
// Versions increase monotonically per identifier, surviving delete so a
// re-indexed document never reuses an old version.
func (s *Store) Apply(op Operation) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.applyLocked(op)
	if res.Status != StatusError {
		s.gen++
	}
	logger.WithComponent("mutation-log").Debug("mutation applied",
		"op", string(op.Type),
		"doc_id", res.ID,
		"version", res.Version,
		"status", res.Status,
	)
	return res
}

// ApplyBulk executes a batch of mixed operations. Outcomes are independent
// and order-preserving: one operation's failure never aborts the others.
func (s *Store) ApplyBulk(ops []Operation) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]Result, len(ops))
	mutated := false
	for i, op := range ops {
		results[i] = s.applyLocked(op)
		if results[i].Status != StatusError {
			mutated = true
		}
	}
	if mutated {
		s.gen++
	}
	return results
}

func (s *Store) applyLocked(op Operation) Result {
	switch op.Type {
	case OpIndex:
		return s.indexLocked(op)
	case OpUpdate:
		return s.updateLocked(op)
	case OpDelete:
		return s.deleteLocked(op)
	default:
		return Result{
			ID:     op.ID,
			Status: StatusError,
			Err:    apperrors.Newf(apperrors.ErrInvalidInput, 400, "unknown operation %q", op.Type),
		}
	}
}

func (s *Store) indexLocked(op Operation) Result {
	id := op.ID
	if id == "" {
		id = uuid.NewString()
	}
	fields, err := s.schema.Convert(op.Fields)
	if err != nil {
		return Result{ID: id, Status: StatusError, Err: err}
	}
	version := s.versions[id] + 1
	_, existed := s.docs[id]
	s.docs[id] = &Document{ID: id, Version: version, Fields: fields}
	s.versions[id] = version
	status := StatusCreated
	if existed {
		status = StatusUpdated
	}
	return Result{ID: id, Version: version, Status: status}
}

func (s *Store) updateLocked(op Operation) Result {
	if op.ID == "" {
		return Result{
			Status: StatusError,
			Err:    apperrors.New(apperrors.ErrInvalidInput, 400, "update requires a document id"),
		}
	}
	existing, ok := s.docs[op.ID]
	if !ok {
		if !op.Upsert {
			return Result{
				ID:     op.ID,
				Status: StatusError,
				Err:    apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %q does not exist", op.ID),
			}
		}
		return s.indexLocked(Operation{Type: OpIndex, ID: op.ID, Fields: op.Fields})
	}
	patch, err := s.schema.Convert(op.Fields)
	if err != nil {
		return Result{ID: op.ID, Status: StatusError, Err: err}
	}
	merged := make(Fields, len(existing.Fields)+len(patch))
	for k, v := range existing.Fields {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	version := s.versions[op.ID] + 1
	s.docs[op.ID] = &Document{ID: op.ID, Version: version, Fields: merged}
	s.versions[op.ID] = version
	return Result{ID: op.ID, Version: version, Status: StatusUpdated}
}

func (s *Store) deleteLocked(op Operation) Result {
	if _, ok := s.docs[op.ID]; !ok {
		return Result{ID: op.ID, Version: s.versions[op.ID], Status: StatusNotFound}
	}
	version := s.versions[op.ID] + 1
	delete(s.docs, op.ID)
	s.versions[op.ID] = version
	return Result{ID: op.ID, Version: version, Status: StatusDeleted}
}
