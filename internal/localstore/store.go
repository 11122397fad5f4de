// Package localstore keeps the per-user working copy of every collection.
// Reads are served from memory; every mutation is written through to a Slot
// and queued as a pending op for the remote synchronizer.
package localstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tillbook/api/internal/store"
	"tillbook/api/internal/util"
)

type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// PendingOp is a local mutation the remote store has not confirmed yet.
type PendingOp struct {
	ID         string           `json:"id"`
	Collection store.Collection `json:"collection"`
	DocID      string           `json:"docId"`
	Kind       OpKind           `json:"kind"`
	Fields     store.Document   `json:"fields,omitempty"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"lastError,omitempty"`
	QueuedAt   time.Time        `json:"queuedAt"`
}

type state struct {
	Collections store.Snapshot `json:"collections"`
	Pending     []PendingOp    `json:"pending"`
}

func emptyState() state {
	return state{Collections: store.NewSnapshot(), Pending: []PendingOp{}}
}

type Store struct {
	slot   Slot
	logger *zap.Logger
	origin string
	newID  func(collection string) string
	now    func() time.Time

	mu    sync.RWMutex
	state state
}

func New(slot Slot, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		slot:   slot,
		logger: logger,
		origin: uuid.NewString(),
		newID:  util.NewID,
		now:    time.Now,
		state:  emptyState(),
	}
}

// Open loads the persisted snapshot. Missing or unreadable data leaves the
// store empty. The result reports whether a snapshot was found.
func (s *Store) Open(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded, found := s.load(ctx)
	s.state = loaded
	return found
}

func (s *Store) load(ctx context.Context) (state, bool) {
	raw, err := s.slot.Load(ctx)
	if err != nil {
		s.logger.Warn("local snapshot unavailable, starting empty", zap.Error(err))
		return emptyState(), false
	}
	if raw == nil {
		return emptyState(), false
	}
	var loaded state
	if err := json.Unmarshal(raw, &loaded); err != nil {
		s.logger.Warn("local snapshot is corrupt, starting empty", zap.Error(err))
		return emptyState(), false
	}
	loaded.Collections = loaded.Collections.Normalize()
	if loaded.Pending == nil {
		loaded.Pending = []PendingOp{}
	}
	return loaded, true
}

// Watch re-reads the slot whenever another view saves it. It blocks until
// ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	changes, err := s.slot.Subscribe(ctx)
	if err != nil {
		return err
	}
	s.Open(ctx)
	for origin := range changes {
		if origin == s.origin {
			continue
		}
		s.Open(ctx)
	}
	return ctx.Err()
}

// List returns copies of the records in c, newest first.
func (s *Store) List(c store.Collection) []store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.state.Collections[c]
	out := make([]store.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out
}

func (s *Store) Get(c store.Collection, id string) (store.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.state.Collections[c] {
		if doc.ID() == id {
			return doc.Clone(), true
		}
	}
	return nil, false
}

// Snapshot returns a copy of every collection.
func (s *Store) Snapshot() store.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Collections.Clone()
}

// Add stores doc under a fresh id and returns the stored record. Any id on
// the input is ignored.
func (s *Store) Add(ctx context.Context, c store.Collection, doc store.Document) store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.state.Collections[c]
	id := s.freshID(c, docs)
	record := doc.Clone()
	record["id"] = id

	s.state.Collections[c] = append([]store.Document{record}, docs...)
	s.enqueue(c, id, OpAdd, record)
	s.persist(ctx)
	return record.Clone()
}

func (s *Store) freshID(c store.Collection, docs []store.Document) string {
	for {
		id := s.newID(string(c))
		taken := false
		for _, doc := range docs {
			if doc.ID() == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

// Update merges partial into the record with the given id. The id itself is
// never changed. A missing id is a no-op.
func (s *Store) Update(ctx context.Context, c store.Collection, id string, partial store.Document) (store.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.state.Collections[c]
	for i, doc := range docs {
		if doc.ID() != id {
			continue
		}
		merged := doc.Merge(partial)
		updated := make([]store.Document, len(docs))
		copy(updated, docs)
		updated[i] = merged
		s.state.Collections[c] = updated

		fields := partial.Clone()
		delete(fields, "id")
		s.enqueue(c, id, OpUpdate, fields)
		s.persist(ctx)
		return merged.Clone(), true
	}
	return nil, false
}

// Remove drops the record with the given id. A missing id is a no-op.
func (s *Store) Remove(ctx context.Context, c store.Collection, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.state.Collections[c]
	kept := make([]store.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID() != id {
			kept = append(kept, doc)
		}
	}
	if len(kept) == len(docs) {
		return false
	}
	s.state.Collections[c] = kept
	s.enqueue(c, id, OpDelete, nil)
	s.persist(ctx)
	return true
}

// Replace swaps the whole snapshot, typically with data just read from the
// remote store. Pending ops are dropped since the remote state is now the
// source of truth.
func (s *Store) Replace(ctx context.Context, snapshot store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state{Collections: snapshot.Normalize().Clone(), Pending: []PendingOp{}}
	s.persist(ctx)
}

// Pending returns the queued ops in the order they were made.
func (s *Store) Pending() []PendingOp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingOp, len(s.state.Pending))
	for i, op := range s.state.Pending {
		out[i] = op
		if op.Fields != nil {
			out[i].Fields = op.Fields.Clone()
		}
	}
	return out
}

// MarkSynced removes a confirmed op. Unknown ids are ignored.
func (s *Store) MarkSynced(ctx context.Context, opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range s.state.Pending {
		if op.ID == opID {
			s.state.Pending = append(s.state.Pending[:i:i], s.state.Pending[i+1:]...)
			s.persist(ctx)
			return
		}
	}
}

// MarkFailed records a failed push attempt; the op stays queued.
func (s *Store) MarkFailed(ctx context.Context, opID string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Pending {
		if s.state.Pending[i].ID != opID {
			continue
		}
		s.state.Pending[i].Attempts++
		if cause != nil {
			s.state.Pending[i].LastError = cause.Error()
		}
		s.persist(ctx)
		return
	}
}

func (s *Store) enqueue(c store.Collection, docID string, kind OpKind, fields store.Document) {
	op := PendingOp{
		ID:         uuid.NewString(),
		Collection: c,
		DocID:      docID,
		Kind:       kind,
		QueuedAt:   s.now().UTC(),
	}
	if fields != nil {
		op.Fields = fields.Clone()
	}
	s.state.Pending = append(s.state.Pending, op)
}

// persist must be called with mu held.
func (s *Store) persist(ctx context.Context) {
	raw, err := json.Marshal(s.state)
	if err != nil {
		s.logger.Warn("encode local snapshot", zap.Error(err))
		return
	}
	if err := s.slot.Save(ctx, raw, s.origin); err != nil {
		s.logger.Warn("persist local snapshot", zap.Error(err))
	}
}
