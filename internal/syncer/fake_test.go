package syncer

import (
	"context"
	"errors"
	"sync"

	"tillbook/api/internal/archive"
	"tillbook/api/internal/backup"
	"tillbook/api/internal/store"
)

var errRemoteDown = errors.New("remote unavailable")

// memoryDocs applies batches copy-on-write, so a failing batch leaves no
// trace, like a rolled back transaction.
type memoryDocs struct {
	mu    sync.Mutex
	users map[string]store.Snapshot

	fetchErr   error
	batchErr   error
	failAfter  int
	failDocIDs map[string]bool
	batches    int
}

func newMemoryDocs() *memoryDocs {
	return &memoryDocs{users: make(map[string]store.Snapshot), failAfter: -1, failDocIDs: map[string]bool{}}
}

func (m *memoryDocs) snapshot(userID string) store.Snapshot {
	if s, ok := m.users[userID]; ok {
		return s
	}
	return store.NewSnapshot()
}

func (m *memoryDocs) FetchCollection(_ context.Context, userID string, c store.Collection) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	docs := m.snapshot(userID)[c]
	out := make([]store.Document, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		out = append(out, docs[i].Clone())
	}
	return out, nil
}

func (m *memoryDocs) single(ctx context.Context, userID string, id string, build func(*store.Batch)) error {
	m.mu.Lock()
	failing := m.failDocIDs[id]
	m.mu.Unlock()
	if failing {
		return errRemoteDown
	}
	var b store.Batch
	build(&b)
	return m.ApplyBatch(ctx, userID, b)
}

func (m *memoryDocs) SetDocument(ctx context.Context, userID string, c store.Collection, doc store.Document) error {
	return m.single(ctx, userID, doc.ID(), func(b *store.Batch) { b.Set(c, doc) })
}

func (m *memoryDocs) MergeDocument(ctx context.Context, userID string, c store.Collection, id string, patch store.Document) error {
	return m.single(ctx, userID, id, func(b *store.Batch) { b.Merge(c, id, patch) })
}

func (m *memoryDocs) DeleteDocument(ctx context.Context, userID string, c store.Collection, id string) error {
	return m.single(ctx, userID, id, func(b *store.Batch) { b.Delete(c, id) })
}

func (m *memoryDocs) ApplyBatch(_ context.Context, userID string, b store.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.batchErr != nil {
		return m.batchErr
	}
	if m.failAfter >= 0 && b.Len() > m.failAfter {
		var partial store.Batch
		for _, op := range b.Ops()[:m.failAfter] {
			switch op.Kind {
			case store.OpSet:
				partial.Set(op.Collection, op.Data)
			case store.OpDeleteCollection:
				partial.DeleteCollection(op.Collection)
			}
		}
		// the partial result is computed and thrown away, as a rollback would
		if _, err := partial.ApplyToSnapshot(m.snapshot(userID)); err != nil {
			return err
		}
		return errRemoteDown
	}
	next, err := b.ApplyToSnapshot(m.snapshot(userID))
	if err != nil {
		return err
	}
	m.users[userID] = next
	return nil
}

func (m *memoryDocs) HasDocuments(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return false, m.fetchErr
	}
	return m.snapshot(userID).Count() > 0, nil
}

type fakeArchive struct {
	commitFn func(userID string, payload backup.Normalized, message string) (archive.Entry, error)
}

func (f fakeArchive) Commit(userID string, payload backup.Normalized, message string) (archive.Entry, error) {
	return f.commitFn(userID, payload, message)
}
