// Package syncer moves data between a user's local working copy and the
// remote document store. Reads and bulk writes go straight to the remote
// store and surface its errors; local mutations are pushed later by Flush.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tillbook/api/internal/archive"
	"tillbook/api/internal/backup"
	"tillbook/api/internal/localstore"
	"tillbook/api/internal/metrics"
	"tillbook/api/internal/store"
)

var ErrAlreadySeeded = errors.New("user already has data")

// DocumentStore is the remote per-user document store.
type DocumentStore interface {
	FetchCollection(ctx context.Context, userID string, c store.Collection) ([]store.Document, error)
	SetDocument(ctx context.Context, userID string, c store.Collection, doc store.Document) error
	MergeDocument(ctx context.Context, userID string, c store.Collection, id string, patch store.Document) error
	DeleteDocument(ctx context.Context, userID string, c store.Collection, id string) error
	ApplyBatch(ctx context.Context, userID string, b store.Batch) error
	HasDocuments(ctx context.Context, userID string) (bool, error)
}

type Archiver interface {
	Commit(userID string, payload backup.Normalized, message string) (archive.Entry, error)
}

// Local is the part of localstore.Store that Flush needs.
type Local interface {
	Pending() []localstore.PendingOp
	MarkSynced(ctx context.Context, opID string)
	MarkFailed(ctx context.Context, opID string, cause error)
}

// Failure describes a local op the remote store rejected.
type Failure struct {
	UserID string
	Op     localstore.PendingOp
	Err    error
}

// Notifier receives push failures. It is called inline and must not block.
type Notifier func(Failure)

type Option func(*Syncer)

func WithArchive(a Archiver) Option {
	return func(s *Syncer) { s.archive = a }
}

func WithNotifier(n Notifier) Option {
	return func(s *Syncer) { s.notify = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

type Syncer struct {
	docs    DocumentStore
	archive Archiver
	notify  Notifier
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// one flush per user at a time, so pushes keep their local order
	flushLocks sync.Map
}

func New(docs DocumentStore, logger *zap.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		docs:   docs,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) FetchCollection(ctx context.Context, userID string, c store.Collection) ([]store.Document, error) {
	docs, err := s.docs.FetchCollection(ctx, userID, c)
	s.metrics.RecordSync("fetch", err)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c, err)
	}
	return docs, nil
}

// FetchSnapshot reads all six collections. Any failing read fails the whole
// call so a partial snapshot never replaces local data.
func (s *Syncer) FetchSnapshot(ctx context.Context, userID string) (store.Snapshot, error) {
	snapshot := store.NewSnapshot()
	for _, c := range store.AllCollections {
		docs, err := s.FetchCollection(ctx, userID, c)
		if err != nil {
			return nil, err
		}
		snapshot[c] = docs
	}
	return snapshot, nil
}

// SeedDefaults writes the starter dataset in one batch. Users that already
// have remote data are left alone.
func (s *Syncer) SeedDefaults(ctx context.Context, userID string) error {
	has, err := s.docs.HasDocuments(ctx, userID)
	if err != nil {
		return fmt.Errorf("check existing data: %w", err)
	}
	if has {
		return ErrAlreadySeeded
	}

	batch := snapshotBatch(StarterSnapshot(s.now()))
	err = s.docs.ApplyBatch(ctx, userID, batch)
	s.metrics.RecordSync("seed", err)
	if err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}
	s.logger.Info("seeded starter data", zap.String("user_id", userID), zap.Int("writes", batch.Len()))
	return nil
}

// RestoreResult is a restored payload plus the foreign keys in it that did
// not resolve. Those records are restored as they were.
type RestoreResult struct {
	Payload  backup.Normalized
	Dangling []store.ReferenceError
}

// RestoreFromBackup replaces every remote record of the user with the
// migrated payload in a single batch. When an archive is configured the
// current remote data is committed to it first; if that fails nothing is
// deleted.
func (s *Syncer) RestoreFromBackup(ctx context.Context, userID string, raw []byte) (RestoreResult, error) {
	payload, err := backup.Migrate(raw)
	if err != nil {
		return RestoreResult{}, err
	}
	dangling := store.CheckReferences(payload.Snapshot())
	if len(dangling) > 0 {
		s.logger.Warn("backup has dangling references",
			zap.String("user_id", userID),
			zap.Int("count", len(dangling)),
			zap.String("first", dangling[0].Error()),
		)
	}

	if s.archive != nil {
		current, err := s.FetchSnapshot(ctx, userID)
		if err != nil {
			return RestoreResult{}, fmt.Errorf("read data to archive: %w", err)
		}
		entry, err := s.archive.Commit(userID, backup.FromSnapshot(current), "Before restore")
		if err != nil {
			return RestoreResult{}, fmt.Errorf("archive current data: %w", err)
		}
		s.logger.Info("archived data before restore", zap.String("user_id", userID), zap.String("hash", entry.Hash))
	}

	var batch store.Batch
	for _, c := range store.AllCollections {
		batch.DeleteCollection(c)
	}
	restored := snapshotBatch(payload.Snapshot())
	for _, op := range restored.Ops() {
		batch.Set(op.Collection, op.Data)
	}

	err = s.docs.ApplyBatch(ctx, userID, batch)
	s.metrics.RecordSync("restore", err)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("restore backup: %w", err)
	}
	s.logger.Info("restored backup", zap.String("user_id", userID), zap.Int("records", restored.Len()))
	if dangling == nil {
		dangling = []store.ReferenceError{}
	}
	return RestoreResult{Payload: payload, Dangling: dangling}, nil
}

// snapshotBatch sets every record of s. Records are written oldest first so
// the remote newest-first order matches the order in s.
func snapshotBatch(s store.Snapshot) store.Batch {
	var batch store.Batch
	for _, c := range store.AllCollections {
		docs := s[c]
		for i := len(docs) - 1; i >= 0; i-- {
			batch.Set(c, docs[i])
		}
	}
	return batch
}

func (s *Syncer) AddDocument(ctx context.Context, userID string, c store.Collection, doc store.Document) error {
	err := s.docs.SetDocument(ctx, userID, c, doc)
	s.metrics.RecordSync("add", err)
	if err != nil {
		return fmt.Errorf("add %s: %w", c.Singular(), err)
	}
	return nil
}

// UpdateDocument merges patch into the remote record; fields not in patch
// are left untouched.
func (s *Syncer) UpdateDocument(ctx context.Context, userID string, c store.Collection, id string, patch store.Document) error {
	err := s.docs.MergeDocument(ctx, userID, c, id, patch)
	s.metrics.RecordSync("update", err)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", c.Singular(), id, err)
	}
	return nil
}

func (s *Syncer) DeleteDocument(ctx context.Context, userID string, c store.Collection, id string) error {
	err := s.docs.DeleteDocument(ctx, userID, c, id)
	s.metrics.RecordSync("delete", err)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", c.Singular(), id, err)
	}
	return nil
}

// Lock holds off flushes for userID until the returned func is called.
// Callers that replace remote and local data wholesale hold it so no pending
// op read before the replace is pushed after it. Flush must not be called
// while holding it.
func (s *Syncer) Lock(userID string) (unlock func()) {
	lock, _ := s.flushLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

type FlushResult struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`
}

// Flush pushes local pending ops to the remote store in the order they were
// made. Once an op fails, later ops on the same record wait for the next
// flush. Local data is never rolled back.
func (s *Syncer) Flush(ctx context.Context, userID string, local Local) FlushResult {
	unlock := s.Lock(userID)
	defer unlock()

	var result FlushResult
	blocked := make(map[string]struct{})

	for _, op := range local.Pending() {
		if ctx.Err() != nil {
			break
		}
		key := string(op.Collection) + "/" + op.DocID
		if _, ok := blocked[key]; ok {
			result.Skipped++
			continue
		}

		if err := s.push(ctx, userID, op); err != nil {
			blocked[key] = struct{}{}
			result.Failed++
			local.MarkFailed(ctx, op.ID, err)
			s.logger.Warn("remote sync failed",
				zap.String("user_id", userID),
				zap.String("collection", string(op.Collection)),
				zap.String("doc_id", op.DocID),
				zap.String("kind", string(op.Kind)),
				zap.Int("attempt", op.Attempts+1),
				zap.Error(err),
			)
			if s.notify != nil {
				s.notify(Failure{UserID: userID, Op: op, Err: err})
			}
			continue
		}
		result.Synced++
		local.MarkSynced(ctx, op.ID)
	}

	result.Pending = len(local.Pending())
	s.metrics.SetPending(result.Pending)
	return result
}

func (s *Syncer) push(ctx context.Context, userID string, op localstore.PendingOp) error {
	switch op.Kind {
	case localstore.OpAdd:
		doc := op.Fields.Clone()
		doc["id"] = op.DocID
		return s.AddDocument(ctx, userID, op.Collection, doc)
	case localstore.OpUpdate:
		return s.UpdateDocument(ctx, userID, op.Collection, op.DocID, op.Fields)
	case localstore.OpDelete:
		return s.DeleteDocument(ctx, userID, op.Collection, op.DocID)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
}
