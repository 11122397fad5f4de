package search

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"tillbook/api/internal/store"
)

// Service is the facade that tries the index first and falls back to PG FTS.
type Service struct {
	index    Indexer
	fallback Searcher
	loader   func(ctx context.Context) ([]Record, error)
	logger   *zap.Logger
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Indexer, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{index: index, logger: logger}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if strings.TrimSpace(q.Text) == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("index search failed, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes one record (fire-and-forget).
func (s *Service) IndexDocument(userID string, c store.Collection, doc store.Document) {
	record, ok := RecordFromDocument(userID, c, doc)
	if !ok || !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexRecords([]Record{record}); err != nil {
			s.logger.Warn("index record failed", zap.String("collection", string(c)), zap.String("id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteDocument removes one record from the index (fire-and-forget).
func (s *Service) DeleteDocument(userID string, c store.Collection, id string) {
	if _, ok := resultTypeOf(c); !ok || !s.indexReady() {
		return
	}
	key := RecordKey(userID, c, id)
	go func() {
		if err := s.index.DeleteRecords([]string{key}); err != nil {
			s.logger.Warn("delete record failed", zap.String("collection", string(c)), zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReplaceUser reindexes a user's records after their data was swapped
// wholesale, dropping records that are gone (fire-and-forget).
func (s *Service) ReplaceUser(userID string, before, after store.Snapshot) {
	if !s.indexReady() {
		return
	}

	keep := map[string]struct{}{}
	var records []Record
	for c, docs := range after {
		for _, doc := range docs {
			if r, ok := RecordFromDocument(userID, c, doc); ok {
				records = append(records, r)
				keep[r.Key] = struct{}{}
			}
		}
	}
	var stale []string
	for c, docs := range before {
		for _, doc := range docs {
			if r, ok := RecordFromDocument(userID, c, doc); ok {
				if _, kept := keep[r.Key]; !kept {
					stale = append(stale, r.Key)
				}
			}
		}
	}

	go func() {
		if err := s.index.IndexRecords(records); err != nil {
			s.logger.Warn("reindex user failed", zap.String("user_id", userID), zap.Error(err))
		}
		if len(stale) > 0 {
			if err := s.index.DeleteRecords(stale); err != nil {
				s.logger.Warn("drop stale records failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}()
}

// ReindexAllFromPG reindexes all searchable records from PostgreSQL.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.index.IndexRecords(records); err != nil {
		s.logger.Warn("reindex failed", zap.Error(err))
		return
	}
	s.logger.Info("search index rebuilt", zap.Int("records", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
