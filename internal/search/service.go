package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Service is the facade that tries the primary index first and falls back to
// Postgres full-text search.
type Service struct {
	primary    primaryIndex
	fallback   Searcher
	logger     *zap.Logger
	onFallback func()
	wg         sync.WaitGroup
}

type primaryIndex interface {
	Searcher
	Indexer
}

// Loader supplies every record for a full reindex.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]ClergyRecord, []WikiRecord, error)
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary *Meili, fallback *PgFTS, logger *zap.Logger) *Service {
	var idx primaryIndex
	if primary != nil {
		idx = primary
	}
	var fb Searcher
	if fallback != nil {
		fb = fallback
	}
	return newService(idx, fb, logger)
}

func newService(primary primaryIndex, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger, onFallback: func() {}}
}

// OnFallback registers a hook called whenever a search is served by the fallback.
func (s *Service) OnFallback(fn func()) {
	if fn != nil {
		s.onFallback = fn
	}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary index if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	s.onFallback()
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

// IndexClergy pushes one clergy record to the primary index in the background.
func (s *Service) IndexClergy(record ClergyRecord) {
	s.async("index clergy", record.ID, func(idx primaryIndex) error {
		return idx.IndexClergy([]ClergyRecord{record})
	})
}

func (s *Service) IndexWiki(record WikiRecord) {
	s.async("index wiki page", record.ID, func(idx primaryIndex) error {
		return idx.IndexWiki([]WikiRecord{record})
	})
}

func (s *Service) DeleteClergy(id string) {
	s.async("delete clergy", id, func(idx primaryIndex) error {
		return idx.DeleteClergy(id)
	})
}

func (s *Service) async(op, id string, fn func(primaryIndex) error) {
	if !s.primaryReady() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.primary); err != nil {
			s.logger.Warn("search "+op+" failed", zap.String("id", id), zap.Error(err))
		}
	}()
}

// Wait blocks until background index writes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// ReindexAll loads every record and pushes it to the primary index.
func (s *Service) ReindexAll(ctx context.Context, loader Loader) {
	if !s.primaryReady() || loader == nil {
		return
	}
	clergy, pages, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("search reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexClergy(clergy); err != nil {
		s.logger.Error("search reindex clergy failed", zap.Error(err))
	}
	if err := s.primary.IndexWiki(pages); err != nil {
		s.logger.Error("search reindex wiki failed", zap.Error(err))
	}
	s.logger.Info("search reindexed", zap.Int("clergy", len(clergy)), zap.Int("wiki", len(pages)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
