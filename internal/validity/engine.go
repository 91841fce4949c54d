package validity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSummaryUnavailable marks a bishop summary that could not be fetched.
var ErrSummaryUnavailable = errors.New("bishop summary unavailable")

// Source fetches a bishop's validity summary.
type Source interface {
	FetchSummary(ctx context.Context, bishopID string) (Summary, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, bishopID string) (Summary, error)

func (f SourceFunc) FetchSummary(ctx context.Context, bishopID string) (Summary, error) {
	return f(ctx, bishopID)
}

// Cache holds resolved summaries. Clear with no ids empties the cache.
type Cache interface {
	Get(ctx context.Context, bishopID string) (Summary, bool, error)
	Set(ctx context.Context, bishopID string, summary Summary) error
	Clear(ctx context.Context, bishopIDs ...string) error
}

// Observer receives engine events for metrics.
type Observer interface {
	SummaryLookup(hit bool)
	Violation(kind Kind)
}

type nopObserver struct{}

func (nopObserver) SummaryLookup(bool) {}
func (nopObserver) Violation(Kind)     {}

// Lookup is the outcome of resolving one bishop summary.
type Lookup struct {
	BishopID string
	Summary  Summary
	Err      error
}

// Restriction returns the summary to restrict against, or nil when the fetch
// failed. A nil summary allows every status.
func (l Lookup) Restriction() *Summary {
	if l.Err != nil {
		return nil
	}
	summary := l.Summary
	return &summary
}

// MemoryCache is a process-local summary cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]Summary
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]Summary{}}
}

func (c *MemoryCache) Get(_ context.Context, bishopID string) (Summary, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	summary, ok := c.items[bishopID]
	return summary, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, bishopID string, summary Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[bishopID] = summary
	return nil
}

func (c *MemoryCache) Clear(_ context.Context, bishopIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(bishopIDs) == 0 {
		c.items = map[string]Summary{}
		return nil
	}
	for _, id := range bishopIDs {
		delete(c.items, id)
	}
	return nil
}

// Engine resolves bishop summaries through a cache and applies them to forms
// and rosters.
type Engine struct {
	source      Source
	cache       Cache
	logger      *zap.Logger
	observer    Observer
	concurrency int
}

type EngineOption func(*Engine)

func WithCache(cache Cache) EngineOption {
	return func(e *Engine) {
		if cache != nil {
			e.cache = cache
		}
	}
}

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// WithConcurrency bounds the number of summaries fetched at once.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEngine(source Source, opts ...EngineOption) *Engine {
	e := &Engine{
		source:      source,
		cache:       NewMemoryCache(),
		logger:      zap.NewNop(),
		observer:    nopObserver{},
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClearSummaries drops cached summaries for the given bishops, or all of them
// when none are given. Callers invalidate after editing a bishop's own records.
func (e *Engine) ClearSummaries(ctx context.Context, bishopIDs ...string) error {
	if err := e.cache.Clear(ctx, bishopIDs...); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}
	return nil
}

// Resolve returns the cached summary for a bishop, fetching it on a miss. Only
// successful fetches are cached.
func (e *Engine) Resolve(ctx context.Context, bishopID string) Lookup {
	summary, ok, err := e.cache.Get(ctx, bishopID)
	if err != nil {
		e.logger.Warn("summary cache read failed", zap.String("bishop_id", bishopID), zap.Error(err))
	}
	if ok && err == nil {
		e.observer.SummaryLookup(true)
		return Lookup{BishopID: bishopID, Summary: summary}
	}
	e.observer.SummaryLookup(false)

	if e.source == nil {
		return Lookup{BishopID: bishopID, Err: ErrSummaryUnavailable}
	}
	summary, err = e.source.FetchSummary(ctx, bishopID)
	if err != nil {
		e.logger.Warn("bishop summary fetch failed; treating as unrestricted",
			zap.String("bishop_id", bishopID), zap.Error(err))
		return Lookup{BishopID: bishopID, Err: err}
	}
	if err := e.cache.Set(ctx, bishopID, summary); err != nil {
		e.logger.Warn("summary cache write failed", zap.String("bishop_id", bishopID), zap.Error(err))
	}
	return Lookup{BishopID: bishopID, Summary: summary}
}

// ResolveAll resolves each distinct bishop id once, fetching distinct ids
// concurrently. Empty ids are ignored.
func (e *Engine) ResolveAll(ctx context.Context, bishopIDs []string) map[string]Lookup {
	unique := make([]string, 0, len(bishopIDs))
	seen := make(map[string]struct{}, len(bishopIDs))
	for _, id := range bishopIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	results := make([]Lookup, len(unique))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, id := range unique {
		g.Go(func() error {
			results[i] = e.Resolve(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Lookup, len(unique))
	for _, lookup := range results {
		out[lookup.BishopID] = lookup
	}
	return out
}

func skipSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
