package validity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	summaries map[string]Summary
	failing   map[string]bool
	calls     map[string]int
	total     atomic.Int32
}

func newFakeSource(summaries map[string]Summary) *fakeSource {
	return &fakeSource{summaries: summaries, failing: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeSource) FetchSummary(_ context.Context, bishopID string) (Summary, error) {
	f.total.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[bishopID]++
	if f.failing[bishopID] {
		return Summary{}, errors.New("connection refused")
	}
	summary, ok := f.summaries[bishopID]
	if !ok {
		return Summary{}, ErrSummaryUnavailable
	}
	return summary, nil
}

func (f *fakeSource) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type countingObserver struct {
	hits, misses, violations atomic.Int32
}

func (o *countingObserver) SummaryLookup(hit bool) {
	if hit {
		o.hits.Add(1)
		return
	}
	o.misses.Add(1)
}

func (o *countingObserver) Violation(Kind) { o.violations.Add(1) }

var (
	validBishop    = Summary{HasValidOrdination: true, HasValidConsecration: true, WorstOrdinationStatus: StatusValid, WorstConsecrationStatus: StatusValid}
	invalidBishop  = Summary{WorstOrdinationStatus: StatusInvalid, WorstConsecrationStatus: StatusInvalid}
	doubtfulPriest = Summary{WorstOrdinationStatus: StatusDoubtfulEvent, WorstConsecrationStatus: StatusInvalid}
)

func TestResolveAllDeduplicatesAndCaches(t *testing.T) {
	source := newFakeSource(map[string]Summary{"a": validBishop, "b": invalidBishop})
	observer := &countingObserver{}
	engine := NewEngine(source, WithObserver(observer))
	ctx := context.Background()

	lookups := engine.ResolveAll(ctx, []string{"a", "a", "", "b", "a"})
	require.Len(t, lookups, 2)
	assert.Equal(t, validBishop, lookups["a"].Summary)
	assert.Equal(t, invalidBishop, lookups["b"].Summary)
	assert.Equal(t, int32(2), source.total.Load())

	engine.ResolveAll(ctx, []string{"b", "a"})
	assert.Equal(t, int32(2), source.total.Load())
	assert.Equal(t, int32(2), observer.hits.Load())
	assert.Equal(t, int32(2), observer.misses.Load())
}

func TestResolveFetchesDistinctIDsConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	source := SourceFunc(func(ctx context.Context, id string) (Summary, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() {
			arrived.Wait()
			close(done)
		}()
		select {
		case <-done:
			return validBishop, nil
		case <-time.After(2 * time.Second):
			return Summary{}, errors.New("fetches were serialised")
		}
	})
	engine := NewEngine(source)

	lookups := engine.ResolveAll(context.Background(), []string{"x", "y"})
	require.NoError(t, lookups["x"].Err)
	require.NoError(t, lookups["y"].Err)
}

func TestResolveFailureIsUnrestrictedAndNotCached(t *testing.T) {
	source := newFakeSource(map[string]Summary{})
	source.failing["down"] = true
	engine := NewEngine(source)
	ctx := context.Background()

	lookup := engine.Resolve(ctx, "down")
	require.Error(t, lookup.Err)
	assert.Nil(t, lookup.Restriction())

	engine.Resolve(ctx, "down")
	assert.Equal(t, 2, source.callsFor("down"))
}

func TestClearSummariesForcesRefetch(t *testing.T) {
	source := newFakeSource(map[string]Summary{"a": validBishop, "b": validBishop})
	engine := NewEngine(source)
	ctx := context.Background()

	engine.ResolveAll(ctx, []string{"a", "b"})
	require.NoError(t, engine.ClearSummaries(ctx, "a"))
	engine.ResolveAll(ctx, []string{"a", "b"})
	assert.Equal(t, 2, source.callsFor("a"))
	assert.Equal(t, 1, source.callsFor("b"))

	require.NoError(t, engine.ClearSummaries(ctx))
	engine.ResolveAll(ctx, []string{"a", "b"})
	assert.Equal(t, 3, source.callsFor("a"))
	assert.Equal(t, 2, source.callsFor("b"))
}

func TestMemoryCacheClear(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "a", validBishop))
	require.NoError(t, cache.Set(ctx, "b", invalidBishop))

	require.NoError(t, cache.Clear(ctx, "a"))
	_, ok, _ := cache.Get(ctx, "a")
	assert.False(t, ok)
	got, ok, _ := cache.Get(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, invalidBishop, got)
}
