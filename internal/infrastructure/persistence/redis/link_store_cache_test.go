package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/pkg/circuitbreaker"
	"github.com/osis-hub/program-hub/pkg/logger"
)

type fakeCache struct {
	data    map[string][]byte
	down    bool
	gets    int
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Get(_ context.Context, key string, dest any) error {
	c.gets++
	if c.down {
		return errors.New("connection refused")
	}
	raw, ok := c.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if c.down {
		return errors.New("connection refused")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *fakeCache) DeleteByPattern(_ context.Context, pattern string) error {
	for k := range c.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.data, k)
		}
	}
	return nil
}

type countingStore struct {
	calls   int
	records []programtree.AdjacencyRecord
}

func (s *countingStore) AdjacencyList(context.Context, []int64) ([]programtree.AdjacencyRecord, error) {
	s.calls++
	return s.records, nil
}

func (s *countingStore) ReverseAdjacencyList(context.Context, programtree.ReverseQuery) ([]programtree.AdjacencyRecord, error) {
	s.calls++
	return s.records, nil
}

func (s *countingStore) RootList(_ context.Context, q programtree.RootQuery) ([]programtree.RootRecord, error) {
	s.calls++
	return []programtree.RootRecord{{ChildID: q.ChildIDs[0], RootID: 1}}, nil
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

func sampleRecords() []programtree.AdjacencyRecord {
	return []programtree.AdjacencyRecord{
		{LinkID: 10, StartingNodeID: 1, ParentID: 1, ChildID: 2, Path: "1|2", Attributes: programtree.DefaultLinkAttributes()},
		{LinkID: 11, StartingNodeID: 1, ParentID: 2, ChildID: 3, Level: 1, Path: "1|2|3", Attributes: programtree.DefaultLinkAttributes()},
	}
}

func TestCachedLinkStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{records: sampleRecords()}
	store := NewCachedLinkStore(inner, newFakeCache(), time.Minute, quietLogger())

	first, err := store.AdjacencyList(ctx, []int64{1})
	require.NoError(t, err)
	second, err := store.AdjacencyList(ctx, []int64{1})
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
}

func TestCachedLinkStore_InvalidateDropsTraversals(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{records: sampleRecords()}
	cache := newFakeCache()
	store := NewCachedLinkStore(inner, cache, time.Minute, quietLogger())

	_, err := store.AdjacencyList(ctx, []int64{1})
	require.NoError(t, err)
	_, err = store.RootList(ctx, programtree.RootQuery{ChildIDs: []int64{3}, RootTypes: programtree.TopLevelTypes()})
	require.NoError(t, err)
	cache.data["unrelated"] = []byte(`1`)

	require.NoError(t, store.Invalidate(ctx))
	assert.Equal(t, map[string][]byte{"unrelated": []byte(`1`)}, cache.data)

	_, err = store.AdjacencyList(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestCachedLinkStore_FallsThroughOnCacheError(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{records: sampleRecords()}
	cache := newFakeCache()
	cache.down = true
	store := NewCachedLinkStore(inner, cache, time.Minute, quietLogger())

	records, err := store.AdjacencyList(ctx, []int64{1})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestCachedLinkStore_BreakerBypassesFailingCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{records: sampleRecords()}
	cache := newFakeCache()
	cache.down = true
	breaker := NewCacheBreaker(quietLogger(), circuitbreaker.WithFailureThreshold(4), circuitbreaker.WithCoolDown(time.Hour))
	store := NewCachedLinkStore(inner, cache, time.Minute, quietLogger()).WithBreaker(breaker)

	for i := 0; i < 5; i++ {
		records, err := store.AdjacencyList(ctx, []int64{1})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	}

	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
	assert.Equal(t, 2, cache.gets, "no cache reads once the circuit is open")
	assert.Equal(t, 5, inner.calls)
}

func TestCachedLinkStore_MissesKeepBreakerClosed(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{records: sampleRecords()}
	breaker := NewCacheBreaker(quietLogger(), circuitbreaker.WithFailureThreshold(1))
	store := NewCachedLinkStore(inner, newFakeCache(), time.Minute, quietLogger()).WithBreaker(breaker)

	for _, id := range []int64{1, 2, 3} {
		_, err := store.AdjacencyList(ctx, []int64{id})
		require.NoError(t, err)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestCachedLinkStore_NilCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{records: sampleRecords()}
	store := NewCachedLinkStore(inner, nil, 0, nil)

	_, err := store.AdjacencyList(ctx, []int64{1})
	require.NoError(t, err)
	_, err = store.AdjacencyList(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.NoError(t, store.Invalidate(ctx))
}

func TestCachedLinkStore_RejectsUnscopedQueries(t *testing.T) {
	store := NewCachedLinkStore(&countingStore{}, newFakeCache(), time.Minute, quietLogger())

	_, err := store.ReverseAdjacencyList(context.Background(), programtree.ReverseQuery{})
	assert.ErrorIs(t, err, shared.ErrMissingQueryFilter)
	_, err = store.RootList(context.Background(), programtree.RootQuery{})
	assert.ErrorIs(t, err, shared.ErrMissingQueryFilter)
}

func TestKeys(t *testing.T) {
	year := 2024
	assert.Equal(t, "adjacency:1,2,5", AdjacencyKey([]int64{5, 2, 1, 2}))
	assert.Equal(t, "reverse:3:2024:REFERENCE", ReverseKey([]int64{3}, &year, "REFERENCE"))
	assert.Equal(t, "reverse:3:*:", ReverseKey([]int64{3}, nil, ""))
	assert.Equal(t, "roots:3,4:*:BACHELOR,MASTER_120", RootsKey([]int64{4, 3}, nil, []string{"MASTER_120", "BACHELOR"}))
}
