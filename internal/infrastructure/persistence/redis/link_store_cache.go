package redis

import (
	"context"
	"errors"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/infrastructure/metrics"
	"github.com/osis-hub/program-hub/pkg/circuitbreaker"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// TraversalCache is the subset of Cache used by CachedLinkStore.
type TraversalCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CachedLinkStore decorates a programtree.LinkStore with a read-through
// cache. Cache failures are logged and the query falls through to the
// wrapped store, so Redis is never required for correctness.
type CachedLinkStore struct {
	next    programtree.LinkStore
	cache   TraversalCache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewCachedLinkStore wraps next. A nil cache disables caching.
func NewCachedLinkStore(next programtree.LinkStore, cache TraversalCache, ttl time.Duration, log *logger.Logger) *CachedLinkStore {
	if ttl <= 0 {
		ttl = TTLAdjacency
	}
	if log == nil {
		log = logger.Default()
	}
	return &CachedLinkStore{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   log.With(logger.Component("link_store_cache")),
	}
}

// WithBreaker guards cache reads and writes with cb. While the circuit is
// open, queries go straight to the wrapped store.
func (s *CachedLinkStore) WithBreaker(cb *circuitbreaker.CircuitBreaker) *CachedLinkStore {
	s.breaker = cb
	return s
}

// NewCacheBreaker returns a breaker for the traversal cache. Misses do not
// count as failures; state changes are logged and exported.
func NewCacheBreaker(log *logger.Logger, opts ...circuitbreaker.Option) *circuitbreaker.CircuitBreaker {
	if log == nil {
		log = logger.Default()
	}
	opts = append([]circuitbreaker.Option{
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, ErrCacheMiss) && !errors.Is(err, context.Canceled)
		}),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			metrics.CacheBreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn("cache circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		}),
	}, opts...)
	return circuitbreaker.New("redis", opts...)
}

func (s *CachedLinkStore) guard(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, fn)
}

// AdjacencyList implements programtree.LinkStore.
func (s *CachedLinkStore) AdjacencyList(ctx context.Context, rootIDs []int64) ([]programtree.AdjacencyRecord, error) {
	if len(rootIDs) == 0 {
		return s.next.AdjacencyList(ctx, rootIDs)
	}
	return readThrough(ctx, s, "adjacency", AdjacencyKey(rootIDs), func() ([]programtree.AdjacencyRecord, error) {
		return s.next.AdjacencyList(ctx, rootIDs)
	})
}

// ReverseAdjacencyList implements programtree.LinkStore.
func (s *CachedLinkStore) ReverseAdjacencyList(ctx context.Context, q programtree.ReverseQuery) ([]programtree.AdjacencyRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var linkType string
	if q.LinkType != nil {
		linkType = string(*q.LinkType)
	}
	return readThrough(ctx, s, "reverse_adjacency", ReverseKey(q.ChildIDs, q.Year, linkType), func() ([]programtree.AdjacencyRecord, error) {
		return s.next.ReverseAdjacencyList(ctx, q)
	})
}

// RootList implements programtree.LinkStore.
func (s *CachedLinkStore) RootList(ctx context.Context, q programtree.RootQuery) ([]programtree.RootRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	types := make([]string, len(q.RootTypes))
	for i, t := range q.RootTypes {
		types[i] = string(t)
	}
	return readThrough(ctx, s, "root_list", RootsKey(q.ChildIDs, q.Year, types), func() ([]programtree.RootRecord, error) {
		return s.next.RootList(ctx, q)
	})
}

// Invalidate drops every cached traversal. A single link change can alter
// the result of any query whose traversal crosses it, so nothing finer than
// a full flush of the traversal keys is safe. It bypasses the breaker: a
// skipped flush would leave stale entries once Redis recovers.
func (s *CachedLinkStore) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	var errs []error
	for _, prefix := range []string{PrefixAdjacency, PrefixReverse, PrefixRoots} {
		if err := s.cache.DeleteByPattern(ctx, prefix+"*"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func readThrough[T any](ctx context.Context, s *CachedLinkStore, query, key string, load func() ([]T, error)) ([]T, error) {
	if s.cache == nil {
		return load()
	}

	var cached []T
	err := s.guard(ctx, func(ctx context.Context) error {
		return s.cache.Get(ctx, key, &cached)
	})
	switch {
	case err == nil:
		metrics.CacheRequests.WithLabelValues(query, "hit").Inc()
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
		metrics.CacheRequests.WithLabelValues(query, "miss").Inc()
	case circuitbreaker.IsRejection(err):
		metrics.CacheRequests.WithLabelValues(query, "bypass").Inc()
		return load()
	default:
		metrics.CacheRequests.WithLabelValues(query, "error").Inc()
		s.log.Warn("cache read failed", logger.String("key", key), logger.Err(err))
	}

	out, err := load()
	if err != nil {
		return nil, err
	}
	err = s.guard(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, key, out, s.ttl)
	})
	if err != nil && !circuitbreaker.IsRejection(err) {
		s.log.Warn("cache write failed", logger.String("key", key), logger.Err(err))
	}
	return out, nil
}
