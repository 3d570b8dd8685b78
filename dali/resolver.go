package dali

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/golang/glog"
)

type FetchFunction func(ctx context.Context, id string) (any, error)

type ResolverSettings struct {
	// 0 disables the cache
	CacheTtl      time.Duration
	CacheCapacity uint64
	// parallel fetches per `ResolveAll`
	MaxConcurrency int
	Metrics        *Metrics
}

func DefaultResolverSettings() *ResolverSettings {
	return &ResolverSettings{
		CacheTtl:       5 * time.Second,
		CacheCapacity:  1024,
		MaxConcurrency: 8,
	}
}

// Resolves pending references with fetch-by-id calls.
// Concurrent fetches of the same id share one call. Results are kept for a short
// time so that a batch that references the same member many times fetches once.
// The cache is transient and is never the source of truth for an entity.
type Resolver struct {
	settings *ResolverSettings

	stateLock sync.Mutex
	fetchers  map[string]FetchFunction

	group singleflight.Group
	cache *ttlcache.Cache[string, any]
}

func NewResolver(settings *ResolverSettings) *Resolver {
	var cache *ttlcache.Cache[string, any]
	if 0 < settings.CacheTtl {
		options := []ttlcache.Option[string, any]{
			ttlcache.WithTTL[string, any](settings.CacheTtl),
			ttlcache.WithDisableTouchOnHit[string, any](),
		}
		if 0 < settings.CacheCapacity {
			options = append(options, ttlcache.WithCapacity[string, any](settings.CacheCapacity))
		}
		cache = ttlcache.New(options...)
	}
	return &Resolver{
		settings: settings,
		fetchers: map[string]FetchFunction{},
		cache:    cache,
	}
}

func RegisterFetcher[T any](resolver *Resolver, kind string, fetch func(ctx context.Context, id string) (*T, error)) {
	resolver.stateLock.Lock()
	defer resolver.stateLock.Unlock()

	resolver.fetchers[kind] = func(ctx context.Context, id string) (any, error) {
		return fetch(ctx, id)
	}
}

func (self *Resolver) fetcher(kind string) (FetchFunction, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	fetch, ok := self.fetchers[kind]
	return fetch, ok
}

func (self *Resolver) Fetch(ctx context.Context, kind string, id string) (any, error) {
	fetch, ok := self.fetcher(kind)
	if !ok {
		return nil, fmt.Errorf("No fetcher for %s.", kind)
	}

	key := kind + "/" + id
	if self.cache != nil {
		if item := self.cache.Get(key); item != nil {
			glog.V(LogLevelTrace).Infof("[resolve]%s cached\n", key)
			return item.Value(), nil
		}
	}

	// the flight is shared by every caller of the key,
	// so it must not end when the caller that started it is canceled
	flightCtx := context.WithoutCancel(ctx)
	resultChannel := self.group.DoChan(key, func() (any, error) {
		if self.cache != nil {
			// a flight for the key may have completed since the check above
			if item := self.cache.Get(key); item != nil {
				return item.Value(), nil
			}
		}
		glog.V(LogLevelTrace).Infof("[resolve]%s fetch\n", key)
		if self.settings.Metrics != nil {
			self.settings.Metrics.ResolverFetches.WithLabelValues(kind).Inc()
		}
		value, err := fetch(flightCtx, id)
		if err == nil && self.cache != nil {
			self.cache.Set(key, value, ttlcache.DefaultTTL)
		}
		return value, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChannel:
		return result.Val, result.Err
	}
}

// drops cached values
func (self *Resolver) Reset() {
	if self.cache != nil {
		self.cache.DeleteAll()
	}
}

// Fetches every pending reference on `entity` and assigns the results inline.
// An entity with no pending references returns immediately with no fetch.
// On error the entity may be partially resolved.
func Resolve[E Entity](ctx context.Context, resolver *Resolver, entity E) (E, error) {
	pending := entity.PendingReferences()
	if len(pending) == 0 {
		return entity, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if 0 < resolver.settings.MaxConcurrency {
		group.SetLimit(resolver.settings.MaxConcurrency)
	}
	for _, ref := range pending {
		group.Go(func() error {
			value, err := resolver.Fetch(groupCtx, ref.Kind, ref.Id)
			if err != nil {
				return fmt.Errorf("Resolve %s %s: %w", ref.Kind, ref.Id, err)
			}
			return ref.Assign(value)
		})
	}
	if err := group.Wait(); err != nil {
		return entity, err
	}
	return entity, nil
}

// Resolves all entities as a batch. The result keeps input order.
// This is best effort: an entity that fails to resolve is dropped from the
// result and its error is included in the joined error. The result is valid
// even when the error is not nil.
func ResolveAll[E Entity](ctx context.Context, resolver *Resolver, entities []E) ([]E, error) {
	resolved := make([]bool, len(entities))
	errs := make([]error, len(entities))

	group := &errgroup.Group{}
	if 0 < resolver.settings.MaxConcurrency {
		group.SetLimit(resolver.settings.MaxConcurrency)
	}
	for i, entity := range entities {
		if len(entity.PendingReferences()) == 0 {
			resolved[i] = true
			continue
		}
		group.Go(func() error {
			if _, err := Resolve(ctx, resolver, entity); err != nil {
				errs[i] = err
			} else {
				resolved[i] = true
			}
			return nil
		})
	}
	group.Wait()

	results := make([]E, 0, len(entities))
	for i, entity := range entities {
		if resolved[i] {
			results = append(results, entity)
		}
	}
	return results, errors.Join(errs...)
}
