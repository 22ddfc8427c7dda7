package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/claims-pipeline/core"
)

const statusHistoryCacheKeyPrefix = "claims-pipeline::status_history::v1"

// CachedStatusEventStore serves repeated history reads from cache and
// invalidates on append, so a claim's timeline stays read-heavy cheap while
// never returning a stale list after a new event lands.
type CachedStatusEventStore struct {
	base  core.StatusEventStore
	cache repositorycache.CacheService
}

func NewCachedStatusEventStore(
	base core.StatusEventStore,
	cacheService repositorycache.CacheService,
) (*CachedStatusEventStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base status event store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: status history cache service is required")
	}
	return &CachedStatusEventStore{base: base, cache: cacheService}, nil
}

// StatusHistoryCacheKey returns the deterministic cache key for one claim's
// history: claims-pipeline::status_history::v1::<claim_id> with the claim id
// URL-path escaped after trimming.
func StatusHistoryCacheKey(claimID string) (string, error) {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return "", fmt.Errorf("sqlstore: claim id is required")
	}
	return statusHistoryCacheKeyPrefix + "::" + url.PathEscape(claimID), nil
}

func (s *CachedStatusEventStore) Append(ctx context.Context, event core.StatusEvent) (core.StatusEvent, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.StatusEvent{}, fmt.Errorf("sqlstore: cached status event store is not configured")
	}
	appended, err := s.base.Append(ctx, event)
	if err != nil {
		return core.StatusEvent{}, err
	}

	cacheKey, err := StatusHistoryCacheKey(appended.ClaimID)
	if err != nil {
		return core.StatusEvent{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.StatusEvent{}, err
	}
	return appended, nil
}

func (s *CachedStatusEventStore) ListByClaim(ctx context.Context, claimID string) ([]core.StatusEvent, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached status event store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	cacheKey, err := StatusHistoryCacheKey(claimID)
	if err != nil {
		return nil, err
	}

	events, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.StatusEvent, error) {
		return s.base.ListByClaim(ctx, claimID)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.StatusEvent(nil), events...), nil
}
