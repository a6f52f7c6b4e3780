package dashboard

import (
	"context"
	"slices"

	"github.com/saviobatista/flightgen/internal/db"
	"github.com/saviobatista/flightgen/internal/redis"
)

// cacheKey identifies one answer. The latest run id is part of the key, so a
// new run makes every older answer unreachable.
func cacheKey(endpoint, runID string, f db.Filter) string {
	airlines := slices.Clone(f.Airlines)
	routes := slices.Clone(f.Routes)
	slices.Sort(airlines)
	slices.Sort(routes)

	parts := []string{endpoint, runID}
	parts = append(parts, airlines...)
	parts = append(parts, "|")
	parts = append(parts, routes...)
	return redis.KPIKey(parts...)
}

// cachedQuery answers from the cache when it can and stores fresh answers.
// Cache failures are logged and fall through to the store.
func cachedQuery[T any](ctx context.Context, h *Handler, endpoint string, f db.Filter, query func(context.Context) (T, error)) (T, error) {
	if h.cache == nil {
		return query(ctx)
	}

	runID, _, err := h.cache.LatestRunID(ctx)
	if err != nil {
		h.metrics.IncrementCacheLookup("error")
		h.logger.WarnContext(ctx, "Failed to read latest run id", "error", err)
		return query(ctx)
	}
	key := cacheKey(endpoint, runID, f)

	var cached T
	found, err := h.cache.GetKPI(ctx, key, &cached)
	switch {
	case err != nil:
		h.metrics.IncrementCacheLookup("error")
		h.logger.WarnContext(ctx, "Failed to read cached answer", "endpoint", endpoint, "error", err)
	case found:
		h.metrics.IncrementCacheLookup("hit")
		return cached, nil
	default:
		h.metrics.IncrementCacheLookup("miss")
	}

	out, err := query(ctx)
	if err != nil {
		return out, err
	}
	if err := h.cache.SetKPI(ctx, key, out, h.ttl); err != nil {
		h.logger.WarnContext(ctx, "Failed to cache answer", "endpoint", endpoint, "error", err)
	}
	return out, nil
}
