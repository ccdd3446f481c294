package storage

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"campaign-targeting/internal/cache"
	"campaign-targeting/internal/observability"
	"campaign-targeting/internal/segment"
)

// PopulationLoader reads the full set of customer records.
type PopulationLoader interface {
	LoadPopulation(ctx context.Context) ([]segment.Record, error)
}

// PopulationCache keeps the last loaded population in a lock-free snapshot.
// Readers never wait for a reload; only the first read before any snapshot
// exists goes to the loader.
type PopulationCache struct {
	loader PopulationLoader
	snap   cache.Snapshot[[]segment.Record]
	mu     sync.Mutex
}

func NewPopulationCache(loader PopulationLoader) *PopulationCache {
	return &PopulationCache{loader: loader}
}

// Population implements segment.PopulationSource. The returned slice is
// shared and must not be modified.
func (c *PopulationCache) Population(ctx context.Context) ([]segment.Record, error) {
	if recs, ok := c.snap.Load(); ok {
		return recs, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	recs, _ := c.snap.Load()
	return recs, nil
}

// Refresh reloads the population and swaps it in. A failed reload keeps the
// previous snapshot.
func (c *PopulationCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.loader.LoadPopulation(ctx)
	if err != nil {
		observability.PopulationRefreshes.WithLabelValues("error").Inc()
		return err
	}
	c.snap.Store(recs)
	observability.PopulationSize.Set(float64(len(recs)))
	observability.PopulationRefreshes.WithLabelValues("ok").Inc()
	log.Info().Int("records", len(recs)).Uint64("snapshot", c.snap.Version()).Msg("population snapshot refreshed")
	return nil
}

// Len is the number of records in the current snapshot.
func (c *PopulationCache) Len() int {
	recs, _ := c.snap.Load()
	return len(recs)
}
