// README: Timer-refreshed cache of job destinations and company associations.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

type jobEntry struct {
	destination types.Point
	hasDest     bool
	company     types.ID
	hasCompany  bool
	hint        *eta.RouteHint
	fetchedAt   time.Time
}

type trackerEntry struct {
	company    types.ID
	hasCompany bool
	fetchedAt  time.Time
}

// Cache serves destination and company lookups to the hot ingest and
// publish paths without touching the store. Misses are recorded and filled
// by the background refresher; until then the lookup simply reports absent.
type Cache struct {
	mu       sync.Mutex
	jobs     map[types.ID]*jobEntry
	trackers map[types.ID]*trackerEntry
	wanted   map[track.EntityRef]struct{}

	store  *Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(store *Store, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		jobs:     make(map[types.ID]*jobEntry),
		trackers: make(map[types.ID]*trackerEntry),
		wanted:   make(map[track.EntityRef]struct{}),
		store:    store,
		ttl:      ttl,
		logger:   logger,
	}
}

// Destination implements track.DestinationSource. A stale entry is still
// served while the refresher catches up.
func (c *Cache) Destination(jobID types.ID) (types.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.jobs[jobID]
	if !ok {
		c.wanted[track.EntityRef{Kind: track.KindJob, ID: jobID}] = struct{}{}
		return types.Point{}, false
	}
	return entry.destination, entry.hasDest
}

// RouteHint implements track.DestinationSource.
func (c *Cache) RouteHint(jobID types.ID) (eta.RouteHint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.jobs[jobID]; ok && entry.hint != nil {
		return *entry.hint, true
	}
	return eta.RouteHint{}, false
}

// Company implements the hub's scope resolver.
func (c *Cache) Company(ref track.EntityRef) (types.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ref.Kind {
	case track.KindJob:
		if entry, ok := c.jobs[ref.ID]; ok {
			return entry.company, entry.hasCompany
		}
	case track.KindTracker:
		if entry, ok := c.trackers[ref.ID]; ok {
			return entry.company, entry.hasCompany
		}
	}
	c.wanted[ref] = struct{}{}
	return "", false
}

// StoreRouteHint records a freshly observed road/great-circle ratio.
func (c *Cache) StoreRouteHint(jobID types.ID, hint eta.RouteHint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.jobs[jobID]
	if !ok {
		entry = &jobEntry{}
		c.jobs[jobID] = entry
	}
	entry.hint = &hint
}

// Forget drops an evicted entity so the cache does not grow past the
// registry's working set.
func (c *Cache) Forget(ref track.EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ref.Kind {
	case track.KindJob:
		delete(c.jobs, ref.ID)
	case track.KindTracker:
		delete(c.trackers, ref.ID)
	}
	delete(c.wanted, ref)
}

// RunRefresher fills misses and re-reads aged entries on a fixed interval.
func (c *Cache) RunRefresher(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshOnce(ctx, time.Now())
		}
	}
}

func (c *Cache) refreshOnce(ctx context.Context, now time.Time) {
	c.mu.Lock()
	refs := make([]track.EntityRef, 0, len(c.wanted))
	for ref := range c.wanted {
		refs = append(refs, ref)
	}
	c.wanted = make(map[track.EntityRef]struct{})
	for id, entry := range c.jobs {
		if now.Sub(entry.fetchedAt) > c.ttl {
			refs = append(refs, track.EntityRef{Kind: track.KindJob, ID: id})
		}
	}
	for id, entry := range c.trackers {
		if now.Sub(entry.fetchedAt) > c.ttl {
			refs = append(refs, track.EntityRef{Kind: track.KindTracker, ID: id})
		}
	}
	c.mu.Unlock()

	for _, ref := range refs {
		c.refreshOne(ctx, ref, now)
	}
}

func (c *Cache) refreshOne(ctx context.Context, ref track.EntityRef, now time.Time) {
	switch ref.Kind {
	case track.KindJob:
		dest, hasDest, destErr := c.store.RouteDestination(ctx, ref.ID)
		company, companyErr := c.store.JobCompany(ctx, ref.ID)
		if destErr != nil && destErr != ErrUnknownEntity {
			c.logger.Warn("destination refresh failed", "job", ref.ID, "error", destErr)
			return
		}

		c.mu.Lock()
		entry, ok := c.jobs[ref.ID]
		if !ok {
			entry = &jobEntry{}
			c.jobs[ref.ID] = entry
		}
		entry.destination = dest
		entry.hasDest = hasDest && destErr == nil
		entry.company = company
		entry.hasCompany = companyErr == nil
		entry.fetchedAt = now
		c.mu.Unlock()

	case track.KindTracker:
		company, err := c.store.TrackerCompany(ctx, ref.ID)
		if err != nil && err != ErrUnknownEntity {
			c.logger.Warn("tracker company refresh failed", "tracker", ref.ID, "error", err)
			return
		}

		c.mu.Lock()
		c.trackers[ref.ID] = &trackerEntry{
			company:    company,
			hasCompany: err == nil,
			fetchedAt:  now,
		}
		c.mu.Unlock()
	}
}
