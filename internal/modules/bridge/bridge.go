// README: Persistence bridge; queued, best-effort write-back to the job store.
package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

// routeRefreshEvery bounds how often the road-distance provider is
// consulted per job.
const routeRefreshEvery = 5 * time.Minute

// RouteEstimator is the optional road-distance provider.
type RouteEstimator interface {
	RoadEstimate(ctx context.Context, origin, dest types.Point) (meters float64, duration time.Duration, err error)
}

// Registry is the read-only slice of the track registry the bridge needs.
type Registry interface {
	Snapshot(ref track.EntityRef) (*track.Snapshot, bool)
}

// Bridge mirrors accepted updates into the external job store. Flush never
// blocks the ingest path: updates queue into a bounded channel drained by a
// single worker, and overflow is dropped and counted. An entity dropped
// here is retried naturally on its next update.
type Bridge struct {
	queue    chan track.EntityRef
	registry Registry
	store    *Store
	cache    *Cache
	routes   RouteEstimator
	logger   *slog.Logger
	dropped  atomic.Int64
}

func New(registry Registry, store *Store, cache *Cache, routes RouteEstimator, queueSize int, logger *slog.Logger) *Bridge {
	return &Bridge{
		queue:    make(chan track.EntityRef, queueSize),
		registry: registry,
		store:    store,
		cache:    cache,
		routes:   routes,
		logger:   logger,
	}
}

// Flush requests an asynchronous write-back for one entity.
func (b *Bridge) Flush(ref track.EntityRef) {
	select {
	case b.queue <- ref:
	default:
		n := b.dropped.Add(1)
		if n%100 == 1 {
			b.logger.Warn("persistence queue full, dropping write-back", "kind", ref.Kind, "id", ref.ID, "dropped", n)
		}
	}
}

// Dropped reports how many write-backs were shed since startup.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// RunDrain consumes the queue until the context ends.
func (b *Bridge) RunDrain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-b.queue:
			b.persist(ctx, ref)
		}
	}
}

func (b *Bridge) persist(ctx context.Context, ref track.EntityRef) {
	snap, ok := b.registry.Snapshot(ref)
	if !ok {
		// Evicted between flush and drain; nothing to persist.
		return
	}

	if err := b.store.SaveLastKnownLocation(ctx, *snap); err != nil {
		if err == ErrUnknownEntity {
			b.logger.Warn("dropping write-back for unknown entity", "kind", ref.Kind, "id", ref.ID)
		} else {
			b.logger.Warn("job store write failed, dropping", "kind", ref.Kind, "id", ref.ID, "error", err)
		}
		return
	}
	if snap.LastSample != nil {
		if err := b.store.MirrorPosition(ctx, ref, snap.LastSample.Position); err != nil {
			b.logger.Warn("live position mirror failed", "kind", ref.Kind, "id", ref.ID, "error", err)
		}
	}

	b.maybeRefreshRoute(ctx, ref, snap)
}

// maybeRefreshRoute updates the job's road/great-circle ratio from the
// road-distance provider. Runs only on the drain worker, never on ingest.
func (b *Bridge) maybeRefreshRoute(ctx context.Context, ref track.EntityRef, snap *track.Snapshot) {
	if b.routes == nil || ref.Kind != track.KindJob || snap.LastSample == nil {
		return
	}
	if hint, ok := b.cache.RouteHint(ref.ID); ok && time.Since(hint.FetchedAt) < routeRefreshEvery {
		return
	}
	dest, ok := b.cache.Destination(ref.ID)
	if !ok {
		return
	}

	pos := snap.LastSample.Position
	direct := eta.HaversineMeters(pos, dest)
	if direct < 1 {
		return
	}
	road, _, err := b.routes.RoadEstimate(ctx, pos, dest)
	if err != nil {
		b.logger.Warn("road estimate failed", "job", ref.ID, "error", err)
		return
	}
	factor := road / direct
	if factor < 1.0 {
		factor = 1.0
	}
	b.cache.StoreRouteHint(ref.ID, eta.RouteHint{Factor: factor, FetchedAt: time.Now()})
}
