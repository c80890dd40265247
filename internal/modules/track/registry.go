// README: Track registry; routes updates to per-entity state and evicts idle entities.
package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/config"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

// DestinationSource answers destination and route lookups from a local
// cache. Implementations must never block on I/O: the registry calls this
// inside the per-entity critical section on the hot ingest path.
type DestinationSource interface {
	Destination(jobID types.ID) (types.Point, bool)
	RouteHint(jobID types.ID) (eta.RouteHint, bool)
}

// Registry owns every entityState. Insertion is guarded by mu; all other
// mutation happens under the individual entity mutex, so a burst of updates
// for different entities never contends on a shared lock.
type Registry struct {
	mu       sync.RWMutex
	entities map[EntityRef]*entityState

	cfg     config.TrackingConfig
	policy  StalenessPolicy
	calc    *eta.Calculator
	dest    DestinationSource
	onEvict func(EntityRef)
	logger  *slog.Logger
}

func NewRegistry(cfg config.TrackingConfig, calc *eta.Calculator, dest DestinationSource, logger *slog.Logger) *Registry {
	return &Registry{
		entities: make(map[EntityRef]*entityState),
		cfg:      cfg,
		policy:   StalenessPolicy{StaleAfter: cfg.StaleAfter},
		calc:     calc,
		dest:     dest,
		logger:   logger,
	}
}

// SetEvictionHook registers a callback invoked (outside all locks) after an
// entity is removed by the sweeper. The hub uses it to drop scope caches.
func (r *Registry) SetEvictionHook(fn func(EntityRef)) {
	r.onEvict = fn
}

// Update applies one accepted sample. Samples not strictly newer than the
// stored state are discarded with OUT_OF_ORDER regardless of arrival order,
// which keeps retrying producers from rolling state backwards.
func (r *Registry) Update(sample LocationSample) (UpdateOutcome, *Snapshot) {
	for {
		st, created := r.getOrCreate(sample.Entity)
		st.mu.Lock()
		if st.evicted {
			st.mu.Unlock()
			continue
		}

		if st.lastSample != nil && !sample.CapturedAt.After(st.lastUpdatedAt) {
			st.mu.Unlock()
			return OutcomeOutOfOrder, nil
		}

		r.applyLocked(st, sample)
		snap := st.snapshotLocked(r.policy, time.Now())
		st.mu.Unlock()

		if created {
			return OutcomeCreated, &snap
		}
		return OutcomeApplied, &snap
	}
}

// Snapshot returns a consistent copy of one entity, with staleness
// re-evaluated at call time.
func (r *Registry) Snapshot(ref EntityRef) (*Snapshot, bool) {
	r.mu.RLock()
	st, ok := r.entities[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	st.mu.Lock()
	snap := st.snapshotLocked(r.policy, time.Now())
	st.mu.Unlock()
	return &snap, true
}

// SnapshotAll returns a point-in-time copy of every tracked entity. Each
// entry is internally consistent; the collection as a whole is not a global
// atomic view, which is fine for dashboard snapshots.
func (r *Registry) SnapshotAll() []Snapshot {
	r.mu.RLock()
	states := make([]*entityState, 0, len(r.entities))
	for _, st := range r.entities {
		states = append(states, st)
	}
	r.mu.RUnlock()

	now := time.Now()
	snaps := make([]Snapshot, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		snaps = append(snaps, st.snapshotLocked(r.policy, now))
		st.mu.Unlock()
	}
	return snaps
}

// RecordSubscribers stores a diagnostic subscriber count for an entity.
func (r *Registry) RecordSubscribers(ref EntityRef, n int) {
	r.mu.RLock()
	st, ok := r.entities[ref]
	r.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.subscribers = n
	st.mu.Unlock()
}

// RunSweeper periodically evicts entities idle past the configured window.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(time.Now())
		}
	}
}

func (r *Registry) getOrCreate(ref EntityRef) (*entityState, bool) {
	r.mu.RLock()
	st, ok := r.entities[ref]
	r.mu.RUnlock()
	if ok {
		return st, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.entities[ref]; ok {
		return st, false
	}
	st = &entityState{ref: ref}
	r.entities[ref] = st
	return st, true
}

// applyLocked pushes the sample into the entity state and recomputes the
// ETA. Caller holds the entity mutex.
func (r *Registry) applyLocked(st *entityState, sample LocationSample) {
	prev := st.lastSample

	speed, hasSpeed := derivedSpeedKmh(sample, prev)
	if hasSpeed {
		normalized := speed
		sample.SpeedKmh = &normalized
		st.pushSpeedLocked(eta.SpeedSample{Kmh: speed, At: sample.CapturedAt}, r.cfg.SpeedHistoryDepth)
		if speed < eta.StationaryKmh {
			if st.stationarySince.IsZero() {
				st.stationarySince = sample.CapturedAt
			}
		} else {
			st.stationarySince = time.Time{}
		}
	}
	if sample.HeadingDeg == nil && prev != nil {
		bearing := eta.BearingDegrees(prev.Position, sample.Position)
		sample.HeadingDeg = &bearing
	}

	st.lastSample = &sample
	st.lastUpdatedAt = sample.CapturedAt
	r.recomputeETALocked(st, sample)
}

func (r *Registry) recomputeETALocked(st *entityState, sample LocationSample) {
	if sample.Entity.Kind != KindJob || r.dest == nil {
		return
	}
	dest, ok := r.dest.Destination(sample.Entity.ID)
	if !ok {
		// No route data for this job; leave the estimate absent rather
		// than fabricating one.
		st.currentETA = nil
		return
	}

	now := time.Now()
	age := now.Sub(sample.CapturedAt)
	if age < 0 {
		age = 0
	}
	in := eta.Input{
		Position:        sample.Position,
		Destination:     dest,
		AccuracyM:       sample.AccuracyM,
		SampleAge:       age,
		SpeedHistory:    st.speedHistory,
		Previous:        st.currentETA,
		StationarySince: st.stationarySince,
		Now:             now,
	}
	if hint, ok := r.dest.RouteHint(sample.Entity.ID); ok {
		in.RouteHint = &hint
	}
	st.currentETA = r.calc.Recompute(in)
}

// sweepOnce removes every entity idle past the eviction window. The
// per-entity lock is taken before deletion so the sweep never races an
// in-flight update.
func (r *Registry) sweepOnce(now time.Time) {
	var evicted []EntityRef

	r.mu.Lock()
	for ref, st := range r.entities {
		st.mu.Lock()
		if !st.lastUpdatedAt.IsZero() && now.Sub(st.lastUpdatedAt) > r.cfg.IdleEviction {
			st.evicted = true
			delete(r.entities, ref)
			evicted = append(evicted, ref)
		}
		st.mu.Unlock()
	}
	r.mu.Unlock()

	for _, ref := range evicted {
		r.logger.Info("evicted idle entity", "kind", ref.Kind, "id", ref.ID)
		if r.onEvict != nil {
			r.onEvict(ref)
		}
	}
}

// derivedSpeedKmh prefers the producer-reported speed and falls back to
// distance-over-time between consecutive samples.
func derivedSpeedKmh(sample LocationSample, prev *LocationSample) (float64, bool) {
	if sample.SpeedKmh != nil {
		return *sample.SpeedKmh, true
	}
	if prev == nil {
		return 0, false
	}
	dt := sample.CapturedAt.Sub(prev.CapturedAt)
	if dt <= 0 {
		return 0, false
	}
	meters := eta.HaversineMeters(prev.Position, sample.Position)
	return meters / 1000.0 / dt.Hours(), true
}
