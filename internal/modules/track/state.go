// README: Per-entity live state; all mutation happens under the entity mutex.
package track

import (
	"sync"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
)

// entityState is the authoritative record for one tracked entity. The
// registry owns the only references to it; every field access goes through
// mu so concurrent producers for the same entity serialize cleanly.
type entityState struct {
	mu sync.Mutex

	ref           EntityRef
	lastSample    *LocationSample
	lastUpdatedAt time.Time
	speedHistory  []eta.SpeedSample
	currentETA    *eta.Estimate
	subscribers   int

	// stationarySince marks when the entity's reported speed dropped below
	// the stationary threshold; zero while moving. The speed-history ring is
	// too short to recover this once every entry in it is a parked sample.
	stationarySince time.Time

	// evicted flags a state removed by the sweeper while a caller still
	// holds a pointer to it; such callers re-resolve through the registry.
	evicted bool
}

// pushSpeedLocked appends one speed observation, dropping the oldest entry
// once the ring is full. Caller holds mu.
func (st *entityState) pushSpeedLocked(s eta.SpeedSample, depth int) {
	if depth <= 0 {
		return
	}
	st.speedHistory = append(st.speedHistory, s)
	if len(st.speedHistory) > depth {
		st.speedHistory = st.speedHistory[1:]
	}
}

// snapshotLocked copies the current state into a Snapshot with freshness
// evaluated at now. Caller holds mu.
func (st *entityState) snapshotLocked(policy StalenessPolicy, now time.Time) Snapshot {
	snap := Snapshot{
		Entity:        st.ref,
		LastUpdatedAt: st.lastUpdatedAt,
		Freshness:     policy.Classify(st.lastUpdatedAt, now),
		Subscribers:   st.subscribers,
	}
	if st.lastSample != nil {
		sample := *st.lastSample
		snap.LastSample = &sample
	}
	if st.currentETA != nil {
		estimate := *st.currentETA
		snap.ETA = &estimate
	}
	return snap
}
