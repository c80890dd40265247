// README: Core tracking records: samples, outcomes, and entity snapshots.
package track

import (
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

type EntityKind string

const (
	KindJob     EntityKind = "JOB"
	KindTracker EntityKind = "TRACKER"
)

type Source string

const (
	SourceMobileGPS   Source = "MOBILE_GPS"
	SourceManualEntry Source = "MANUAL_ENTRY"
	SourceLiveTracker Source = "LIVE_TRACKER"
)

// EntityRef identifies one tracked entity across the engine.
type EntityRef struct {
	Kind EntityKind
	ID   types.ID
}

// LocationSample is one accepted GPS observation. Speed is always km/h by
// the time a sample reaches the registry; the gateway owns unit handling.
type LocationSample struct {
	Entity     EntityRef
	Position   types.Point
	AccuracyM  float64
	SpeedKmh   *float64
	HeadingDeg *float64
	Battery    *int
	CapturedAt time.Time
	Source     Source
}

type UpdateOutcome string

const (
	OutcomeCreated    UpdateOutcome = "CREATED"
	OutcomeApplied    UpdateOutcome = "APPLIED"
	OutcomeOutOfOrder UpdateOutcome = "OUT_OF_ORDER"
)

// Freshness is the lazily derived staleness view of an entity.
type Freshness struct {
	AgeMinutes float64
	IsStale    bool
}

// Snapshot is a consistent copy of one entity's live state, taken under the
// entity's lock. It is safe to hand to subscribers and the persistence
// bridge without further coordination.
type Snapshot struct {
	Entity        EntityRef
	LastSample    *LocationSample
	LastUpdatedAt time.Time
	Freshness     Freshness
	ETA           *eta.Estimate
	Subscribers   int
}
