// README: Subscription scopes and outbound dashboard message shapes.
package hub

import (
	"errors"
	"strings"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

type ScopeKind string

const (
	ScopeCompany ScopeKind = "company"
	ScopeJob     ScopeKind = "job"
)

// Scope is a subscription granularity: everything for a company, or one job.
type Scope struct {
	Kind ScopeKind
	ID   types.ID
}

var (
	ErrBadScope          = errors.New("scope must be company:<id> or job:<id>")
	ErrUnknownConnection = errors.New("unknown connection")
)

func ParseScope(s string) (Scope, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Scope{}, ErrBadScope
	}
	switch ScopeKind(kind) {
	case ScopeCompany, ScopeJob:
		return Scope{Kind: ScopeKind(kind), ID: types.ID(id)}, nil
	default:
		return Scope{}, ErrBadScope
	}
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + string(s.ID)
}

// ETAView is the subscriber-facing projection of an estimate.
type ETAView struct {
	Minutes        float64 `json:"minutes"`
	DistanceMeters float64 `json:"distanceMeters"`
	Method         string  `json:"method"`
	Confidence     float64 `json:"confidence"`
}

// EntityDelta describes one entity's current state on the wire.
type EntityDelta struct {
	EntityID     string    `json:"entityId"`
	EntityKind   string    `json:"entityKind"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Speed        *float64  `json:"speed,omitempty"`
	Heading      *float64  `json:"heading,omitempty"`
	BatteryLevel *int      `json:"batteryLevel,omitempty"`
	CapturedAt   time.Time `json:"capturedAt"`
	AgeMinutes   float64   `json:"ageMinutes"`
	IsStale      bool      `json:"isStale"`
	ETA          *ETAView  `json:"eta,omitempty"`
	// Subscribers is a diagnostic count carried only in snapshot entries;
	// the delta stream stays minimal.
	Subscribers int `json:"subscribers,omitempty"`
}

type deltaMessage struct {
	Type string `json:"type"`
	EntityDelta
}

type snapshotMessage struct {
	Type     string        `json:"type"`
	Scope    string        `json:"scope"`
	Entities []EntityDelta `json:"entities"`
}

type evictedMessage struct {
	Type     string `json:"type"`
	EntityID string `json:"entityId"`
}

func toDelta(snap track.Snapshot) EntityDelta {
	d := EntityDelta{
		EntityID:   string(snap.Entity.ID),
		EntityKind: string(snap.Entity.Kind),
		CapturedAt: snap.LastUpdatedAt,
		AgeMinutes: snap.Freshness.AgeMinutes,
		IsStale:    snap.Freshness.IsStale,
	}
	if snap.LastSample != nil {
		d.Lat = snap.LastSample.Position.Lat
		d.Lng = snap.LastSample.Position.Lng
		d.Speed = snap.LastSample.SpeedKmh
		d.Heading = snap.LastSample.HeadingDeg
		d.BatteryLevel = snap.LastSample.Battery
	}
	if snap.ETA != nil {
		d.ETA = &ETAView{
			Minutes:        snap.ETA.Minutes,
			DistanceMeters: snap.ETA.DistanceMeters,
			Method:         string(snap.ETA.Method),
			Confidence:     snap.ETA.Confidence,
		}
	}
	return d
}

func toSnapshotEntry(snap track.Snapshot) EntityDelta {
	d := toDelta(snap)
	d.Subscribers = snap.Subscribers
	return d
}
