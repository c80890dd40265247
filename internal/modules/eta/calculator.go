// README: ETA calculator; projects arrival from smoothed speed and remaining distance.
package eta

import (
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

type Method string

const (
	MethodHaversineSpeed  Method = "HAVERSINE_SPEED"
	MethodRouteProjection Method = "ROUTE_PROJECTION"
	MethodStationaryHold  Method = "STATIONARY_HOLD"
)

// Estimate is a computed arrival projection for one entity.
type Estimate struct {
	Minutes        float64   `json:"minutes"`
	DistanceMeters float64   `json:"distanceMeters"`
	Method         Method    `json:"method"`
	Confidence     float64   `json:"confidence"`
	ComputedAt     time.Time `json:"computedAt"`
}

// RouteHint carries the road/great-circle distance ratio observed the last
// time a road route was fetched for the entity. Applying the ratio to the
// current great-circle distance keeps route-aware estimates usable between
// refreshes without any I/O on the update path.
type RouteHint struct {
	Factor    float64
	FetchedAt time.Time
}

// Input is a point-in-time view of one entity, assembled under the entity's
// lock and handed to the calculator.
type Input struct {
	Position     types.Point
	Destination  types.Point
	AccuracyM    float64
	SampleAge    time.Duration
	SpeedHistory []SpeedSample
	RouteHint    *RouteHint
	Previous     *Estimate
	// StationarySince is when the entity last dropped below StationaryKmh,
	// zero while it is moving. Maintained by the registry across
	// recomputes; the calculator itself is stateless.
	StationarySince time.Time
	Now             time.Time
}

// StationaryKmh is the speed below which an entity counts as not moving.
// The registry uses the same threshold to mark when a stop began.
const StationaryKmh = 2.0

const (
	// arrivalThresholdM treats the entity as arrived.
	arrivalThresholdM = 50.0
	// routeHintMaxAge bounds how stale a road-distance ratio may be before
	// falling back to plain great-circle projection.
	routeHintMaxAge = 15 * time.Minute

	agePenaltyAfter  = 2 * time.Minute
	accuracyPenaltyM = 50.0
	coldStartSamples = 3
	minConfidence    = 0.05
	agePenaltyPerMin = 0.15
	accuracyPenalty  = 0.7
	coldStartPenalty = 0.8
)

type Calculator struct {
	stationaryWindow time.Duration
}

func NewCalculator(stationaryWindow time.Duration) *Calculator {
	return &Calculator{stationaryWindow: stationaryWindow}
}

// Recompute derives a fresh estimate from the input snapshot. It returns nil
// when no destination is known; a projection is never fabricated.
func (c *Calculator) Recompute(in Input) *Estimate {
	if in.Destination == (types.Point{}) {
		return nil
	}

	distance := HaversineMeters(in.Position, in.Destination)
	method := MethodHaversineSpeed
	if in.RouteHint != nil && in.RouteHint.Factor >= 1.0 && in.Now.Sub(in.RouteHint.FetchedAt) <= routeHintMaxAge {
		distance *= in.RouteHint.Factor
		method = MethodRouteProjection
	}

	if distance <= arrivalThresholdM {
		return &Estimate{
			Minutes:        0,
			DistanceMeters: distance,
			Method:         MethodHaversineSpeed,
			Confidence:     1.0,
			ComputedAt:     in.Now,
		}
	}

	speed := SmoothedSpeedKmh(in.SpeedHistory)
	if speed < StationaryKmh {
		return c.stationaryHold(in, distance)
	}

	metersPerMinute := speed * 1000.0 / 60.0
	return &Estimate{
		Minutes:        distance / metersPerMinute,
		DistanceMeters: distance,
		Method:         method,
		Confidence:     confidence(in),
		ComputedAt:     in.Now,
	}
}

// stationaryHold keeps the previous projection and lets it age instead of
// dividing by a near-zero speed. The stationary duration is measured from
// StationarySince, not from the previous estimate's ComputedAt: an entity
// that keeps reporting while parked refreshes ComputedAt on every sample,
// and the hold must still engage once the window elapses. Before the window
// elapses the previous estimate is carried forward unchanged.
func (c *Calculator) stationaryHold(in Input, distance float64) *Estimate {
	if in.Previous == nil {
		// Never moved and nothing to hold: no estimate.
		return nil
	}
	held := *in.Previous
	var stationaryFor time.Duration
	if !in.StationarySince.IsZero() {
		stationaryFor = in.Now.Sub(in.StationarySince)
	}
	if stationaryFor >= c.stationaryWindow {
		if in.Previous.Method == MethodStationaryHold {
			// Already holding: grow by the time since the last recompute
			// so repeated samples do not re-add the whole stop.
			held.Minutes = in.Previous.Minutes + in.Now.Sub(in.Previous.ComputedAt).Minutes()
		} else {
			held.Minutes = in.Previous.Minutes + stationaryFor.Minutes()
		}
		held.Method = MethodStationaryHold
		held.Confidence = confidence(in)
	}
	held.DistanceMeters = distance
	held.ComputedAt = in.Now
	return &held
}

// confidence starts at 1.0 and decays multiplicatively for sample age,
// poor GPS accuracy, and a cold-start speed history.
func confidence(in Input) float64 {
	conf := 1.0

	if in.SampleAge > agePenaltyAfter {
		over := (in.SampleAge - agePenaltyAfter).Minutes()
		conf *= 1.0 - min(over*agePenaltyPerMin, 0.9)
	}
	if in.AccuracyM > accuracyPenaltyM {
		conf *= accuracyPenalty
	}
	if len(in.SpeedHistory) < coldStartSamples {
		conf *= coldStartPenalty
	}

	if conf < minConfidence {
		conf = minConfidence
	}
	return conf
}
