// README: Ingest gateway; validates and normalizes inbound location payloads.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/config"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

// Payload is the wire shape of one inbound location update.
type Payload struct {
	EntityKind   string   `json:"entityKind"`
	EntityID     string   `json:"entityId"`
	Lat          float64  `json:"lat"`
	Lng          float64  `json:"lng"`
	Accuracy     float64  `json:"accuracy"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	BatteryLevel *int     `json:"batteryLevel,omitempty"`
	CapturedAt   string   `json:"capturedAt"`
	Source       string   `json:"source"`
}

// Ack is the soft acknowledgment returned to producers. OUT_OF_ORDER is an
// expected condition on flaky mobile networks, not a failure.
type Ack struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

const (
	OutcomeApplied    = "APPLIED"
	OutcomeOutOfOrder = "OUT_OF_ORDER"
	OutcomeRejected   = "REJECTED"
)

// Publisher receives the snapshot of every applied update for fan-out.
type Publisher interface {
	Publish(ctx context.Context, snap track.Snapshot)
}

// Flusher mirrors applied updates to the external job store, asynchronously.
type Flusher interface {
	Flush(ref track.EntityRef)
}

// Gateway is stateless and safe for concurrent use from many producer
// connections; all shared state lives behind the registry.
type Gateway struct {
	registry *track.Registry
	hub      Publisher
	bridge   Flusher
	skew     time.Duration
	logger   *slog.Logger
}

func NewGateway(registry *track.Registry, hub Publisher, bridge Flusher, cfg config.TrackingConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		hub:      hub,
		bridge:   bridge,
		skew:     cfg.ClockSkewBound,
		logger:   logger,
	}
}

// Accept validates and normalizes one payload, forwards it to the registry,
// and triggers fan-out and write-back for applied updates. Validation is
// the only condition reported as a rejection.
func (g *Gateway) Accept(ctx context.Context, p Payload) Ack {
	sample, reason := g.normalize(p)
	if reason != "" {
		return Ack{Outcome: OutcomeRejected, Reason: reason}
	}

	outcome, snap := g.registry.Update(sample)
	switch outcome {
	case track.OutcomeOutOfOrder:
		g.logger.Debug("discarded out-of-order sample",
			"kind", sample.Entity.Kind, "id", sample.Entity.ID, "capturedAt", sample.CapturedAt)
		return Ack{Outcome: OutcomeOutOfOrder, Reason: "older than stored sample"}
	default:
		g.hub.Publish(ctx, *snap)
		g.bridge.Flush(sample.Entity)
		return Ack{Outcome: OutcomeApplied}
	}
}

// normalize maps a raw payload onto a LocationSample, returning a rejection
// reason for anything malformed.
func (g *Gateway) normalize(p Payload) (track.LocationSample, string) {
	var sample track.LocationSample

	kind := track.EntityKind(p.EntityKind)
	if kind != track.KindJob && kind != track.KindTracker {
		return sample, "entityKind must be JOB or TRACKER"
	}
	if p.EntityID == "" {
		return sample, "entityId is required"
	}
	if p.Lat < -90 || p.Lat > 90 {
		return sample, "lat out of range"
	}
	if p.Lng < -180 || p.Lng > 180 {
		return sample, "lng out of range"
	}
	if p.Accuracy < 0 {
		return sample, "accuracy must be >= 0"
	}
	if p.Speed != nil && *p.Speed < 0 {
		return sample, "speed must be >= 0"
	}
	if p.Heading != nil && (*p.Heading < 0 || *p.Heading > 360) {
		return sample, "heading must be within 0-360"
	}
	if p.BatteryLevel != nil && (*p.BatteryLevel < 0 || *p.BatteryLevel > 100) {
		return sample, "batteryLevel must be within 0-100"
	}

	source := track.Source(p.Source)
	switch source {
	case track.SourceMobileGPS, track.SourceManualEntry, track.SourceLiveTracker:
	default:
		return sample, "unknown source"
	}

	capturedAt, err := time.Parse(time.RFC3339, p.CapturedAt)
	if err != nil {
		return sample, "capturedAt is not a valid RFC3339 timestamp"
	}
	if capturedAt.After(time.Now().Add(g.skew)) {
		return sample, "capturedAt is too far in the future"
	}

	sample = track.LocationSample{
		Entity:     track.EntityRef{Kind: kind, ID: types.ID(p.EntityID)},
		Position:   types.Point{Lat: p.Lat, Lng: p.Lng},
		AccuracyM:  p.Accuracy,
		HeadingDeg: p.Heading,
		Battery:    p.BatteryLevel,
		CapturedAt: capturedAt,
		Source:     source,
	}
	if p.Speed != nil {
		sample.SpeedKmh = normalizedSpeedKmh(*p.Speed, source)
	}
	return sample, ""
}

// normalizedSpeedKmh converts producer units to km/h. Live-tracker hardware
// reports m/s; the mobile and manual paths already send km/h.
func normalizedSpeedKmh(speed float64, source track.Source) *float64 {
	if source == track.SourceLiveTracker {
		speed *= 3.6
	}
	return &speed
}
