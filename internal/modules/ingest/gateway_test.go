package ingest

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/config"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
)

type fakePublisher struct {
	published []track.Snapshot
}

func (f *fakePublisher) Publish(_ context.Context, snap track.Snapshot) {
	f.published = append(f.published, snap)
}

type fakeFlusher struct {
	flushed []track.EntityRef
}

func (f *fakeFlusher) Flush(ref track.EntityRef) {
	f.flushed = append(f.flushed, ref)
}

func testGateway() (*Gateway, *fakePublisher, *fakeFlusher) {
	cfg := config.TrackingConfig{
		StaleAfter:        5 * time.Minute,
		IdleEviction:      24 * time.Hour,
		ClockSkewBound:    10 * time.Minute,
		StationaryWindow:  3 * time.Minute,
		SpeedHistoryDepth: 10,
		SweepInterval:     5 * time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := track.NewRegistry(cfg, eta.NewCalculator(cfg.StationaryWindow), nil, logger)
	pub := &fakePublisher{}
	flush := &fakeFlusher{}
	return NewGateway(registry, pub, flush, cfg, logger), pub, flush
}

func validPayload(at time.Time) Payload {
	speed := 70.0
	return Payload{
		EntityKind: "JOB",
		EntityID:   "J1",
		Lat:        19.2183,
		Lng:        72.9781,
		Accuracy:   12,
		Speed:      &speed,
		CapturedAt: at.Format(time.RFC3339),
		Source:     "MOBILE_GPS",
	}
}

func TestAccept_ValidSampleFlowsThrough(t *testing.T) {
	g, pub, flush := testGateway()

	ack := g.Accept(context.Background(), validPayload(time.Now()))
	if ack.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %s (%s), want %s", ack.Outcome, ack.Reason, OutcomeApplied)
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d snapshots, want 1", len(pub.published))
	}
	if len(flush.flushed) != 1 {
		t.Errorf("flushed %d refs, want 1", len(flush.flushed))
	}
	if pub.published[0].Entity.ID != "J1" {
		t.Errorf("published entity %s, want J1", pub.published[0].Entity.ID)
	}
}

func TestAccept_Validation(t *testing.T) {
	now := time.Now()
	negSpeed := -1.0
	badHeading := 400.0
	badBattery := 150

	tests := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"unknown kind", func(p *Payload) { p.EntityKind = "VEHICLE" }},
		{"missing entity id", func(p *Payload) { p.EntityID = "" }},
		{"lat too big", func(p *Payload) { p.Lat = 90.5 }},
		{"lat too small", func(p *Payload) { p.Lat = -90.5 }},
		{"lng too big", func(p *Payload) { p.Lng = 180.5 }},
		{"negative accuracy", func(p *Payload) { p.Accuracy = -1 }},
		{"negative speed", func(p *Payload) { p.Speed = &negSpeed }},
		{"heading out of range", func(p *Payload) { p.Heading = &badHeading }},
		{"battery out of range", func(p *Payload) { p.BatteryLevel = &badBattery }},
		{"unparseable timestamp", func(p *Payload) { p.CapturedAt = "yesterday-ish" }},
		{"timestamp too far in future", func(p *Payload) { p.CapturedAt = now.Add(time.Hour).Format(time.RFC3339) }},
		{"unknown source", func(p *Payload) { p.Source = "CARRIER_PIGEON" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, pub, flush := testGateway()
			p := validPayload(now)
			tt.mutate(&p)

			ack := g.Accept(context.Background(), p)
			if ack.Outcome != OutcomeRejected {
				t.Fatalf("outcome = %s, want %s", ack.Outcome, OutcomeRejected)
			}
			if ack.Reason == "" {
				t.Error("rejection should carry a reason")
			}
			if len(pub.published) != 0 || len(flush.flushed) != 0 {
				t.Error("rejected samples must not reach fan-out or persistence")
			}
		})
	}
}

func TestAccept_FutureWithinSkewAllowed(t *testing.T) {
	g, _, _ := testGateway()

	p := validPayload(time.Now().Add(2 * time.Minute))
	ack := g.Accept(context.Background(), p)
	if ack.Outcome != OutcomeApplied {
		t.Errorf("a small clock skew should be tolerated, got %s (%s)", ack.Outcome, ack.Reason)
	}
}

func TestAccept_OutOfOrderIsSoft(t *testing.T) {
	g, pub, flush := testGateway()
	t0 := time.Now()

	g.Accept(context.Background(), validPayload(t0))
	ack := g.Accept(context.Background(), validPayload(t0.Add(-time.Second)))

	if ack.Outcome != OutcomeOutOfOrder {
		t.Fatalf("outcome = %s, want %s", ack.Outcome, OutcomeOutOfOrder)
	}
	if len(pub.published) != 1 || len(flush.flushed) != 1 {
		t.Error("out-of-order samples must not be published or persisted")
	}
}

func TestAccept_LiveTrackerSpeedNormalized(t *testing.T) {
	g, pub, _ := testGateway()

	// Tracker hardware reports m/s: 20 m/s is 72 km/h.
	speed := 20.0
	p := validPayload(time.Now())
	p.EntityKind = "TRACKER"
	p.EntityID = "T9"
	p.Source = "LIVE_TRACKER"
	p.Speed = &speed

	ack := g.Accept(context.Background(), p)
	if ack.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %s (%s), want %s", ack.Outcome, ack.Reason, OutcomeApplied)
	}
	got := pub.published[0].LastSample.SpeedKmh
	if got == nil || math.Abs(*got-72) > 0.001 {
		t.Errorf("normalized speed = %v, want 72", got)
	}
}
