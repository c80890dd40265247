package track

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/config"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/eta"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

type fakeDestinations struct {
	dests map[types.ID]types.Point
}

func (f *fakeDestinations) Destination(jobID types.ID) (types.Point, bool) {
	if f == nil || f.dests == nil {
		return types.Point{}, false
	}
	p, ok := f.dests[jobID]
	return p, ok
}

func (f *fakeDestinations) RouteHint(types.ID) (eta.RouteHint, bool) {
	return eta.RouteHint{}, false
}

func testConfig() config.TrackingConfig {
	return config.TrackingConfig{
		StaleAfter:        5 * time.Minute,
		IdleEviction:      24 * time.Hour,
		ClockSkewBound:    10 * time.Minute,
		StationaryWindow:  3 * time.Minute,
		SpeedHistoryDepth: 10,
		SweepInterval:     5 * time.Minute,
	}
}

func testRegistry(dests *fakeDestinations) *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calc := eta.NewCalculator(3 * time.Minute)
	return NewRegistry(testConfig(), calc, dests, logger)
}

func sampleAt(id string, at time.Time, speedKmh float64) LocationSample {
	speed := speedKmh
	return LocationSample{
		Entity:     EntityRef{Kind: KindJob, ID: types.ID(id)},
		Position:   types.Point{Lat: 19.2183, Lng: 72.9781},
		AccuracyM:  10,
		SpeedKmh:   &speed,
		CapturedAt: at,
		Source:     SourceMobileGPS,
	}
}

func TestUpdate_CreatedThenApplied(t *testing.T) {
	r := testRegistry(nil)
	t0 := time.Now().Add(-time.Minute)

	outcome, snap := r.Update(sampleAt("J1", t0, 70))
	if outcome != OutcomeCreated {
		t.Fatalf("first sample outcome = %s, want %s", outcome, OutcomeCreated)
	}
	if snap == nil || snap.LastSample == nil {
		t.Fatal("expected a snapshot with the applied sample")
	}

	outcome, snap = r.Update(sampleAt("J1", t0.Add(10*time.Second), 72))
	if outcome != OutcomeApplied {
		t.Fatalf("second sample outcome = %s, want %s", outcome, OutcomeApplied)
	}
	if !snap.LastUpdatedAt.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("lastUpdatedAt = %v, want %v", snap.LastUpdatedAt, t0.Add(10*time.Second))
	}
}

func TestUpdate_OutOfOrderDiscarded(t *testing.T) {
	r := testRegistry(nil)
	t0 := time.Now().Add(-time.Minute)

	r.Update(sampleAt("J1", t0, 70))

	outcome, snap := r.Update(sampleAt("J1", t0.Add(-time.Second), 50))
	if outcome != OutcomeOutOfOrder {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeOutOfOrder)
	}
	if snap != nil {
		t.Error("out-of-order update should not produce a snapshot")
	}

	stored, ok := r.Snapshot(EntityRef{Kind: KindJob, ID: "J1"})
	if !ok {
		t.Fatal("entity should still exist")
	}
	if !stored.LastUpdatedAt.Equal(t0) {
		t.Errorf("stored state changed: lastUpdatedAt = %v, want %v", stored.LastUpdatedAt, t0)
	}
	if *stored.LastSample.SpeedKmh != 70 {
		t.Errorf("stored speed = %f, want the first sample's 70", *stored.LastSample.SpeedKmh)
	}
}

func TestUpdate_MonotonicInEitherArrivalOrder(t *testing.T) {
	t0 := time.Now().Add(-time.Minute)
	t1 := t0.Add(time.Second)

	orders := [][]time.Time{{t0, t1}, {t1, t0}}
	for _, order := range orders {
		r := testRegistry(nil)
		for _, at := range order {
			r.Update(sampleAt("J1", at, 60))
		}
		snap, _ := r.Snapshot(EntityRef{Kind: KindJob, ID: "J1"})
		if !snap.LastUpdatedAt.Equal(t1) {
			t.Errorf("arrival order %v: stored %v, want newest %v", order, snap.LastUpdatedAt, t1)
		}
	}
}

func TestUpdate_EqualTimestampIsOutOfOrder(t *testing.T) {
	r := testRegistry(nil)
	t0 := time.Now().Add(-time.Minute)

	r.Update(sampleAt("J1", t0, 60))
	outcome, _ := r.Update(sampleAt("J1", t0, 61))
	if outcome != OutcomeOutOfOrder {
		t.Errorf("duplicate timestamp outcome = %s, want %s", outcome, OutcomeOutOfOrder)
	}
}

func TestUpdate_DerivesSpeedAndHeading(t *testing.T) {
	r := testRegistry(nil)
	t0 := time.Now().Add(-2 * time.Minute)

	first := sampleAt("J1", t0, 0)
	first.SpeedKmh = nil
	r.Update(first)

	// ~1.85km due north one minute later: ~111km/h, bearing ~0.
	second := LocationSample{
		Entity:     EntityRef{Kind: KindJob, ID: "J1"},
		Position:   types.Point{Lat: 19.235, Lng: 72.9781},
		AccuracyM:  10,
		CapturedAt: t0.Add(time.Minute),
		Source:     SourceMobileGPS,
	}
	r.Update(second)

	snap, _ := r.Snapshot(EntityRef{Kind: KindJob, ID: "J1"})
	if snap.LastSample.SpeedKmh == nil {
		t.Fatal("speed should be derived from consecutive positions")
	}
	if math.Abs(*snap.LastSample.SpeedKmh-111) > 5 {
		t.Errorf("derived speed = %f, want ~111", *snap.LastSample.SpeedKmh)
	}
	if snap.LastSample.HeadingDeg == nil {
		t.Fatal("heading should be derived from consecutive positions")
	}
	if *snap.LastSample.HeadingDeg > 5 && *snap.LastSample.HeadingDeg < 355 {
		t.Errorf("derived heading = %f, want ~0 (north)", *snap.LastSample.HeadingDeg)
	}
}

func TestUpdate_ComputesETAWithDestination(t *testing.T) {
	dests := &fakeDestinations{dests: map[types.ID]types.Point{
		// ~30km due north of the sample position.
		"J1": {Lat: 19.2183 + 0.27, Lng: 72.9781},
	}}
	r := testRegistry(dests)
	t0 := time.Now()

	var snap *Snapshot
	for i := 0; i < 5; i++ {
		_, snap = r.Update(sampleAt("J1", t0.Add(time.Duration(i)*10*time.Second), 60))
	}

	if snap.ETA == nil {
		t.Fatal("expected an ETA for a job with a known destination")
	}
	if snap.ETA.Method != eta.MethodHaversineSpeed {
		t.Errorf("method = %s, want %s", snap.ETA.Method, eta.MethodHaversineSpeed)
	}
	// ~30km at 60km/h.
	if math.Abs(snap.ETA.Minutes-30) > 3 {
		t.Errorf("minutes = %f, want ~30", snap.ETA.Minutes)
	}
}

func TestUpdate_ParkedJobSwitchesToHold(t *testing.T) {
	dests := &fakeDestinations{dests: map[types.ID]types.Point{
		"J1": {Lat: 19.2183 + 0.27, Lng: 72.9781},
	}}
	r := testRegistry(dests)
	base := time.Now().Add(-12 * time.Minute)

	// Moving at 60km/h, then parked but still reporting every 30 seconds
	// for well past the stationary window.
	for i := 0; i < 5; i++ {
		r.Update(sampleAt("J1", base.Add(time.Duration(i)*10*time.Second), 60))
	}
	var snap *Snapshot
	for i := 0; i < 22; i++ {
		at := base.Add(time.Minute + time.Duration(i)*30*time.Second)
		_, s := r.Update(sampleAt("J1", at, 0))
		if s != nil {
			snap = s
		}
	}

	if snap == nil || snap.ETA == nil {
		t.Fatal("expected a held ETA for the parked job")
	}
	if snap.ETA.Method != eta.MethodStationaryHold {
		t.Fatalf("method = %s, want %s", snap.ETA.Method, eta.MethodStationaryHold)
	}
	// The held estimate grows while parked instead of freezing at ~30.
	if snap.ETA.Minutes <= 30 {
		t.Errorf("held minutes = %f, want it grown past the pre-stop ~30", snap.ETA.Minutes)
	}
}

func TestUpdate_NoETAWithoutDestination(t *testing.T) {
	r := testRegistry(&fakeDestinations{})
	_, snap := r.Update(sampleAt("J1", time.Now(), 60))
	if snap.ETA != nil {
		t.Errorf("no destination should mean no estimate, got %+v", snap.ETA)
	}
}

func TestSweep_EvictsIdleEntities(t *testing.T) {
	r := testRegistry(nil)
	t0 := time.Now().Add(-48 * time.Hour)

	var evicted []EntityRef
	var mu sync.Mutex
	r.SetEvictionHook(func(ref EntityRef) {
		mu.Lock()
		evicted = append(evicted, ref)
		mu.Unlock()
	})

	r.Update(sampleAt("J1", t0, 60))
	r.Update(sampleAt("J2", time.Now(), 60))

	r.sweepOnce(time.Now())

	if _, ok := r.Snapshot(EntityRef{Kind: KindJob, ID: "J1"}); ok {
		t.Error("idle entity should be evicted")
	}
	if _, ok := r.Snapshot(EntityRef{Kind: KindJob, ID: "J2"}); !ok {
		t.Error("active entity should survive the sweep")
	}
	if len(r.SnapshotAll()) != 1 {
		t.Errorf("SnapshotAll() returned %d entities, want 1", len(r.SnapshotAll()))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0].ID != "J1" {
		t.Errorf("eviction hook got %v, want [J1]", evicted)
	}
}

func TestUpdate_AfterEvictionRecreates(t *testing.T) {
	r := testRegistry(nil)
	t0 := time.Now().Add(-48 * time.Hour)

	r.Update(sampleAt("J1", t0, 60))
	r.sweepOnce(time.Now())

	outcome, _ := r.Update(sampleAt("J1", time.Now(), 60))
	if outcome != OutcomeCreated {
		t.Errorf("outcome after eviction = %s, want %s", outcome, OutcomeCreated)
	}
}

func TestSnapshot_LazyStaleness(t *testing.T) {
	r := testRegistry(nil)
	r.Update(sampleAt("J1", time.Now().Add(-10*time.Minute), 60))

	// No new samples arrived; the read alone must report stale.
	snap, _ := r.Snapshot(EntityRef{Kind: KindJob, ID: "J1"})
	if !snap.Freshness.IsStale {
		t.Error("entity last seen 10m ago should read as stale")
	}
	if snap.Freshness.AgeMinutes < 9 {
		t.Errorf("AgeMinutes = %f, want ~10", snap.Freshness.AgeMinutes)
	}
}

func TestUpdate_ConcurrentProducers(t *testing.T) {
	r := testRegistry(nil)
	base := time.Now().Add(-time.Hour)

	const producers = 4
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				at := base.Add(time.Duration(p*perProducer+i) * time.Second)
				r.Update(sampleAt("J1", at, 60))
			}
		}(p)
	}
	wg.Wait()

	snap, ok := r.Snapshot(EntityRef{Kind: KindJob, ID: "J1"})
	if !ok {
		t.Fatal("entity missing after concurrent updates")
	}
	newest := base.Add(time.Duration(producers*perProducer-1) * time.Second)
	if !snap.LastUpdatedAt.Equal(newest) {
		t.Errorf("lastUpdatedAt = %v, want the newest timestamp %v", snap.LastUpdatedAt, newest)
	}
}
