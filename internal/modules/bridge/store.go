// README: Job-store accessors backed by Postgres plus a Redis live-position mirror.
package bridge

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

const liveGeoKey = "tracking:live:positions"

var ErrUnknownEntity = errors.New("entity not known to job store")

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

// RouteDestination returns the job's destination coordinate when route data
// exists. Jobs without geocoded destinations report ok=false, not an error.
func (s *Store) RouteDestination(ctx context.Context, jobID types.ID) (types.Point, bool, error) {
	var lat, lng *float64
	err := s.db.QueryRow(ctx,
		`SELECT dest_lat, dest_lng FROM jobs WHERE id = $1`, string(jobID),
	).Scan(&lat, &lng)
	if err == pgx.ErrNoRows {
		return types.Point{}, false, ErrUnknownEntity
	}
	if err != nil {
		return types.Point{}, false, err
	}
	if lat == nil || lng == nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: *lat, Lng: *lng}, true, nil
}

// JobCompany resolves the owning company for scope matching.
func (s *Store) JobCompany(ctx context.Context, jobID types.ID) (types.ID, error) {
	var company string
	err := s.db.QueryRow(ctx,
		`SELECT company_id FROM jobs WHERE id = $1`, string(jobID),
	).Scan(&company)
	if err == pgx.ErrNoRows {
		return "", ErrUnknownEntity
	}
	if err != nil {
		return "", err
	}
	return types.ID(company), nil
}

// TrackerCompany resolves the owning company for a standalone tracker.
func (s *Store) TrackerCompany(ctx context.Context, trackerID types.ID) (types.ID, error) {
	var company string
	err := s.db.QueryRow(ctx,
		`SELECT company_id FROM trackers WHERE id = $1`, string(trackerID),
	).Scan(&company)
	if err == pgx.ErrNoRows {
		return "", ErrUnknownEntity
	}
	if err != nil {
		return "", err
	}
	return types.ID(company), nil
}

// SaveLastKnownLocation mirrors the in-memory state into the job store. The
// persisted copy is allowed to lag; dashboards read live state, not this.
func (s *Store) SaveLastKnownLocation(ctx context.Context, snap track.Snapshot) error {
	if snap.LastSample == nil {
		return nil
	}
	pos := snap.LastSample.Position

	var etaMinutes, etaConfidence *float64
	if snap.ETA != nil {
		etaMinutes = &snap.ETA.Minutes
		etaConfidence = &snap.ETA.Confidence
	}

	table := "jobs"
	if snap.Entity.Kind == track.KindTracker {
		table = "trackers"
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE `+table+`
		    SET last_lat = $2, last_lng = $3, last_location_at = $4,
		        eta_minutes = $5, eta_confidence = $6
		  WHERE id = $1`,
		string(snap.Entity.ID), pos.Lat, pos.Lng, snap.LastUpdatedAt, etaMinutes, etaConfidence,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownEntity
	}
	return nil
}

// MirrorPosition keeps a Redis GEO set of last known positions for nearby
// queries from the wider back office.
func (s *Store) MirrorPosition(ctx context.Context, ref track.EntityRef, pos types.Point) error {
	return s.redis.GeoAdd(ctx, liveGeoKey, &redis.GeoLocation{
		Name:      string(ref.Kind) + ":" + string(ref.ID),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}
