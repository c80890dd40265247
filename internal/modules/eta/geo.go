// README: Pure geographic computation helpers for the tracking engine.
package eta

import (
	"math"
	"time"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance in meters between two
// points specified in decimal degrees.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// BearingDegrees returns the initial bearing from a to b in degrees,
// normalized to [0, 360).
func BearingDegrees(a, b types.Point) float64 {
	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) - math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLng)

	deg := math.Atan2(y, x) * 180.0 / math.Pi
	return math.Mod(deg+360.0, 360.0)
}

// SpeedSample is one observed speed with its capture time, oldest first in
// history slices.
type SpeedSample struct {
	Kmh float64
	At  time.Time
}

// SmoothedSpeedKmh returns a recency-weighted average over the history:
// the i-th sample (oldest first) gets weight i+1, so a burst of fresh
// readings dominates a stale tail without discarding it outright.
func SmoothedSpeedKmh(history []SpeedSample) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum, weights float64
	for i, s := range history {
		w := float64(i + 1)
		sum += s.Kmh * w
		weights += w
	}
	return sum / weights
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
