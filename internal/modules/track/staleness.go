// README: Staleness policy; classifies entities by sample age.
package track

import "time"

// StalenessPolicy maps a last-update time to a freshness classification.
// Classification is evaluated on every read, so an entity that simply stops
// sending flips to stale without any new event arriving.
type StalenessPolicy struct {
	StaleAfter time.Duration
}

func (p StalenessPolicy) Classify(lastUpdatedAt, now time.Time) Freshness {
	if lastUpdatedAt.IsZero() {
		return Freshness{AgeMinutes: 0, IsStale: true}
	}
	age := now.Sub(lastUpdatedAt)
	if age < 0 {
		age = 0
	}
	return Freshness{
		AgeMinutes: age.Minutes(),
		IsStale:    age > p.StaleAfter,
	}
}
