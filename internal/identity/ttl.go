package identity

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultMinTTL = 72 * time.Hour
	DefaultMaxTTL = 144 * time.Hour
)

// TTLPolicy spreads refresh deadlines uniformly over [Min, Max] so records
// written together do not all expire together.
type TTLPolicy struct {
	Min time.Duration
	Max time.Duration
}

// DefaultTTLPolicy returns the 3 to 6 day policy.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Min: DefaultMinTTL, Max: DefaultMaxTTL}
}

// Next returns the refresh deadline for a record written at now.
func (p TTLPolicy) Next(now time.Time) time.Time {
	if p.Max <= p.Min {
		return now.Add(p.Min)
	}
	return now.Add(p.Min + rand.N(p.Max-p.Min+1))
}
