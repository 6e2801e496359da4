package mcptransport

import (
	"math/rand"
	"time"
)

// Reconnect backoff defaults (spec.md §4.I "reconnect with capped
// exponential backoff (base = configured reconnect interval; cap = 30
// s; hard limit of maxReconnectAttempts)"). Formulas adapted from
// other_examples' arkeep connection-manager.go nextBackoff/jitter.
const (
	DefaultReconnectInterval = time.Second
	DefaultBackoffCap        = 30 * time.Second
	backoffFactor            = 2.0
	jitterFraction           = 0.2
)

func nextBackoff(current, cap time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > cap {
		return cap
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
