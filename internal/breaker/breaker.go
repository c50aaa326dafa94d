// Package breaker provides shared circuit breaker construction for the
// external capabilities and the ambassador proxy.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// New returns a circuit breaker that opens once at least half of the calls
// in the rolling window fail (measured after a handful of requests) and
// half-opens after 30 seconds.
func New(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})
}
