package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/saviobatista/flightgen/internal/generator"
	"github.com/saviobatista/flightgen/internal/types"
)

// FixtureSeed and FixtureBaseTime pin the shared test generator
const FixtureSeed = 42

// FixtureBaseTime is the anchor time used by fixture generators
var FixtureBaseTime = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

// FixtureGenerator returns a fresh seeded generator for reproducible tests
func FixtureGenerator() *generator.Generator {
	return generator.New(FixtureSeed, FixtureBaseTime)
}

// FixtureRecords returns the first n records of the fixture generator
func FixtureRecords(n int) []types.FlightRecord {
	return FixtureGenerator().Generate(n)
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
