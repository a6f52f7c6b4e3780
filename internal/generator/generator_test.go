package generator

import (
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/flightgen/internal/types"
)

var baseTime = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func TestGenerate_Count(t *testing.T) {
	for _, n := range []int{0, 1, 5, 50} {
		records := New(42, baseTime).Generate(n)
		assert.Len(t, records, n)
		assert.NotNil(t, records)
	}
	assert.Empty(t, New(42, baseTime).Generate(-3))
}

func TestGenerate_Deterministic(t *testing.T) {
	a := New(42, baseTime).Generate(200)
	b := New(42, baseTime).Generate(200)
	require.Equal(t, a, b)
}

func TestGenerate_ConcreteScenario(t *testing.T) {
	first := New(42, baseTime).Generate(5)
	second := New(42, baseTime).Generate(5)
	require.Len(t, first, 5)

	for i := range first {
		assert.Equal(t, first[i].FlightID, second[i].FlightID)
	}
}

func TestGenerate_DifferentSeedsDiverge(t *testing.T) {
	a := New(1, baseTime).Generate(20)
	b := New(2, baseTime).Generate(20)

	same := 0
	for i := range a {
		if a[i].FlightID == b[i].FlightID {
			same++
		}
	}
	assert.Less(t, same, len(a), "different seeds produced identical flight ids")
}

func TestGenerate_Invariants(t *testing.T) {
	for _, rec := range New(7, baseTime).Generate(2000) {
		assert.NotEqual(t, rec.OriginAirport, rec.DestinationAirport)
		assert.Equal(t, strings.ToUpper(rec.AirlineCode), rec.AirlineCode)
		assert.Equal(t, strings.ToUpper(rec.OriginAirport), rec.OriginAirport)
		assert.Equal(t, strings.ToUpper(rec.DestinationAirport), rec.DestinationAirport)
		assert.GreaterOrEqual(t, rec.FlightNumber, 100)
		assert.LessOrEqual(t, rec.FlightNumber, 9999)
		assert.GreaterOrEqual(t, rec.DelayMinutes, 0)
		assert.Equal(t, rec.AirlineCode+"-"+strconv.Itoa(rec.FlightNumber), rec.FlightID)

		offset := rec.ScheduledTime.Sub(baseTime)
		assert.LessOrEqual(t, math.Abs(offset.Minutes()), 720.0)

		// the generator's output must pass the validation gate unchanged
		again, err := types.NewFlightRecord(rec.Input())
		require.NoError(t, err)
		assert.Equal(t, rec, again)
	}
}

func TestGenerate_StatusDelayCoupling(t *testing.T) {
	allowed := map[int]bool{0: true, 5: true, 10: true, 15: true, 30: true}

	for _, rec := range New(99, baseTime).Generate(2000) {
		switch rec.Status {
		case types.StatusCancelled:
			assert.Zero(t, rec.DelayMinutes)
		case types.StatusDelayed:
			assert.GreaterOrEqual(t, rec.DelayMinutes, 15)
			assert.LessOrEqual(t, rec.DelayMinutes, 300)
		case types.StatusArrived, types.StatusLanded:
			assert.True(t, allowed[rec.DelayMinutes], "unexpected landed delay %d", rec.DelayMinutes)
		default:
			assert.Zero(t, rec.DelayMinutes)
		}

		if rec.DelayMinutes > 0 {
			require.NotNil(t, rec.EstimatedTime)
			assert.Equal(t, rec.ScheduledTime.Add(time.Duration(rec.DelayMinutes)*time.Minute), *rec.EstimatedTime)
		} else {
			assert.Nil(t, rec.EstimatedTime)
		}

		if rec.Status.HasActualTime() {
			require.NotNil(t, rec.ActualTime)
			want := rec.ScheduledTime
			if rec.EstimatedTime != nil {
				want = *rec.EstimatedTime
			}
			assert.Equal(t, want, *rec.ActualTime)
		} else {
			assert.Nil(t, rec.ActualTime)
		}
	}
}

func TestGenerate_AllStatusesAppear(t *testing.T) {
	seen := map[types.FlightStatus]int{}
	for _, rec := range New(2026, baseTime).Generate(2000) {
		seen[rec.Status]++
	}
	for _, s := range types.AllStatuses() {
		assert.Positive(t, seen[s], "status %s never generated", s)
	}
}

func TestGenerate_CosmeticFieldsFromPools(t *testing.T) {
	for _, rec := range New(3, baseTime).Generate(300) {
		require.NotNil(t, rec.Gate)
		require.NotNil(t, rec.Terminal)
		require.NotNil(t, rec.AircraftType)
		assert.Contains(t, gateLetters, (*rec.Gate)[:1])
		assert.Contains(t, terminals, *rec.Terminal)
		assert.Contains(t, aircraftTypes, *rec.AircraftType)
	}
}

func TestStatusWeights_SumToOne(t *testing.T) {
	var sum float64
	for _, s := range types.AllStatuses() {
		w := StatusWeight(s)
		assert.Positive(t, w, "status %s has no weight", s)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestLandedDelays_Distribution(t *testing.T) {
	zeros := 0
	for _, d := range landedDelays {
		if d == 0 {
			zeros++
		}
	}
	assert.Len(t, landedDelays, 7)
	assert.Equal(t, 3, zeros)
}

func TestStream_ContinuesInsteadOfReplaying(t *testing.T) {
	g := New(42, baseTime)
	seq := g.Stream(3)

	var first, second []types.FlightRecord
	for rec := range seq {
		first = append(first, rec)
	}
	for rec := range seq {
		second = append(second, rec)
	}

	all := New(42, baseTime).Generate(6)
	assert.Equal(t, all[:3], first)
	assert.Equal(t, all[3:], second)
}

func TestStream_EarlyBreak(t *testing.T) {
	g := New(42, baseTime)
	count := 0
	for range g.Stream(100) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)

	// only two records were drawn, so the next one matches the third of a fresh run
	next := g.Generate(1)
	all := New(42, baseTime).Generate(3)
	assert.Equal(t, all[2], next[0])
}

func TestNew_ZeroBaseTimeUsesNow(t *testing.T) {
	before := time.Now().UTC()
	g := New(1, time.Time{})
	assert.False(t, g.BaseTime().Before(before.Add(-time.Second)))
	assert.Equal(t, int64(1), g.Seed())
}

func TestPools_AreCopies(t *testing.T) {
	a := Airports()
	a[0] = "XXX"
	assert.Equal(t, "JFK", Airports()[0])
	assert.Len(t, Airlines(), 15)
	assert.Len(t, Airports(), 20)
	assert.Len(t, AircraftTypes(), 12)
	assert.Len(t, Terminals(), 5)
}
