package generator

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"github.com/saviobatista/flightgen/internal/types"
)

// Airline is a (name, IATA code) pair from the reference pool
type Airline struct {
	Name string
	Code string
}

var airlines = []Airline{
	{"United Airlines", "UA"},
	{"Delta Air Lines", "DL"},
	{"American Airlines", "AA"},
	{"Southwest Airlines", "WN"},
	{"JetBlue Airways", "B6"},
	{"Alaska Airlines", "AS"},
	{"Spirit Airlines", "NK"},
	{"Frontier Airlines", "F9"},
	{"British Airways", "BA"},
	{"Lufthansa", "LH"},
	{"Air France", "AF"},
	{"KLM Royal Dutch", "KL"},
	{"Emirates", "EK"},
	{"Qatar Airways", "QR"},
	{"Singapore Airlines", "SQ"},
}

var airports = []string{
	"JFK", "LAX", "ORD", "ATL", "DFW", "DEN", "SFO", "SEA",
	"MIA", "BOS", "LHR", "CDG", "FRA", "AMS", "DXB", "SIN",
	"HND", "ICN", "SYD", "YYZ",
}

var aircraftTypes = []string{
	"B738", "B739", "B77W", "B789", "A320", "A321", "A333",
	"A359", "A388", "E190", "CRJ9", "B737",
}

var terminals = []string{"T1", "T2", "T3", "T4", "T5"}

const gateLetters = "ABCDEF"

// arrived/landed delays; the repeated zeros give exactly 3/7 on-the-dot arrivals
var landedDelays = []int{0, 0, 0, 5, 10, 15, 30}

const (
	minFlightNumber = 100
	maxFlightNumber = 9999
	offsetMinutes   = 720
	minDelay        = 15
	maxDelay        = 300
	maxGateNumber   = 40
)

// StatusWeight returns the sampling weight of a status
func StatusWeight(s types.FlightStatus) float64 {
	switch s {
	case types.StatusScheduled:
		return 0.25
	case types.StatusBoarding:
		return 0.10
	case types.StatusDeparted:
		return 0.10
	case types.StatusInAir:
		return 0.15
	case types.StatusLanded:
		return 0.10
	case types.StatusArrived:
		return 0.15
	case types.StatusDelayed:
		return 0.10
	case types.StatusCancelled:
		return 0.03
	case types.StatusDiverted:
		return 0.02
	}
	return 0
}

// Airlines returns a copy of the airline pool
func Airlines() []Airline { return append([]Airline(nil), airlines...) }

// Airports returns a copy of the airport pool
func Airports() []string { return append([]string(nil), airports...) }

// AircraftTypes returns a copy of the aircraft type pool
func AircraftTypes() []string { return append([]string(nil), aircraftTypes...) }

// Terminals returns a copy of the terminal pool
func Terminals() []string { return append([]string(nil), terminals...) }

// Generator produces reproducible synthetic flight records.
//
// Every draw comes from the generator's own random stream, so two generators
// built from the same seed and base time yield identical sequences. A
// Generator must not be shared between goroutines; give each pipeline its own.
type Generator struct {
	seed     int64
	baseTime time.Time
	rng      *rand.Rand

	statuses   []types.FlightStatus
	cumWeights []float64
}

// New creates a generator. A zero baseTime means "now", captured once.
func New(seed int64, baseTime time.Time) *Generator {
	if baseTime.IsZero() {
		baseTime = time.Now().UTC()
	}

	g := &Generator{
		seed:     seed,
		baseTime: baseTime.UTC(),
		rng:      rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
		statuses: types.AllStatuses(),
	}

	var total float64
	for _, s := range g.statuses {
		total += StatusWeight(s)
		g.cumWeights = append(g.cumWeights, total)
	}
	return g
}

// Seed returns the seed the generator was built with
func (g *Generator) Seed() int64 { return g.seed }

// BaseTime returns the anchor time scheduled times are drawn around
func (g *Generator) BaseTime() time.Time { return g.baseTime }

// Generate returns n records. n <= 0 yields an empty slice.
func (g *Generator) Generate(n int) []types.FlightRecord {
	if n < 0 {
		n = 0
	}
	records := make([]types.FlightRecord, 0, n)
	for rec := range g.Stream(n) {
		records = append(records, rec)
	}
	return records
}

// Stream yields n records one at a time. Ranging over the sequence again
// draws new records from the current stream position.
func (g *Generator) Stream(n int) iter.Seq[types.FlightRecord] {
	return func(yield func(types.FlightRecord) bool) {
		for i := 0; i < n; i++ {
			if !yield(g.next()) {
				return
			}
		}
	}
}

func (g *Generator) next() types.FlightRecord {
	airline := airlines[g.rng.IntN(len(airlines))]
	flightNumber := minFlightNumber + g.rng.IntN(maxFlightNumber-minFlightNumber+1)

	// two distinct airports, without replacement
	i := g.rng.IntN(len(airports))
	j := g.rng.IntN(len(airports) - 1)
	if j >= i {
		j++
	}
	origin, destination := airports[i], airports[j]

	flightType := types.AllFlightTypes()[g.rng.IntN(2)]

	offset := g.rng.IntN(2*offsetMinutes+1) - offsetMinutes
	scheduled := g.baseTime.Add(time.Duration(offset) * time.Minute)

	status := g.drawStatus()
	delay := g.drawDelay(status)

	var estimated, actual *time.Time
	if delay > 0 {
		t := scheduled.Add(time.Duration(delay) * time.Minute)
		estimated = &t
	}
	if status.HasActualTime() {
		t := scheduled
		if estimated != nil {
			t = *estimated
		}
		actual = &t
	}

	gate := fmt.Sprintf("%c%d", gateLetters[g.rng.IntN(len(gateLetters))], 1+g.rng.IntN(maxGateNumber))
	terminal := terminals[g.rng.IntN(len(terminals))]
	aircraft := aircraftTypes[g.rng.IntN(len(aircraftTypes))]

	rec, err := types.NewFlightRecord(types.FlightRecordInput{
		FlightID:           fmt.Sprintf("%s-%d", airline.Code, flightNumber),
		FlightType:         flightType,
		Airline:            airline.Name,
		AirlineCode:        airline.Code,
		FlightNumber:       flightNumber,
		OriginAirport:      origin,
		DestinationAirport: destination,
		ScheduledTime:      scheduled,
		EstimatedTime:      estimated,
		ActualTime:         actual,
		Status:             status,
		Gate:               &gate,
		Terminal:           &terminal,
		AircraftType:       &aircraft,
		DelayMinutes:       delay,
	})
	if err != nil {
		panic(fmt.Sprintf("generator built an invalid record: %v", err))
	}
	return rec
}

func (g *Generator) drawStatus() types.FlightStatus {
	u := g.rng.Float64() * g.cumWeights[len(g.cumWeights)-1]
	for i, w := range g.cumWeights {
		if u < w {
			return g.statuses[i]
		}
	}
	return g.statuses[len(g.statuses)-1]
}

func (g *Generator) drawDelay(status types.FlightStatus) int {
	switch status {
	case types.StatusDelayed:
		return minDelay + g.rng.IntN(maxDelay-minDelay+1)
	case types.StatusArrived, types.StatusLanded:
		return landedDelays[g.rng.IntN(len(landedDelays))]
	case types.StatusCancelled:
		return 0
	case types.StatusScheduled, types.StatusBoarding, types.StatusDeparted,
		types.StatusInAir, types.StatusDiverted:
		return 0
	}
	return 0
}
