package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FlightType tells whether a record describes an arrival or a departure
type FlightType string

const (
	FlightTypeArrival   FlightType = "arrival"
	FlightTypeDeparture FlightType = "departure"
)

// Valid reports whether t is a known flight type
func (t FlightType) Valid() bool {
	switch t {
	case FlightTypeArrival, FlightTypeDeparture:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown flight types
func (t *FlightType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !FlightType(s).Valid() {
		return fmt.Errorf("unknown flight type %q", s)
	}
	*t = FlightType(s)
	return nil
}

// AllFlightTypes returns the flight types in their canonical order
func AllFlightTypes() []FlightType {
	return []FlightType{FlightTypeArrival, FlightTypeDeparture}
}

// FlightStatus is the operational state of a flight
type FlightStatus string

const (
	StatusScheduled FlightStatus = "scheduled"
	StatusBoarding  FlightStatus = "boarding"
	StatusDeparted  FlightStatus = "departed"
	StatusInAir     FlightStatus = "in_air"
	StatusLanded    FlightStatus = "landed"
	StatusArrived   FlightStatus = "arrived"
	StatusDelayed   FlightStatus = "delayed"
	StatusCancelled FlightStatus = "cancelled"
	StatusDiverted  FlightStatus = "diverted"
)

// AllStatuses returns the nine statuses in their canonical order
func AllStatuses() []FlightStatus {
	return []FlightStatus{
		StatusScheduled,
		StatusBoarding,
		StatusDeparted,
		StatusInAir,
		StatusLanded,
		StatusArrived,
		StatusDelayed,
		StatusCancelled,
		StatusDiverted,
	}
}

// Valid reports whether s is one of the nine known statuses
func (s FlightStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusBoarding, StatusDeparted, StatusInAir,
		StatusLanded, StatusArrived, StatusDelayed, StatusCancelled, StatusDiverted:
		return true
	}
	return false
}

// MayCarryDelay reports whether a record in this status may have a non-zero delay
func (s FlightStatus) MayCarryDelay() bool {
	switch s {
	case StatusDelayed, StatusArrived, StatusLanded:
		return true
	case StatusScheduled, StatusBoarding, StatusDeparted, StatusInAir,
		StatusCancelled, StatusDiverted:
		return false
	}
	return false
}

// HasActualTime reports whether a record in this status carries an actual time
func (s FlightStatus) HasActualTime() bool {
	switch s {
	case StatusArrived, StatusLanded, StatusDeparted:
		return true
	case StatusScheduled, StatusBoarding, StatusInAir,
		StatusDelayed, StatusCancelled, StatusDiverted:
		return false
	}
	return false
}

// UnmarshalJSON rejects unknown statuses
func (s *FlightStatus) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if !FlightStatus(v).Valid() {
		return fmt.Errorf("unknown flight status %q", v)
	}
	*s = FlightStatus(v)
	return nil
}

// OnTimeThresholdMinutes is the largest delay still counted as on time
const OnTimeThresholdMinutes = 15

// FlightRecord represents a single arrival or departure event.
// Values are built through NewFlightRecord and never mutated afterwards.
type FlightRecord struct {
	FlightID           string       `json:"flight_id"`
	FlightType         FlightType   `json:"flight_type"`
	Airline            string       `json:"airline"`
	AirlineCode        string       `json:"airline_code"`
	FlightNumber       int          `json:"flight_number"`
	OriginAirport      string       `json:"origin_airport"`
	DestinationAirport string       `json:"destination_airport"`
	ScheduledTime      time.Time    `json:"scheduled_time"`
	EstimatedTime      *time.Time   `json:"estimated_time"`
	ActualTime         *time.Time   `json:"actual_time"`
	Status             FlightStatus `json:"status"`
	Gate               *string      `json:"gate"`
	Terminal           *string      `json:"terminal"`
	AircraftType       *string      `json:"aircraft_type"`
	DelayMinutes       int          `json:"delay_minutes"`
}

// IsOnTime reports whether the flight counts as on time for OTP
func (r FlightRecord) IsOnTime() bool {
	return r.DelayMinutes <= OnTimeThresholdMinutes
}

// Route returns "ORIGIN → DESTINATION"
func (r FlightRecord) Route() string {
	return r.OriginAirport + " → " + r.DestinationAirport
}

// FlightRecordInput carries unvalidated field values
type FlightRecordInput struct {
	FlightID           string
	FlightType         FlightType
	Airline            string
	AirlineCode        string
	FlightNumber       int
	OriginAirport      string
	DestinationAirport string
	ScheduledTime      time.Time
	EstimatedTime      *time.Time
	ActualTime         *time.Time
	Status             FlightStatus
	Gate               *string
	Terminal           *string
	AircraftType       *string
	DelayMinutes       int
}

// ErrValidation is matched by every *ValidationError
var ErrValidation = errors.New("schema validation failed")

// ValidationError reports the first field that violates the record schema
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NewFlightRecord validates and normalizes in, returning either a fully
// valid record or a *ValidationError
func NewFlightRecord(in FlightRecordInput) (FlightRecord, error) {
	airlineCode := strings.ToUpper(in.AirlineCode)
	origin := strings.ToUpper(in.OriginAirport)
	destination := strings.ToUpper(in.DestinationAirport)

	switch {
	case in.FlightID == "":
		return FlightRecord{}, invalid("flight_id", "must not be empty")
	case !in.FlightType.Valid():
		return FlightRecord{}, invalid("flight_type", "unknown value %q", in.FlightType)
	case in.Airline == "":
		return FlightRecord{}, invalid("airline", "must not be empty")
	case len(airlineCode) < 2 || len(airlineCode) > 3:
		return FlightRecord{}, invalid("airline_code", "length %d outside [2,3]", len(airlineCode))
	case in.FlightNumber < 1 || in.FlightNumber > 9999:
		return FlightRecord{}, invalid("flight_number", "%d outside [1,9999]", in.FlightNumber)
	case len(origin) < 3 || len(origin) > 4:
		return FlightRecord{}, invalid("origin_airport", "length %d outside [3,4]", len(origin))
	case len(destination) < 3 || len(destination) > 4:
		return FlightRecord{}, invalid("destination_airport", "length %d outside [3,4]", len(destination))
	case origin == destination:
		return FlightRecord{}, invalid("destination_airport", "equals origin %s", origin)
	case in.ScheduledTime.IsZero():
		return FlightRecord{}, invalid("scheduled_time", "must be set")
	case !in.Status.Valid():
		return FlightRecord{}, invalid("status", "unknown value %q", in.Status)
	case in.DelayMinutes < 0:
		return FlightRecord{}, invalid("delay_minutes", "%d is negative", in.DelayMinutes)
	case in.DelayMinutes > 0 && !in.Status.MayCarryDelay():
		return FlightRecord{}, invalid("delay_minutes", "%d not allowed for status %s", in.DelayMinutes, in.Status)
	}

	return FlightRecord{
		FlightID:           in.FlightID,
		FlightType:         in.FlightType,
		Airline:            in.Airline,
		AirlineCode:        airlineCode,
		FlightNumber:       in.FlightNumber,
		OriginAirport:      origin,
		DestinationAirport: destination,
		ScheduledTime:      in.ScheduledTime.UTC(),
		EstimatedTime:      utcPtr(in.EstimatedTime),
		ActualTime:         utcPtr(in.ActualTime),
		Status:             in.Status,
		Gate:               in.Gate,
		Terminal:           in.Terminal,
		AircraftType:       in.AircraftType,
		DelayMinutes:       in.DelayMinutes,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Input returns the record's fields as an input, for re-validation
func (r FlightRecord) Input() FlightRecordInput {
	return FlightRecordInput{
		FlightID:           r.FlightID,
		FlightType:         r.FlightType,
		Airline:            r.Airline,
		AirlineCode:        r.AirlineCode,
		FlightNumber:       r.FlightNumber,
		OriginAirport:      r.OriginAirport,
		DestinationAirport: r.DestinationAirport,
		ScheduledTime:      r.ScheduledTime,
		EstimatedTime:      r.EstimatedTime,
		ActualTime:         r.ActualTime,
		Status:             r.Status,
		Gate:               r.Gate,
		Terminal:           r.Terminal,
		AircraftType:       r.AircraftType,
		DelayMinutes:       r.DelayMinutes,
	}
}

// RunSummary describes one completed pipeline run
type RunSummary struct {
	RunID      string           `json:"run_id"`
	Seed       int64            `json:"seed"`
	BaseTime   time.Time        `json:"base_time"`
	Records    int              `json:"records"`
	Bytes      int64            `json:"bytes"`
	Path       string           `json:"path,omitempty"`
	RowCount   int64            `json:"row_count"`
	SinkRows   map[string]int64 `json:"sink_rows,omitempty"`
	SnapshotID int64            `json:"snapshot_id,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}
