package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/saviobatista/flightgen/internal/types"
)

// ErrEmptyLine is returned for blank input
var ErrEmptyLine = errors.New("empty line")

// wireRecord mirrors the NDJSON object; enum fields stay strings so that
// bad values are reported by the validation gate rather than the decoder
type wireRecord struct {
	FlightID           string     `json:"flight_id"`
	FlightType         string     `json:"flight_type"`
	Airline            string     `json:"airline"`
	AirlineCode        string     `json:"airline_code"`
	FlightNumber       int        `json:"flight_number"`
	OriginAirport      string     `json:"origin_airport"`
	DestinationAirport string     `json:"destination_airport"`
	ScheduledTime      time.Time  `json:"scheduled_time"`
	EstimatedTime      *time.Time `json:"estimated_time"`
	ActualTime         *time.Time `json:"actual_time"`
	Status             string     `json:"status"`
	Gate               *string    `json:"gate"`
	Terminal           *string    `json:"terminal"`
	AircraftType       *string    `json:"aircraft_type"`
	DelayMinutes       int        `json:"delay_minutes"`
}

// ParseLine decodes one NDJSON line into an untyped record. The result is
// not checked against the record schema.
func ParseLine(raw string) (map[string]interface{}, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil, ErrEmptyLine
	}

	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("invalid json: expected an object, got %s", line)
	}
	return rec, nil
}

// ParseRecord decodes one NDJSON line and passes it through the record
// validation gate. Untrusted input surfaces *types.ValidationError here.
func ParseRecord(raw string) (types.FlightRecord, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return types.FlightRecord{}, ErrEmptyLine
	}

	var w wireRecord
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return types.FlightRecord{}, fmt.Errorf("invalid json: %w", err)
	}

	return types.NewFlightRecord(types.FlightRecordInput{
		FlightID:           w.FlightID,
		FlightType:         types.FlightType(w.FlightType),
		Airline:            w.Airline,
		AirlineCode:        w.AirlineCode,
		FlightNumber:       w.FlightNumber,
		OriginAirport:      w.OriginAirport,
		DestinationAirport: w.DestinationAirport,
		ScheduledTime:      w.ScheduledTime,
		EstimatedTime:      w.EstimatedTime,
		ActualTime:         w.ActualTime,
		Status:             types.FlightStatus(w.Status),
		Gate:               w.Gate,
		Terminal:           w.Terminal,
		AircraftType:       w.AircraftType,
		DelayMinutes:       w.DelayMinutes,
	})
}
