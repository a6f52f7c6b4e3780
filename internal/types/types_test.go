package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func validInput() FlightRecordInput {
	return FlightRecordInput{
		FlightID:           "UA-1234",
		FlightType:         FlightTypeDeparture,
		Airline:            "United Airlines",
		AirlineCode:        "ua",
		FlightNumber:       1234,
		OriginAirport:      "jfk",
		DestinationAirport: "lax",
		ScheduledTime:      time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
		Status:             StatusScheduled,
		Gate:               strPtr("B12"),
		Terminal:           strPtr("T1"),
		AircraftType:       strPtr("B738"),
	}
}

func TestNewFlightRecord_Normalizes(t *testing.T) {
	rec, err := NewFlightRecord(validInput())
	if err != nil {
		t.Fatalf("NewFlightRecord() failed: %v", err)
	}

	if rec.AirlineCode != "UA" {
		t.Errorf("AirlineCode = %q, want UA", rec.AirlineCode)
	}
	if rec.OriginAirport != "JFK" {
		t.Errorf("OriginAirport = %q, want JFK", rec.OriginAirport)
	}
	if rec.DestinationAirport != "LAX" {
		t.Errorf("DestinationAirport = %q, want LAX", rec.DestinationAirport)
	}
}

func TestNewFlightRecord_ConvertsTimesToUTC(t *testing.T) {
	in := validInput()
	loc := time.FixedZone("EST", -5*3600)
	in.ScheduledTime = time.Date(2026, 6, 15, 7, 0, 0, 0, loc)
	est := in.ScheduledTime.Add(30 * time.Minute)
	in.EstimatedTime = &est
	in.Status = StatusDelayed
	in.DelayMinutes = 30

	rec, err := NewFlightRecord(in)
	if err != nil {
		t.Fatalf("NewFlightRecord() failed: %v", err)
	}
	if rec.ScheduledTime.Location() != time.UTC {
		t.Errorf("ScheduledTime location = %v, want UTC", rec.ScheduledTime.Location())
	}
	if rec.ScheduledTime.Hour() != 12 {
		t.Errorf("ScheduledTime hour = %d, want 12", rec.ScheduledTime.Hour())
	}
	if rec.EstimatedTime == nil || rec.EstimatedTime.Location() != time.UTC {
		t.Errorf("EstimatedTime not converted to UTC: %v", rec.EstimatedTime)
	}
}

func TestNewFlightRecord_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FlightRecordInput)
		field  string
	}{
		{"empty flight id", func(in *FlightRecordInput) { in.FlightID = "" }, "flight_id"},
		{"unknown flight type", func(in *FlightRecordInput) { in.FlightType = "transfer" }, "flight_type"},
		{"empty airline", func(in *FlightRecordInput) { in.Airline = "" }, "airline"},
		{"airline code too short", func(in *FlightRecordInput) { in.AirlineCode = "U" }, "airline_code"},
		{"airline code too long", func(in *FlightRecordInput) { in.AirlineCode = "UALX" }, "airline_code"},
		{"flight number zero", func(in *FlightRecordInput) { in.FlightNumber = 0 }, "flight_number"},
		{"flight number too large", func(in *FlightRecordInput) { in.FlightNumber = 10000 }, "flight_number"},
		{"origin too short", func(in *FlightRecordInput) { in.OriginAirport = "JF" }, "origin_airport"},
		{"destination too long", func(in *FlightRecordInput) { in.DestinationAirport = "KLAXX" }, "destination_airport"},
		{"same airports", func(in *FlightRecordInput) { in.DestinationAirport = "JFK" }, "destination_airport"},
		{"same airports different case", func(in *FlightRecordInput) { in.OriginAirport = "lax"; in.DestinationAirport = "LAX" }, "destination_airport"},
		{"missing scheduled time", func(in *FlightRecordInput) { in.ScheduledTime = time.Time{} }, "scheduled_time"},
		{"unknown status", func(in *FlightRecordInput) { in.Status = "lost" }, "status"},
		{"negative delay", func(in *FlightRecordInput) { in.DelayMinutes = -1 }, "delay_minutes"},
		{"cancelled with delay", func(in *FlightRecordInput) { in.Status = StatusCancelled; in.DelayMinutes = 10 }, "delay_minutes"},
		{"scheduled with delay", func(in *FlightRecordInput) { in.DelayMinutes = 5 }, "delay_minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			_, err := NewFlightRecord(in)
			if err == nil {
				t.Fatal("Expected validation error, got none")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected errors.Is(err, ErrValidation), got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Error %q does not name field %q", err.Error(), tt.field)
			}
		})
	}
}

func TestNewFlightRecord_AcceptsBoundaries(t *testing.T) {
	for _, n := range []int{1, 9999} {
		in := validInput()
		in.FlightNumber = n
		if _, err := NewFlightRecord(in); err != nil {
			t.Errorf("flight_number %d rejected: %v", n, err)
		}
	}

	in := validInput()
	in.AirlineCode = "ual"
	in.OriginAirport = "kjfk"
	rec, err := NewFlightRecord(in)
	if err != nil {
		t.Fatalf("3-letter airline / 4-letter airport rejected: %v", err)
	}
	if rec.AirlineCode != "UAL" || rec.OriginAirport != "KJFK" {
		t.Errorf("unexpected normalization: %s %s", rec.AirlineCode, rec.OriginAirport)
	}
}

func TestFlightStatus_Sets(t *testing.T) {
	statuses := AllStatuses()
	if len(statuses) != 9 {
		t.Fatalf("Expected 9 statuses, got %d", len(statuses))
	}

	delayed := map[FlightStatus]bool{StatusDelayed: true, StatusArrived: true, StatusLanded: true}
	actual := map[FlightStatus]bool{StatusArrived: true, StatusLanded: true, StatusDeparted: true}
	for _, s := range statuses {
		if !s.Valid() {
			t.Errorf("%s reported invalid", s)
		}
		if s.MayCarryDelay() != delayed[s] {
			t.Errorf("%s.MayCarryDelay() = %v", s, s.MayCarryDelay())
		}
		if s.HasActualTime() != actual[s] {
			t.Errorf("%s.HasActualTime() = %v", s, s.HasActualTime())
		}
	}
	if FlightStatus("taxiing").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestFlightRecord_JSON(t *testing.T) {
	rec, err := NewFlightRecord(validInput())
	if err != nil {
		t.Fatalf("NewFlightRecord() failed: %v", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to marshal FlightRecord: %v", err)
	}

	s := string(data)
	for _, want := range []string{
		`"flight_id":"UA-1234"`,
		`"scheduled_time":"2026-06-15T12:00:00Z"`,
		`"estimated_time":null`,
		`"actual_time":null`,
		`"status":"scheduled"`,
		`"delay_minutes":0`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}

	var back FlightRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Failed to unmarshal FlightRecord: %v", err)
	}
	if back.FlightID != rec.FlightID || !back.ScheduledTime.Equal(rec.ScheduledTime) {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestFlightRecord_UnmarshalRejectsUnknownEnums(t *testing.T) {
	var rec FlightRecord
	if err := json.Unmarshal([]byte(`{"status":"teleported"}`), &rec); err == nil {
		t.Error("Expected error for unknown status")
	}
	if err := json.Unmarshal([]byte(`{"flight_type":"cargo"}`), &rec); err == nil {
		t.Error("Expected error for unknown flight type")
	}
}

func TestFlightRecord_IsOnTime(t *testing.T) {
	tests := []struct {
		delay int
		want  bool
	}{
		{0, true},
		{15, true},
		{16, false},
		{300, false},
	}
	for _, tt := range tests {
		rec := FlightRecord{DelayMinutes: tt.delay}
		if got := rec.IsOnTime(); got != tt.want {
			t.Errorf("IsOnTime() with delay %d = %v, want %v", tt.delay, got, tt.want)
		}
	}
}

func TestFlightRecord_Route(t *testing.T) {
	rec := FlightRecord{OriginAirport: "JFK", DestinationAirport: "LHR"}
	if got := rec.Route(); got != "JFK → LHR" {
		t.Errorf("Route() = %q", got)
	}
}
