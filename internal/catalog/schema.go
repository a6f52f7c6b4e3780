package catalog

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// FieldType is a catalog column type
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeLong   FieldType = "long"
)

// Field is one column of a catalog table schema
type Field struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// FlightFields is the fixed schema of the flights table. Every field is
// optional so nullable Arrow tables append without a mismatch; the two
// counters are long because JSON readers produce 64-bit integers.
var FlightFields = []Field{
	{ID: 1, Name: "flight_id", Type: TypeString},
	{ID: 2, Name: "flight_type", Type: TypeString},
	{ID: 3, Name: "airline", Type: TypeString},
	{ID: 4, Name: "airline_code", Type: TypeString},
	{ID: 5, Name: "flight_number", Type: TypeLong},
	{ID: 6, Name: "origin_airport", Type: TypeString},
	{ID: 7, Name: "destination_airport", Type: TypeString},
	{ID: 8, Name: "scheduled_time", Type: TypeString},
	{ID: 9, Name: "estimated_time", Type: TypeString},
	{ID: 10, Name: "actual_time", Type: TypeString},
	{ID: 11, Name: "status", Type: TypeString},
	{ID: 12, Name: "gate", Type: TypeString},
	{ID: 13, Name: "terminal", Type: TypeString},
	{ID: 14, Name: "aircraft_type", Type: TypeString},
	{ID: 15, Name: "delay_minutes", Type: TypeLong},
}

func (t FieldType) arrowType() (arrow.DataType, error) {
	switch t {
	case TypeString:
		return arrow.BinaryTypes.String, nil
	case TypeInt:
		return arrow.PrimitiveTypes.Int32, nil
	case TypeLong:
		return arrow.PrimitiveTypes.Int64, nil
	}
	return nil, fmt.Errorf("unknown field type %q", t)
}

// ArrowSchema converts catalog fields to an Arrow schema
func ArrowSchema(fields []Field) (*arrow.Schema, error) {
	out := make([]arrow.Field, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has no name", f.ID)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true

		dt, err := f.Type.arrowType()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out = append(out, arrow.Field{Name: f.Name, Type: dt, Nullable: !f.Required})
	}
	return arrow.NewSchema(out, nil), nil
}
