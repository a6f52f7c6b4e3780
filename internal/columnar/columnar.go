package columnar

import (
	"fmt"
	"io"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/saviobatista/flightgen/internal/codec"
)

// Pool is the Go memory allocator used by Arrow.
var Pool = memory.NewGoAllocator()

// FlightSchema is the Arrow schema NDJSON flight records are read into.
// Times stay ISO-8601 strings; the two counters are int32.
var FlightSchema = arrow.NewSchema([]arrow.Field{
	{Name: "flight_id", Type: arrow.BinaryTypes.String},
	{Name: "flight_type", Type: arrow.BinaryTypes.String},
	{Name: "airline", Type: arrow.BinaryTypes.String},
	{Name: "airline_code", Type: arrow.BinaryTypes.String},
	{Name: "flight_number", Type: arrow.PrimitiveTypes.Int32},
	{Name: "origin_airport", Type: arrow.BinaryTypes.String},
	{Name: "destination_airport", Type: arrow.BinaryTypes.String},
	{Name: "scheduled_time", Type: arrow.BinaryTypes.String},
	{Name: "estimated_time", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "actual_time", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "gate", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "terminal", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "aircraft_type", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "delay_minutes", Type: arrow.PrimitiveTypes.Int32},
}, nil)

const defaultChunkSize = 4096

type options struct {
	mem       memory.Allocator
	schema    *arrow.Schema
	chunkSize int
}

// Option configures ReadNDJSON
type Option func(*options)

// WithAllocator sets the allocator tables are built with
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

// WithSchema overrides FlightSchema
func WithSchema(schema *arrow.Schema) Option {
	return func(o *options) { o.schema = schema }
}

// WithChunkSize sets the number of rows per record batch
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// ReadNDJSON reads NDJSON from r into an Arrow table. The caller releases
// the table. Its NumRows is the row count reported to the pipeline.
func ReadNDJSON(r io.Reader, opts ...Option) (arrow.Table, error) {
	o := options{mem: Pool, schema: FlightSchema, chunkSize: defaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	rdr := array.NewJSONReader(r, o.schema, array.WithAllocator(o.mem), array.WithChunk(o.chunkSize))
	defer rdr.Release()

	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ndjson into arrow: %w", err)
	}

	return array.NewTableFromRecords(o.schema, recs), nil
}

// ReadNDJSONFile reads an NDJSON (or .ndjson.gz) file into an Arrow table.
// A missing file fails with codec.ErrMissingSource before any parsing.
func ReadNDJSONFile(path string, opts ...Option) (arrow.Table, error) {
	f, err := codec.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadNDJSON(f, opts...)
}

// Coerce casts tbl to the target schema: int32 widens to int64 (and int64
// narrows to int32 when every value fits), large_string becomes string,
// null-typed and missing columns become typed all-null columns. Columns
// not named by target are dropped. The caller releases the result.
func Coerce(tbl arrow.Table, target *arrow.Schema, mem memory.Allocator) (arrow.Table, error) {
	if mem == nil {
		mem = Pool
	}

	rows := tbl.NumRows()
	cols := make([]arrow.Column, 0, target.NumFields())
	defer func() {
		for i := range cols {
			cols[i].Release()
		}
	}()

	for _, field := range target.Fields() {
		var chunks []arrow.Array
		idx := tbl.Schema().FieldIndices(field.Name)
		if len(idx) == 0 {
			chunks = []arrow.Array{array.MakeArrayOfNull(mem, field.Type, int(rows))}
		} else {
			for _, chunk := range tbl.Column(idx[0]).Data().Chunks() {
				converted, err := convert(mem, chunk, field.Type)
				if err != nil {
					releaseAll(chunks)
					return nil, fmt.Errorf("column %s: %w", field.Name, err)
				}
				chunks = append(chunks, converted)
			}
		}

		chunked := arrow.NewChunked(field.Type, chunks)
		releaseAll(chunks)
		cols = append(cols, *arrow.NewColumn(field, chunked))
		chunked.Release()
	}

	return array.NewTable(target, cols, rows), nil
}

func releaseAll(arrs []arrow.Array) {
	for _, a := range arrs {
		a.Release()
	}
}

func convert(mem memory.Allocator, arr arrow.Array, to arrow.DataType) (arrow.Array, error) {
	from := arr.DataType()
	if arrow.TypeEqual(from, to) {
		arr.Retain()
		return arr, nil
	}
	if from.ID() == arrow.NULL {
		return array.MakeArrayOfNull(mem, to, arr.Len()), nil
	}

	switch {
	case from.ID() == arrow.INT32 && to.ID() == arrow.INT64:
		src := arr.(*array.Int32)
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(src.Len())
		for i := 0; i < src.Len(); i++ {
			if src.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(int64(src.Value(i)))
		}
		return b.NewArray(), nil

	case from.ID() == arrow.INT64 && to.ID() == arrow.INT32:
		src := arr.(*array.Int64)
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.Reserve(src.Len())
		for i := 0; i < src.Len(); i++ {
			if src.IsNull(i) {
				b.AppendNull()
				continue
			}
			v := src.Value(i)
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("value %d overflows int32", v)
			}
			b.Append(int32(v))
		}
		return b.NewArray(), nil

	case from.ID() == arrow.LARGE_STRING && to.ID() == arrow.STRING:
		src := arr.(*array.LargeString)
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Reserve(src.Len())
		for i := 0; i < src.Len(); i++ {
			if src.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(i))
		}
		return b.NewArray(), nil
	}

	return nil, fmt.Errorf("unsupported conversion %s -> %s", from, to)
}

// ForEachRow calls fn with the values of every row in schema order. Values
// are string, int32, int64 or nil; other types are rendered with ValueStr.
func ForEachRow(tbl arrow.Table, fn func(row []interface{}) error) error {
	rdr := array.NewTableReader(tbl, defaultChunkSize)
	defer rdr.Release()

	row := make([]interface{}, tbl.NumCols())
	for rdr.Next() {
		rec := rdr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			for j, col := range rec.Columns() {
				row[j] = valueAt(col, i)
			}
			if err := fn(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValueAt returns the Go value at row i of column name, or nil
func ValueAt(rec arrow.Record, name string, i int) interface{} {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil
	}
	return valueAt(rec.Column(idx[0]), i)
}

func valueAt(arr arrow.Array, i int) interface{} {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Int32:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	default:
		return arr.ValueStr(i)
	}
}
