package catalog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"

	"github.com/saviobatista/flightgen/internal/columnar"
)

const writeChunkRows = 64 * 1024

var errScanLimit = errors.New("scan limit reached")

// Table is a handle on one catalog table
type Table struct {
	catalog *Catalog
	key     string
	schema  *arrow.Schema
}

// AppendResult describes the snapshot an append produced
type AppendResult struct {
	SnapshotID int64
	AddedRows  int64
	TotalRows  int64
	DataFile   string
}

// ScanOptions filters a table scan. Zero values mean no filter; a zero
// SnapshotID reads the current snapshot.
type ScanOptions struct {
	SnapshotID int64
	Status     string
	Airline    string
	Limit      int
}

// Identifier returns "namespace.table"
func (t *Table) Identifier() string { return t.key }

// Schema returns the table's Arrow schema
func (t *Table) Schema() *arrow.Schema { return t.schema }

// Metadata returns a copy of the table's persisted metadata
func (t *Table) Metadata() TableMetadata {
	t.catalog.mu.Lock()
	defer t.catalog.mu.Unlock()

	meta := *t.catalog.idx.Tables[t.key]
	meta.Fields = append([]Field(nil), meta.Fields...)
	meta.Snapshots = append([]Snapshot(nil), meta.Snapshots...)
	return meta
}

// Snapshots returns the table history, oldest first
func (t *Table) Snapshots() []Snapshot {
	return t.Metadata().Snapshots
}

// CurrentSnapshot returns the latest snapshot, or nil for an empty table
func (t *Table) CurrentSnapshot() *Snapshot {
	meta := t.Metadata()
	if meta.CurrentSnapshotID == nil {
		return nil
	}
	for i := range meta.Snapshots {
		if meta.Snapshots[i].SnapshotID == *meta.CurrentSnapshotID {
			return &meta.Snapshots[i]
		}
	}
	return nil
}

func newSnapshotID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) & math.MaxInt64)
}

// Append writes tbl as a new parquet data file and commits a snapshot.
// The input is coerced to the table schema first, so int32 counters and
// missing optional columns are accepted.
func (t *Table) Append(ctx context.Context, tbl arrow.Table) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	coerced, err := columnar.Coerce(tbl, t.schema, columnar.Pool)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to coerce table to %s schema: %w", t.key, err)
	}
	defer coerced.Release()

	c := t.catalog
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := c.idx.Tables[t.key]
	snapshotID := newSnapshotID()
	added := coerced.NumRows()

	var files []DataFile
	var relPath string
	if added > 0 {
		relPath = filepath.Join(meta.Location, "data", fmt.Sprintf("%s-%d.parquet", uuid.NewString(), snapshotID))
		size, err := writeParquet(coerced, filepath.Join(c.warehouse, relPath))
		if err != nil {
			return AppendResult{}, err
		}
		files = append(files, DataFile{Path: relPath, RecordCount: added, SizeBytes: size})
	}

	var total int64
	for _, s := range meta.Snapshots {
		for _, f := range s.AddedFiles {
			total += f.RecordCount
		}
	}
	total += added

	snap := Snapshot{
		SnapshotID:       snapshotID,
		ParentSnapshotID: meta.CurrentSnapshotID,
		SequenceNumber:   int64(len(meta.Snapshots)) + 1,
		TimestampMs:      c.now().UnixMilli(),
		Operation:        "append",
		AddedFiles:       files,
		Summary: map[string]string{
			"added-records":    strconv.FormatInt(added, 10),
			"added-files":      strconv.Itoa(len(files)),
			"total-records":    strconv.FormatInt(total, 10),
			"total-data-files": strconv.Itoa(countFiles(meta.Snapshots) + len(files)),
		},
	}

	prevCurrent := meta.CurrentSnapshotID
	prevUpdated := meta.LastUpdatedMs
	meta.Snapshots = append(meta.Snapshots, snap)
	meta.CurrentSnapshotID = &snap.SnapshotID
	meta.LastUpdatedMs = snap.TimestampMs

	if err := c.persist(); err != nil {
		meta.Snapshots = meta.Snapshots[:len(meta.Snapshots)-1]
		meta.CurrentSnapshotID = prevCurrent
		meta.LastUpdatedMs = prevUpdated
		if relPath != "" {
			_ = os.Remove(filepath.Join(c.warehouse, relPath))
		}
		return AppendResult{}, err
	}

	c.logger.Info("appended to catalog table",
		"table", t.key, "snapshot_id", snapshotID, "added_rows", added, "total_rows", total)

	return AppendResult{SnapshotID: snapshotID, AddedRows: added, TotalRows: total, DataFile: relPath}, nil
}

func countFiles(snaps []Snapshot) int {
	n := 0
	for _, s := range snaps {
		n += len(s.AddedFiles)
	}
	return n
}

func writeParquet(tbl arrow.Table, path string) (int64, error) {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(columnar.Pool),
	)

	var buf bytes.Buffer
	if err := pqarrow.WriteTable(tbl, &buf, writeChunkRows, props, pqarrow.DefaultWriterProps()); err != nil {
		return 0, fmt.Errorf("failed to encode parquet: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return 0, fmt.Errorf("failed to write data file: %w", err)
	}
	return int64(buf.Len()), nil
}

// filesAt returns the data files live in the given snapshot
func (t *Table) filesAt(snapshotID int64) ([]DataFile, error) {
	meta := t.Metadata()
	if snapshotID == 0 {
		if meta.CurrentSnapshotID == nil {
			return nil, nil
		}
		snapshotID = *meta.CurrentSnapshotID
	}

	var files []DataFile
	for _, s := range meta.Snapshots {
		files = append(files, s.AddedFiles...)
		if s.SnapshotID == snapshotID {
			return files, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrNoSuchSnapshot, snapshotID)
}

// Scan reads the table at a snapshot into a single Arrow table, applying
// the equality filters and row limit in opts. The caller releases it.
func (t *Table) Scan(ctx context.Context, opts ScanOptions) (arrow.Table, error) {
	files, err := t.filesAt(opts.SnapshotID)
	if err != nil {
		return nil, err
	}

	mem := columnar.Pool
	b := array.NewRecordBuilder(mem, t.schema)
	defer b.Release()

	statusIdx := fieldIndex(t.schema, "status")
	airlineIdx := fieldIndex(t.schema, "airline_code")

	var rows int

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.Limit > 0 && rows >= opts.Limit {
			break
		}

		tbl, err := t.readFile(ctx, f, mem)
		if err != nil {
			return nil, err
		}

		err = columnar.ForEachRow(tbl, func(row []interface{}) error {
			if opts.Status != "" && !matches(row, statusIdx, opts.Status) {
				return nil
			}
			if opts.Airline != "" && !matches(row, airlineIdx, opts.Airline) {
				return nil
			}
			if err := appendRow(b, row); err != nil {
				return err
			}
			rows++
			if opts.Limit > 0 && rows >= opts.Limit {
				return errScanLimit
			}
			return nil
		})
		tbl.Release()
		if err != nil && !errors.Is(err, errScanLimit) {
			return nil, fmt.Errorf("failed to scan %s: %w", f.Path, err)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()
	return array.NewTableFromRecords(t.schema, []arrow.Record{rec}), nil
}

func (t *Table) readFile(ctx context.Context, f DataFile, mem memory.Allocator) (arrow.Table, error) {
	//nolint:gosec // data file paths come from the catalog index
	fh, err := os.Open(filepath.Join(t.catalog.warehouse, f.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer fh.Close()

	raw, err := pqarrow.ReadTable(ctx, fh, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", f.Path, err)
	}
	defer raw.Release()

	return columnar.Coerce(raw, t.schema, mem)
}

func fieldIndex(schema *arrow.Schema, name string) int {
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return -1
	}
	return idx[0]
}

func matches(row []interface{}, idx int, want string) bool {
	if idx < 0 {
		return false
	}
	s, ok := row[idx].(string)
	return ok && s == want
}

func appendRow(b *array.RecordBuilder, row []interface{}) error {
	for j, v := range row {
		fb := b.Field(j)
		if v == nil {
			fb.AppendNull()
			continue
		}
		switch fb := fb.(type) {
		case *array.StringBuilder:
			fb.Append(v.(string))
		case *array.Int32Builder:
			fb.Append(v.(int32))
		case *array.Int64Builder:
			fb.Append(v.(int64))
		default:
			return fmt.Errorf("unsupported column type %s", fb.Type())
		}
	}
	return nil
}

// NumRows returns the row count of the current snapshot
func (t *Table) NumRows() int64 {
	snap := t.CurrentSnapshot()
	if snap == nil {
		return 0
	}
	n, _ := strconv.ParseInt(snap.Summary["total-records"], 10, 64)
	return n
}
