package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"

	"github.com/saviobatista/flightgen/internal/codec"
	"github.com/saviobatista/flightgen/internal/columnar"
	"github.com/saviobatista/flightgen/internal/generator"
	"github.com/saviobatista/flightgen/internal/metrics"
	"github.com/saviobatista/flightgen/internal/stats"
	"github.com/saviobatista/flightgen/internal/storage"
	"github.com/saviobatista/flightgen/internal/types"
)

// Mode selects where the NDJSON of a run is staged
type Mode int

const (
	// ModeBuffer keeps the NDJSON in memory
	ModeBuffer Mode = iota
	// ModeFile writes the NDJSON to the run workspace, or to the archive
	// when the driver has one
	ModeFile
)

func (m Mode) String() string {
	switch m {
	case ModeBuffer:
		return "buffer"
	case ModeFile:
		return "file"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "buffer" or "file"
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "buffer":
		return ModeBuffer, nil
	case "file":
		return ModeFile, nil
	}
	return 0, fmt.Errorf("unknown pipeline mode %q", s)
}

// ErrLineCountMismatch is returned when the staged file does not hold one
// line per generated record
var ErrLineCountMismatch = errors.New("ndjson line count mismatch")

// Params selects what a run generates
type Params struct {
	Seed     int64
	BaseTime time.Time // zero means now
	Count    int
	Mode     Mode
}

// Batch is what every sink receives. Sinks must not retain Table after
// Append returns.
type Batch struct {
	RunID    string
	Records  []types.FlightRecord
	Table    arrow.Table
	NDJSON   []byte // set in buffer mode
	Path     string // set in file mode
	BaseTime time.Time
}

// Open returns a reader over the batch's NDJSON
func (b *Batch) Open() (io.ReadCloser, error) {
	if b.Path != "" {
		return codec.Open(b.Path)
	}
	return io.NopCloser(bytes.NewReader(b.NDJSON)), nil
}

// SinkResult is the row count a sink reports after an append
type SinkResult struct {
	Rows       int64
	SnapshotID int64
}

// Sink receives every run's batch
type Sink interface {
	Name() string
	Append(ctx context.Context, batch *Batch) (SinkResult, error)
}

// Result describes a finished run
type Result struct {
	RunID    string
	Seed     int64
	BaseTime time.Time
	Records  []types.FlightRecord
	Buffer   []byte // buffer mode
	Path     string // file mode, only when the file outlives the run
	Bytes    int64
	RowCount int64
	Sinks    map[string]SinkResult
	Stats    stats.Snapshot
}

// Summary converts the result to the cached run summary
func (r *Result) Summary() types.RunSummary {
	summary := types.RunSummary{
		RunID:      r.RunID,
		Seed:       r.Seed,
		BaseTime:   r.BaseTime,
		Records:    len(r.Records),
		Bytes:      r.Bytes,
		Path:       r.Path,
		RowCount:   r.RowCount,
		StartedAt:  r.Stats.StartedAt,
		FinishedAt: r.Stats.FinishedAt,
	}
	if len(r.Sinks) > 0 {
		summary.SinkRows = make(map[string]int64, len(r.Sinks))
		for name, res := range r.Sinks {
			summary.SinkRows[name] = res.Rows
			if res.SnapshotID != 0 {
				summary.SnapshotID = res.SnapshotID
			}
		}
	}
	return summary
}

// Driver composes generator, codec, columnar ingestion and sinks. A driver
// runs one pipeline at a time; every run owns its generator and workspace.
type Driver struct {
	sinks        []Sink
	archive      *storage.Archive
	workspaceDir string
	store        stats.Store
	metrics      *metrics.Metrics
	logger       *slog.Logger
	newRunID     func() string
}

// Option configures a Driver
type Option func(*Driver)

// WithSinks registers sinks in call order
func WithSinks(sinks ...Sink) Option {
	return func(d *Driver) { d.sinks = append(d.sinks, sinks...) }
}

// WithArchive stores file-mode NDJSON in archive instead of the workspace
func WithArchive(archive *storage.Archive) Option {
	return func(d *Driver) { d.archive = archive }
}

// WithWorkspaceDir sets the parent of per-run workspaces
func WithWorkspaceDir(dir string) Option {
	return func(d *Driver) { d.workspaceDir = dir }
}

// WithStatsStore persists run statistics after every run
func WithStatsStore(store stats.Store) Option {
	return func(d *Driver) { d.store = store }
}

// WithMetrics records run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// New creates a driver
func New(opts ...Option) *Driver {
	d := &Driver{newRunID: uuid.NewString}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Sinks returns the registered sink names in call order
func (d *Driver) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Run generates p.Count records and hands them to every sink
func (d *Driver) Run(ctx context.Context, p Params) (result *Result, err error) {
	if p.Count < 0 {
		return nil, fmt.Errorf("invalid record count %d", p.Count)
	}

	runID := d.newRunID()
	gen := generator.New(p.Seed, p.BaseTime)
	st := stats.New(runID, gen.Seed(), gen.BaseTime())
	if d.store != nil {
		st.SetStore(d.store)
	}
	logger := d.logger.With("run_id", runID)

	defer func() {
		st.Finish(err)
		d.metrics.ObserveRun(time.Since(st.StartedAt), err)
		if d.store != nil {
			if perr := st.Persist(context.WithoutCancel(ctx)); perr != nil {
				logger.Error("Failed to persist run stats", "error", perr)
				if err == nil {
					err = fmt.Errorf("failed to persist run stats: %w", perr)
				}
			}
		}
		if result != nil {
			result.Stats = st.Snapshot()
		}
		if err != nil {
			result = nil
		}
	}()

	logger.Info("Starting pipeline run", "seed", gen.Seed(), "base_time", gen.BaseTime(), "count", p.Count, "mode", p.Mode)

	records := make([]types.FlightRecord, 0, p.Count)
	seq := observe(gen.Stream(p.Count), func(rec types.FlightRecord) {
		records = append(records, rec)
		st.RecordGenerated(rec.Status)
	})

	batch := &Batch{RunID: runID, BaseTime: gen.BaseTime()}
	result = &Result{RunID: runID, Seed: gen.Seed(), BaseTime: gen.BaseTime()}

	var tbl arrow.Table
	switch p.Mode {
	case ModeBuffer:
		tbl, err = d.stageBuffer(seq, batch, result)
	case ModeFile:
		var cleanup func()
		tbl, cleanup, err = d.stageFile(seq, batch, result, &records)
		if cleanup != nil {
			defer cleanup()
		}
	default:
		err = fmt.Errorf("unknown pipeline mode %s", p.Mode)
	}
	if err != nil {
		return result, err
	}
	defer tbl.Release()

	batch.Records = records
	batch.Table = tbl
	result.Records = records
	result.RowCount = tbl.NumRows()
	st.AddEncodedBytes(result.Bytes)
	st.SetLoadedRows(result.RowCount)
	d.metrics.AddRecords(len(records), result.Bytes)

	result.Sinks = make(map[string]SinkResult, len(d.sinks))
	for _, sink := range d.sinks {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := sink.Append(ctx, batch)
		if err != nil {
			return result, fmt.Errorf("sink %s: %w", sink.Name(), err)
		}
		result.Sinks[sink.Name()] = res
		st.AddSinkRows(sink.Name(), res.Rows)
		d.metrics.AddSinkRows(sink.Name(), res.Rows)
		logger.Info("Sink appended", "sink", sink.Name(), "rows", res.Rows)
	}

	logger.Info("Pipeline run finished", "records", len(records), "bytes", result.Bytes, "rows", result.RowCount)
	return result, nil
}

func (d *Driver) stageBuffer(seq iter.Seq[types.FlightRecord], batch *Batch, result *Result) (arrow.Table, error) {
	rdr, err := codec.StreamToBuffer(seq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	data, err := io.ReadAll(rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded records: %w", err)
	}

	batch.NDJSON = data
	result.Buffer = data
	result.Bytes = int64(len(data))

	tbl, err := columnar.ReadNDJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

// stageFile writes the run file and ingests it. The returned cleanup
// removes the workspace, if one was used, after the sinks are done.
func (d *Driver) stageFile(seq iter.Seq[types.FlightRecord], batch *Batch, result *Result, records *[]types.FlightRecord) (arrow.Table, func(), error) {
	var (
		path    string
		cleanup func()
	)
	if d.archive != nil {
		path = d.archive.RunFile(batch.RunID, batch.BaseTime)
		result.Path = path
	} else {
		ws, err := storage.NewWorkspace(d.workspaceDir, batch.RunID)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() {
			if err := ws.Close(); err != nil {
				d.logger.Warn("Failed to remove workspace", "dir", ws.Dir(), "error", err)
			}
		}
		path = ws.Path("flights.ndjson")
	}
	batch.Path = path

	written, err := codec.StreamToFile(seq, path)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to write run file: %w", err)
	}

	lines, err := codec.CountLines(path)
	if err != nil {
		return nil, cleanup, err
	}
	if lines != written || lines != len(*records) {
		return nil, cleanup, fmt.Errorf("%w: wrote %d records, file has %d lines", ErrLineCountMismatch, len(*records), lines)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to stat run file: %w", err)
	}
	result.Bytes = info.Size()

	tbl, err := columnar.ReadNDJSONFile(path)
	if err != nil {
		return nil, cleanup, err
	}
	return tbl, cleanup, nil
}

// observe calls fn for every record seq yields, before passing it on
func observe(seq iter.Seq[types.FlightRecord], fn func(types.FlightRecord)) iter.Seq[types.FlightRecord] {
	return func(yield func(types.FlightRecord) bool) {
		for rec := range seq {
			fn(rec)
			if !yield(rec) {
				return
			}
		}
	}
}
