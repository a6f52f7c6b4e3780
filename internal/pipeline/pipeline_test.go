package pipeline

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saviobatista/flightgen/internal/catalog"
	"github.com/saviobatista/flightgen/internal/codec"
	"github.com/saviobatista/flightgen/internal/db"
	"github.com/saviobatista/flightgen/internal/metrics"
	"github.com/saviobatista/flightgen/internal/stats"
	"github.com/saviobatista/flightgen/internal/storage"
	"github.com/saviobatista/flightgen/internal/testutils"
)

// recordingSink remembers what it was handed while the batch was live
type recordingSink struct {
	name    string
	rows    int64
	err     error
	calls   int
	tblRows int64
	records int
	ndjson  int
	path    string
	lines   int
	order   *[]string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Append(_ context.Context, batch *Batch) (SinkResult, error) {
	s.calls++
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	if s.err != nil {
		return SinkResult{}, s.err
	}
	s.tblRows = batch.Table.NumRows()
	s.records = len(batch.Records)
	s.ndjson = len(batch.NDJSON)
	s.path = batch.Path
	if batch.Path != "" {
		n, err := codec.CountLines(batch.Path)
		if err != nil {
			return SinkResult{}, err
		}
		s.lines = n
	}
	rows := s.rows
	if rows == 0 {
		rows = batch.Table.NumRows()
	}
	return SinkResult{Rows: rows}, nil
}

type memoryStore struct {
	mu    sync.Mutex
	snaps []stats.Snapshot
	err   error
}

func (m *memoryStore) StoreRunStats(_ context.Context, snap stats.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return m.err
}

func fixtureParams(n int, mode Mode) Params {
	return Params{Seed: testutils.FixtureSeed, BaseTime: testutils.FixtureBaseTime, Count: n, Mode: mode}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeBuffer, false},
		{"buffer", ModeBuffer, false},
		{"file", ModeFile, false},
		{"disk", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, "buffer", ModeBuffer.String())
	assert.Equal(t, "file", ModeFile.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestRun_BufferMode(t *testing.T) {
	sink := &recordingSink{name: "fake"}
	d := New(WithSinks(sink))

	res, err := d.Run(context.Background(), fixtureParams(5, ModeBuffer))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Records, 5)
	assert.EqualValues(t, 5, res.RowCount)
	assert.Empty(t, res.Path)
	assert.EqualValues(t, len(res.Buffer), res.Bytes)

	text, err := codec.RecordsToText(slices.Values(res.Records))
	require.NoError(t, err)
	assert.Equal(t, text, string(res.Buffer))

	assert.Equal(t, 1, sink.calls)
	assert.EqualValues(t, 5, sink.tblRows)
	assert.Equal(t, 5, sink.records)
	assert.Equal(t, len(res.Buffer), sink.ndjson)
	assert.Equal(t, SinkResult{Rows: 5}, res.Sinks["fake"])
}

func TestRun_Deterministic(t *testing.T) {
	d := New()

	first, err := d.Run(context.Background(), fixtureParams(20, ModeBuffer))
	require.NoError(t, err)
	second, err := d.Run(context.Background(), fixtureParams(20, ModeBuffer))
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Buffer, second.Buffer)
	for i := range first.Records {
		assert.Equal(t, first.Records[i].FlightID, second.Records[i].FlightID)
	}
	assert.Equal(t, testutils.FixtureRecords(20), first.Records)
}

func TestRun_ZeroRecords(t *testing.T) {
	sink := &recordingSink{name: "fake"}
	res, err := New(WithSinks(sink)).Run(context.Background(), fixtureParams(0, ModeBuffer))
	require.NoError(t, err)

	assert.Empty(t, res.Records)
	assert.Empty(t, res.Buffer)
	assert.Zero(t, res.RowCount)
	assert.Equal(t, 1, sink.calls)
}

func TestRun_NegativeCount(t *testing.T) {
	_, err := New().Run(context.Background(), fixtureParams(-1, ModeBuffer))
	assert.Error(t, err)
}

func TestRun_FileModeWorkspaceRemoved(t *testing.T) {
	parent := t.TempDir()
	sink := &recordingSink{name: "fake"}
	d := New(WithSinks(sink), WithWorkspaceDir(parent))

	res, err := d.Run(context.Background(), fixtureParams(5, ModeFile))
	require.NoError(t, err)

	assert.Empty(t, res.Path, "workspace files do not outlive the run")
	assert.Nil(t, res.Buffer)
	assert.Positive(t, res.Bytes)
	assert.EqualValues(t, 5, res.RowCount)

	assert.Equal(t, 5, sink.lines, "sink sees the staged file")
	assert.Equal(t, filepath.Join(parent, "flightgen-"+res.RunID, "flights.ndjson"), sink.path)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_FileModeArchive(t *testing.T) {
	archive := storage.NewArchive(t.TempDir(), nil)
	d := New(WithArchive(archive))

	res, err := d.Run(context.Background(), fixtureParams(5, ModeFile))
	require.NoError(t, err)

	assert.Equal(t, archive.RunFile(res.RunID, testutils.FixtureBaseTime), res.Path)
	n, err := codec.CountLines(res.Path)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	rows, err := codec.ReadBack(res.Path)
	require.NoError(t, err)
	for i, row := range rows {
		assert.Equal(t, res.Records[i].FlightID, row["flight_id"])
		assert.Equal(t, res.Records[i].AirlineCode, row["airline_code"])
		assert.EqualValues(t, res.Records[i].FlightNumber, row["flight_number"])
	}

	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.Bytes)
}

func TestRun_SinksInOrder(t *testing.T) {
	var order []string
	a := &recordingSink{name: "a", order: &order}
	b := &recordingSink{name: "b", order: &order, rows: 99}
	d := New(WithSinks(a), WithSinks(b))

	res, err := d.Run(context.Background(), fixtureParams(3, ModeBuffer))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, []string{"a", "b"}, d.Sinks())
	assert.EqualValues(t, 99, res.Sinks["b"].Rows, "sink row counts are trusted")
}

func TestRun_SinkErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordingSink{name: "failing", err: boom}
	after := &recordingSink{name: "after"}
	store := &memoryStore{}
	d := New(WithSinks(failing, after), WithStatsStore(store))

	res, err := d.Run(context.Background(), fixtureParams(3, ModeBuffer))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sink failing")
	assert.Zero(t, after.calls)

	require.Len(t, store.snaps, 1)
	assert.Contains(t, store.snaps[0].Error, "boom")
	assert.EqualValues(t, 3, store.snaps[0].GeneratedRecords)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{name: "fake"}
	_, err := New(WithSinks(sink)).Run(ctx, fixtureParams(3, ModeBuffer))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sink.calls)
}

func TestRun_StatsAndMetrics(t *testing.T) {
	store := &memoryStore{}
	m := metrics.New(prometheus.NewRegistry())
	d := New(WithSinks(&recordingSink{name: "fake"}), WithStatsStore(store), WithMetrics(m))

	res, err := d.Run(context.Background(), fixtureParams(50, ModeBuffer))
	require.NoError(t, err)

	require.Len(t, store.snaps, 1)
	snap := store.snaps[0]
	assert.Equal(t, res.RunID, snap.RunID)
	assert.EqualValues(t, 50, snap.GeneratedRecords)
	assert.EqualValues(t, 50, snap.LoadedRows)
	assert.EqualValues(t, res.Bytes, snap.EncodedBytes)
	assert.EqualValues(t, 50, snap.SinkRows["fake"])
	assert.Empty(t, snap.Error)

	var total uint64
	for _, n := range snap.StatusCounts {
		total += n
	}
	assert.EqualValues(t, 50, total)
	assert.Equal(t, snap.RunID, res.Stats.RunID)

	assert.Equal(t, 50.0, testutil.ToFloat64(m.RecordsGenerated))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.SinkRows.WithLabelValues("fake")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("success")))
}

func TestRun_StatsStoreFailure(t *testing.T) {
	store := &memoryStore{err: errors.New("db down")}
	_, err := New(WithStatsStore(store)).Run(context.Background(), fixtureParams(2, ModeBuffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist run stats")
}

func TestResult_Summary(t *testing.T) {
	res := &Result{
		RunID:    "run-1",
		Seed:     42,
		BaseTime: testutils.FixtureBaseTime,
		Records:  testutils.FixtureRecords(4),
		Bytes:    1234,
		RowCount: 4,
		Sinks: map[string]SinkResult{
			"postgres": {Rows: 4},
			"catalog":  {Rows: 8, SnapshotID: 77},
		},
		Stats: stats.Snapshot{StartedAt: time.Unix(10, 0), FinishedAt: time.Unix(12, 0)},
	}

	summary := res.Summary()
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 4, summary.Records)
	assert.EqualValues(t, 1234, summary.Bytes)
	assert.EqualValues(t, 77, summary.SnapshotID)
	assert.Equal(t, map[string]int64{"postgres": 4, "catalog": 8}, summary.SinkRows)
	assert.Equal(t, time.Unix(12, 0), summary.FinishedAt)
}

type fakeLoader struct {
	mode db.LoadMode
	rows int64
}

func (f *fakeLoader) LoadTable(_ context.Context, tbl arrow.Table, mode db.LoadMode) (int64, error) {
	f.mode = mode
	f.rows += tbl.NumRows()
	return f.rows, nil
}

type fakePublisher struct {
	lines []string
	fail  int
}

func (f *fakePublisher) PublishNDJSON(_ context.Context, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if f.fail > 0 && len(f.lines) == f.fail {
			return len(f.lines), errors.New("nats unavailable")
		}
		f.lines = append(f.lines, sc.Text())
	}
	return len(f.lines), sc.Err()
}

func TestSinks_EndToEnd(t *testing.T) {
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "warehouse"), "flights", nil)
	require.NoError(t, err)
	table, err := cat.EnsureTable("flights_db", "flights", catalog.FlightFields)
	require.NoError(t, err)

	loader := &fakeLoader{}
	publisher := &fakePublisher{}
	d := New(WithSinks(
		NewStoreSink(loader, db.ModeAppend),
		NewCatalogSink(table),
		NewStreamSink(publisher),
	), WithWorkspaceDir(t.TempDir()))

	for i := 0; i < 2; i++ {
		mode := ModeBuffer
		if i == 1 {
			mode = ModeFile
		}
		res, err := d.Run(context.Background(), fixtureParams(10, mode))
		require.NoError(t, err)
		assert.EqualValues(t, 10*(i+1), res.Sinks["postgres"].Rows)
		assert.EqualValues(t, 10*(i+1), res.Sinks["catalog"].Rows)
		assert.NotZero(t, res.Sinks["catalog"].SnapshotID)
		assert.EqualValues(t, 10*(i+1), res.Sinks["nats"].Rows)
	}

	assert.Equal(t, db.ModeAppend, loader.mode)
	assert.Len(t, table.Snapshots(), 2)
	assert.EqualValues(t, 20, table.NumRows())
	assert.Len(t, publisher.lines, 20)
}

func TestStreamSink_PartialPublish(t *testing.T) {
	publisher := &fakePublisher{fail: 2}
	d := New(WithSinks(NewStreamSink(publisher)))

	_, err := d.Run(context.Background(), fixtureParams(5, ModeBuffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "published 2 of 5 records")
}
