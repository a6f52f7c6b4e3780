package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/flightgen/internal/types"
)

// ErrNoStore is returned by Persist when no store has been set
var ErrNoStore = errors.New("run stats store not set")

// Store persists run statistics
type Store interface {
	StoreRunStats(ctx context.Context, snap Snapshot) error
}

// Stats tracks the counters of a single pipeline run
type Stats struct {
	RunID    string
	Seed     int64
	BaseTime time.Time

	// Counts
	GeneratedRecords uint64
	EncodedBytes     uint64
	LoadedRows       uint64
	StatusCounts     [9]uint64 // Index follows types.AllStatuses

	// Timing
	StartedAt      time.Time
	FinishedAt     time.Time
	ProcessingTime time.Duration

	sinkRows map[string]uint64
	runErr   string
	store    Store

	mu sync.RWMutex
}

// Snapshot is an immutable copy of a run's statistics
type Snapshot struct {
	RunID            string
	Seed             int64
	BaseTime         time.Time
	GeneratedRecords uint64
	EncodedBytes     uint64
	LoadedRows       uint64
	StatusCounts     map[types.FlightStatus]uint64
	SinkRows         map[string]uint64
	StartedAt        time.Time
	FinishedAt       time.Time
	ProcessingTime   time.Duration
	Error            string
}

// New creates stats for one run
func New(runID string, seed int64, baseTime time.Time) *Stats {
	return &Stats{
		RunID:     runID,
		Seed:      seed,
		BaseTime:  baseTime,
		StartedAt: time.Now(),
		sinkRows:  make(map[string]uint64),
	}
}

// SetStore sets the store used by Persist
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

func statusIndex(status types.FlightStatus) int {
	for i, st := range types.AllStatuses() {
		if st == status {
			return i
		}
	}
	return -1
}

// RecordGenerated counts one generated record and its status
func (s *Stats) RecordGenerated(status types.FlightStatus) {
	atomic.AddUint64(&s.GeneratedRecords, 1)
	if i := statusIndex(status); i >= 0 {
		atomic.AddUint64(&s.StatusCounts[i], 1)
	}
}

// AddEncodedBytes adds to the number of NDJSON bytes produced
func (s *Stats) AddEncodedBytes(n int64) {
	if n > 0 {
		atomic.AddUint64(&s.EncodedBytes, uint64(n))
	}
}

// SetLoadedRows sets the row count reported by ingestion
func (s *Stats) SetLoadedRows(n int64) {
	if n < 0 {
		n = 0
	}
	atomic.StoreUint64(&s.LoadedRows, uint64(n))
}

// AddSinkRows adds to the rows a sink reported
func (s *Stats) AddSinkRows(sink string, n int64) {
	if n < 0 {
		return
	}
	s.mu.Lock()
	s.sinkRows[sink] += uint64(n)
	s.mu.Unlock()
}

// Finish marks the run as finished, recording err when non-nil
func (s *Stats) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.FinishedAt = time.Now()
	s.ProcessingTime = s.FinishedAt.Sub(s.StartedAt)
	if err != nil {
		s.runErr = err.Error()
	}
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[types.FlightStatus]uint64, len(s.StatusCounts))
	for i, st := range types.AllStatuses() {
		statuses[st] = atomic.LoadUint64(&s.StatusCounts[i])
	}
	sinks := make(map[string]uint64, len(s.sinkRows))
	for k, v := range s.sinkRows {
		sinks[k] = v
	}

	return Snapshot{
		RunID:            s.RunID,
		Seed:             s.Seed,
		BaseTime:         s.BaseTime,
		GeneratedRecords: atomic.LoadUint64(&s.GeneratedRecords),
		EncodedBytes:     atomic.LoadUint64(&s.EncodedBytes),
		LoadedRows:       atomic.LoadUint64(&s.LoadedRows),
		StatusCounts:     statuses,
		SinkRows:         sinks,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
		ProcessingTime:   s.ProcessingTime,
		Error:            s.runErr,
	}
}

// StatusArray returns the status counts in types.AllStatuses order
func (snap Snapshot) StatusArray() []int64 {
	out := make([]int64, 0, len(snap.StatusCounts))
	for _, st := range types.AllStatuses() {
		out = append(out, int64(snap.StatusCounts[st]))
	}
	return out
}

// Persist stores the current statistics
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	if store == nil {
		return ErrNoStore
	}
	return store.StoreRunStats(ctx, s.Snapshot())
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()

	sinks := make([]string, 0, len(snap.SinkRows))
	for name, n := range snap.SinkRows {
		sinks = append(sinks, fmt.Sprintf("%s=%d", name, n))
	}
	sort.Strings(sinks)

	return fmt.Sprintf(
		"Run: %s\n"+
			"Seed: %d\n"+
			"Generated Records: %d\n"+
			"Encoded Bytes: %d\n"+
			"Loaded Rows: %d\n"+
			"Sink Rows: %s\n"+
			"Processing Time: %s",
		snap.RunID,
		snap.Seed,
		snap.GeneratedRecords,
		snap.EncodedBytes,
		snap.LoadedRows,
		strings.Join(sinks, " "),
		snap.ProcessingTime,
	)
}
