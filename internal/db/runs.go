package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/flightgen/internal/stats"
	"github.com/saviobatista/flightgen/internal/types"
)

// ErrNoRuns is returned by LatestRun when pipeline_runs is empty
var ErrNoRuns = errors.New("no pipeline runs recorded")

// StoreRunStats upserts the statistics of one pipeline run
func (c *Client) StoreRunStats(ctx context.Context, snap stats.Snapshot) error {
	query := `
		INSERT INTO pipeline_runs (
			run_id, seed, base_time, generated_records, encoded_bytes,
			loaded_rows, status_counts, sink_rows, started_at, finished_at,
			processing_time_ms, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO UPDATE SET
			generated_records = EXCLUDED.generated_records,
			encoded_bytes = EXCLUDED.encoded_bytes,
			loaded_rows = EXCLUDED.loaded_rows,
			status_counts = EXCLUDED.status_counts,
			sink_rows = EXCLUDED.sink_rows,
			finished_at = EXCLUDED.finished_at,
			processing_time_ms = EXCLUDED.processing_time_ms,
			error = EXCLUDED.error
	`

	sinkRows, err := json.Marshal(snap.SinkRows)
	if err != nil {
		return fmt.Errorf("failed to encode sink rows: %w", err)
	}

	var finishedAt interface{}
	if !snap.FinishedAt.IsZero() {
		finishedAt = snap.FinishedAt
	}
	var runErr interface{}
	if snap.Error != "" {
		runErr = snap.Error
	}

	_, err = c.db.ExecContext(ctx, query,
		snap.RunID,
		snap.Seed,
		snap.BaseTime,
		int64(snap.GeneratedRecords),
		int64(snap.EncodedBytes),
		int64(snap.LoadedRows),
		pq.Array(snap.StatusArray()),
		string(sinkRows),
		snap.StartedAt,
		finishedAt,
		snap.ProcessingTime.Milliseconds(),
		runErr,
	)
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", snap.RunID, err)
	}
	return nil
}

// LatestRun returns the most recently started pipeline run
func (c *Client) LatestRun(ctx context.Context) (stats.Snapshot, error) {
	query := `
		SELECT
			run_id, seed, base_time, generated_records, encoded_bytes,
			loaded_rows, status_counts, sink_rows, started_at, finished_at,
			processing_time_ms, error
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT 1
	`

	var (
		snap             stats.Snapshot
		generated        int64
		encoded          int64
		loaded           int64
		statusCounts     []int64
		sinkRows         []byte
		finishedAt       sql.NullTime
		processingTimeMs int64
		runErr           sql.NullString
	)
	err := c.db.QueryRowContext(ctx, query).Scan(
		&snap.RunID,
		&snap.Seed,
		&snap.BaseTime,
		&generated,
		&encoded,
		&loaded,
		pq.Array(&statusCounts),
		&sinkRows,
		&snap.StartedAt,
		&finishedAt,
		&processingTimeMs,
		&runErr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return stats.Snapshot{}, ErrNoRuns
	}
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("failed to query latest run: %w", err)
	}

	snap.GeneratedRecords = uint64(generated)
	snap.EncodedBytes = uint64(encoded)
	snap.LoadedRows = uint64(loaded)
	snap.FinishedAt = finishedAt.Time
	snap.ProcessingTime = time.Duration(processingTimeMs) * time.Millisecond
	snap.Error = runErr.String

	snap.StatusCounts = make(map[types.FlightStatus]uint64, len(statusCounts))
	for i, st := range types.AllStatuses() {
		if i < len(statusCounts) {
			snap.StatusCounts[st] = uint64(statusCounts[i])
		}
	}

	snap.SinkRows = map[string]uint64{}
	if len(sinkRows) > 0 {
		if err := json.Unmarshal(sinkRows, &snap.SinkRows); err != nil {
			return stats.Snapshot{}, fmt.Errorf("failed to decode sink rows: %w", err)
		}
	}
	return snap, nil
}
