package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/lib/pq"

	"github.com/saviobatista/flightgen/internal/columnar"
	"github.com/saviobatista/flightgen/internal/types"
)

// LoadMode selects what happens to existing rows on load
type LoadMode int

const (
	// ModeReplace truncates flights before loading
	ModeReplace LoadMode = iota
	// ModeAppend keeps existing rows
	ModeAppend
)

func (m LoadMode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeAppend:
		return "append"
	}
	return fmt.Sprintf("LoadMode(%d)", int(m))
}

// ParseLoadMode parses "replace" or "append"
func ParseLoadMode(s string) (LoadMode, error) {
	switch s {
	case "replace", "":
		return ModeReplace, nil
	case "append":
		return ModeAppend, nil
	}
	return 0, fmt.Errorf("unknown load mode %q", s)
}

var flightColumns = []string{
	"flight_id", "flight_type", "airline", "airline_code", "flight_number",
	"origin_airport", "destination_airport", "scheduled_time", "estimated_time",
	"actual_time", "status", "gate", "terminal", "aircraft_type", "delay_minutes",
}

type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new database client
func New(connStr string, logger *slog.Logger) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return NewFromDB(db, logger), nil
}

// NewFromDB wraps an open connection pool
func NewFromDB(db *sql.DB, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{db: db, logger: logger}
}

// DB returns the underlying connection pool
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// LoadRecords copies records into flights and returns the table's row count
func (c *Client) LoadRecords(ctx context.Context, records []types.FlightRecord, mode LoadMode) (int64, error) {
	return c.load(ctx, mode, func(stmt *sql.Stmt) error {
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx,
				r.FlightID, string(r.FlightType), r.Airline, r.AirlineCode, r.FlightNumber,
				r.OriginAirport, r.DestinationAirport, r.ScheduledTime, nullTime(r.EstimatedTime),
				nullTime(r.ActualTime), string(r.Status), nullString(r.Gate), nullString(r.Terminal),
				nullString(r.AircraftType), r.DelayMinutes,
			); err != nil {
				return fmt.Errorf("failed to copy flight %s: %w", r.FlightID, err)
			}
		}
		return nil
	})
}

// LoadTable copies an Arrow table of flight rows into flights and returns
// the table's row count. Columns are matched to flights by name.
func (c *Client) LoadTable(ctx context.Context, tbl arrow.Table, mode LoadMode) (int64, error) {
	target := columnar.FlightSchema
	coerced, err := columnar.Coerce(tbl, target, columnar.Pool)
	if err != nil {
		return 0, fmt.Errorf("failed to coerce table: %w", err)
	}
	defer coerced.Release()

	return c.load(ctx, mode, func(stmt *sql.Stmt) error {
		return columnar.ForEachRow(coerced, func(row []interface{}) error {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("failed to copy row: %w", err)
			}
			return nil
		})
	})
}

// load runs one COPY into flights inside a transaction
func (c *Client) load(ctx context.Context, mode LoadMode, emit func(*sql.Stmt) error) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin load: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			c.logger.Warn("failed to rollback load", "error", err)
		}
	}()

	if mode == ModeReplace {
		if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE flights`); err != nil {
			return 0, fmt.Errorf("failed to truncate flights: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("flights", flightColumns...))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}
	if err := emit(stmt); err != nil {
		_ = stmt.Close()
		return 0, err
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return 0, fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit load: %w", err)
	}

	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM flights`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count flights: %w", err)
	}

	c.logger.Info("loaded flights", "mode", mode.String(), "rows", n)
	return n, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
