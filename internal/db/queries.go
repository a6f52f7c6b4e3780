package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Filter narrows dashboard queries. Empty slices mean no filter.
type Filter struct {
	Airlines []string `json:"airlines,omitempty"`
	Routes   []string `json:"routes,omitempty"`
}

// where renders the filter as a WHERE clause with positional args
func (f Filter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if len(f.Airlines) > 0 {
		args = append(args, pq.Array(f.Airlines))
		clauses = append(clauses, fmt.Sprintf("airline = ANY($%d)", len(args)))
	}
	if len(f.Routes) > 0 {
		args = append(args, pq.Array(f.Routes))
		clauses = append(clauses, fmt.Sprintf("route = ANY($%d)", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// KPISummary is the headline on-time performance figures
type KPISummary struct {
	TotalFlights int64   `json:"total_flights"`
	OnTimeCount  int64   `json:"ontime_count"`
	OTPPct       float64 `json:"otp_pct"`
	AvgDelay     float64 `json:"avg_delay"`
	MaxDelay     int64   `json:"max_delay"`
	Cancelled    int64   `json:"cancelled"`
}

// AirlineOTP is on-time performance for one airline
type AirlineOTP struct {
	Airline string  `json:"airline"`
	Total   int64   `json:"total"`
	OTPPct  float64 `json:"otp_pct"`
}

// DelayBucket counts flights in one delay band
type DelayBucket struct {
	Bucket string `json:"delay_bucket"`
	Count  int64  `json:"count"`
}

// HourlyOTP is on-time performance for one scheduled hour (UTC)
type HourlyOTP struct {
	Hour   int     `json:"sched_hour"`
	Total  int64   `json:"total"`
	OTPPct float64 `json:"otp_pct"`
}

// StatusCount counts flights in one status
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// RouteOTP is on-time performance for one route
type RouteOTP struct {
	Route  string  `json:"route"`
	Total  int64   `json:"total"`
	OTPPct float64 `json:"otp_pct"`
}

// FlightDetail is one row of the most-delayed flights listing
type FlightDetail struct {
	FlightID      string    `json:"flight_id"`
	Airline       string    `json:"airline"`
	Route         string    `json:"route"`
	FlightType    string    `json:"flight_type"`
	Status        string    `json:"status"`
	ScheduledTime time.Time `json:"scheduled_time"`
	DelayMinutes  int       `json:"delay_minutes"`
	OnTime        bool      `json:"on_time"`
	Terminal      *string   `json:"terminal"`
	Gate          *string   `json:"gate"`
	AircraftType  *string   `json:"aircraft_type"`
}

// MinRouteFlights is the smallest sample a route needs to be ranked
const MinRouteFlights = 3

const otpExpr = `COALESCE(ROUND(100.0 * SUM(is_ontime) / NULLIF(COUNT(*), 0), 1), 0)`

// KPISummary returns the headline figures for the filtered flights
func (c *Client) KPISummary(ctx context.Context, f Filter) (KPISummary, error) {
	where, args := f.where()
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(is_ontime), 0),
			` + otpExpr + `,
			COALESCE(ROUND(AVG(delay_minutes), 1), 0),
			COALESCE(MAX(delay_minutes), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0)
		FROM flights_otp
		` + where

	var k KPISummary
	err := c.db.QueryRowContext(ctx, query, args...).Scan(
		&k.TotalFlights, &k.OnTimeCount, &k.OTPPct, &k.AvgDelay, &k.MaxDelay, &k.Cancelled,
	)
	if err != nil {
		return KPISummary{}, fmt.Errorf("failed to query kpi summary: %w", err)
	}
	return k, nil
}

// OTPByAirline returns on-time performance per airline, best first
func (c *Client) OTPByAirline(ctx context.Context, f Filter) ([]AirlineOTP, error) {
	where, args := f.where()
	query := `
		SELECT airline, COUNT(*) AS total, ` + otpExpr + ` AS otp_pct
		FROM flights_otp
		` + where + `
		GROUP BY airline
		ORDER BY otp_pct DESC, airline
	`

	out := []AirlineOTP{}
	err := c.query(ctx, query, args, func(rows *sql.Rows) error {
		var a AirlineOTP
		if err := rows.Scan(&a.Airline, &a.Total, &a.OTPPct); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// DelayDistribution returns flight counts per delay bucket in band order
func (c *Client) DelayDistribution(ctx context.Context, f Filter) ([]DelayBucket, error) {
	where, args := f.where()
	query := `
		SELECT delay_bucket, COUNT(*) AS cnt
		FROM flights_otp
		` + where + `
		GROUP BY delay_bucket
		ORDER BY
			CASE delay_bucket
				WHEN 'On Time (0 min)' THEN 1
				WHEN 'Minor (1-15 min)' THEN 2
				WHEN 'Moderate (16-60 min)' THEN 3
				ELSE 4
			END
	`

	out := []DelayBucket{}
	err := c.query(ctx, query, args, func(rows *sql.Rows) error {
		var b DelayBucket
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

// HourlyOTP returns on-time performance per scheduled hour
func (c *Client) HourlyOTP(ctx context.Context, f Filter) ([]HourlyOTP, error) {
	where, args := f.where()
	query := `
		SELECT sched_hour, COUNT(*) AS total, ` + otpExpr + ` AS otp_pct
		FROM flights_otp
		` + where + `
		GROUP BY sched_hour
		ORDER BY sched_hour
	`

	out := []HourlyOTP{}
	err := c.query(ctx, query, args, func(rows *sql.Rows) error {
		var h HourlyOTP
		if err := rows.Scan(&h.Hour, &h.Total, &h.OTPPct); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	return out, err
}

// StatusBreakdown returns flight counts per status, largest first
func (c *Client) StatusBreakdown(ctx context.Context, f Filter) ([]StatusCount, error) {
	where, args := f.where()
	query := `
		SELECT status, COUNT(*) AS cnt
		FROM flights_otp
		` + where + `
		GROUP BY status
		ORDER BY cnt DESC, status
	`

	out := []StatusCount{}
	err := c.query(ctx, query, args, func(rows *sql.Rows) error {
		var s StatusCount
		if err := rows.Scan(&s.Status, &s.Count); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// RouteOTP returns the worst routes by on-time performance. Routes with
// fewer than MinRouteFlights flights are left out.
func (c *Client) RouteOTP(ctx context.Context, f Filter, limit int) ([]RouteOTP, error) {
	if limit <= 0 {
		limit = 20
	}
	where, args := f.where()
	args = append(args, MinRouteFlights, limit)
	query := fmt.Sprintf(`
		SELECT route, COUNT(*) AS total, %s AS otp_pct
		FROM flights_otp
		%s
		GROUP BY route
		HAVING COUNT(*) >= $%d
		ORDER BY otp_pct ASC, route
		LIMIT $%d
	`, otpExpr, where, len(args)-1, len(args))

	out := []RouteOTP{}
	err := c.query(ctx, query, args, func(rows *sql.Rows) error {
		var r RouteOTP
		if err := rows.Scan(&r.Route, &r.Total, &r.OTPPct); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// MostDelayed returns the filtered flights with the largest delays
func (c *Client) MostDelayed(ctx context.Context, f Filter, limit int) ([]FlightDetail, error) {
	if limit <= 0 {
		limit = 200
	}
	where, args := f.where()
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT flight_id, airline, route, flight_type, status, scheduled_time,
			delay_minutes, is_ontime, terminal, gate, aircraft_type
		FROM flights_otp
		%s
		ORDER BY delay_minutes DESC, flight_id
		LIMIT $%d
	`, where, len(args))

	out := []FlightDetail{}
	err := c.query(ctx, query, args, func(rows *sql.Rows) error {
		var (
			d                            FlightDetail
			onTime                       int
			terminal, gate, aircraftType sql.NullString
		)
		if err := rows.Scan(
			&d.FlightID, &d.Airline, &d.Route, &d.FlightType, &d.Status, &d.ScheduledTime,
			&d.DelayMinutes, &onTime, &terminal, &gate, &aircraftType,
		); err != nil {
			return err
		}
		d.OnTime = onTime == 1
		d.Terminal = stringPtr(terminal)
		d.Gate = stringPtr(gate)
		d.AircraftType = stringPtr(aircraftType)
		out = append(out, d)
		return nil
	})
	return out, err
}

// Airlines returns the distinct airline names for filter options
func (c *Client) Airlines(ctx context.Context) ([]string, error) {
	return c.distinct(ctx, `SELECT DISTINCT airline FROM flights_otp ORDER BY airline`)
}

// Routes returns the distinct routes for filter options
func (c *Client) Routes(ctx context.Context) ([]string, error) {
	return c.distinct(ctx, `SELECT DISTINCT route FROM flights_otp ORDER BY route`)
}

func (c *Client) distinct(ctx context.Context, query string) ([]string, error) {
	out := []string{}
	err := c.query(ctx, query, nil, func(rows *sql.Rows) error {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func (c *Client) query(ctx context.Context, query string, args []interface{}, scan func(*sql.Rows) error) error {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			c.logger.Warn("error closing rows", "error", cerr)
		}
	}()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
