package migrations

// FlightsSchema creates the flights hypertable and the pipeline run log
var FlightsSchema = &Migration{
	ID:   "001_flights_schema",
	Name: "001_flights_schema",
	UpSQL: `
		-- Enable TimescaleDB extension
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		-- Create flights table
		CREATE TABLE IF NOT EXISTS flights (
			flight_id TEXT NOT NULL,
			flight_type TEXT NOT NULL,
			airline TEXT NOT NULL,
			airline_code TEXT NOT NULL,
			flight_number INTEGER NOT NULL,
			origin_airport TEXT NOT NULL,
			destination_airport TEXT NOT NULL,
			scheduled_time TIMESTAMPTZ NOT NULL,
			estimated_time TIMESTAMPTZ,
			actual_time TIMESTAMPTZ,
			status TEXT NOT NULL,
			gate TEXT,
			terminal TEXT,
			aircraft_type TEXT,
			delay_minutes INTEGER NOT NULL DEFAULT 0
		);

		-- Create hypertable
		SELECT create_hypertable('flights', 'scheduled_time', if_not_exists => TRUE);

		-- Create indexes
		CREATE INDEX IF NOT EXISTS idx_flights_airline ON flights (airline);
		CREATE INDEX IF NOT EXISTS idx_flights_status ON flights (status);
		CREATE INDEX IF NOT EXISTS idx_flights_route ON flights (origin_airport, destination_airport);

		-- Create pipeline run log
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			seed BIGINT NOT NULL,
			base_time TIMESTAMPTZ NOT NULL,
			generated_records BIGINT NOT NULL,
			encoded_bytes BIGINT NOT NULL,
			loaded_rows BIGINT NOT NULL,
			status_counts BIGINT[] NOT NULL,
			sink_rows JSONB NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			processing_time_ms BIGINT NOT NULL,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs (started_at DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS pipeline_runs;
		DROP TABLE IF EXISTS flights;
	`,
}
