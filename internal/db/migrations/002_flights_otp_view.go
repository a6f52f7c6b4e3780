package migrations

// FlightsOTPView derives the route, on-time flag, delay bucket and
// scheduled hour the dashboard queries group by
var FlightsOTPView = &Migration{
	ID:   "002_flights_otp_view",
	Name: "002_flights_otp_view",
	UpSQL: `
	CREATE OR REPLACE VIEW flights_otp AS
	SELECT
		f.*,
		f.origin_airport || ' → ' || f.destination_airport AS route,
		CASE WHEN f.delay_minutes <= 15 THEN 1 ELSE 0 END AS is_ontime,
		CASE
			WHEN f.delay_minutes = 0 THEN 'On Time (0 min)'
			WHEN f.delay_minutes <= 15 THEN 'Minor (1-15 min)'
			WHEN f.delay_minutes <= 60 THEN 'Moderate (16-60 min)'
			ELSE 'Severe (>60 min)'
		END AS delay_bucket,
		EXTRACT(HOUR FROM f.scheduled_time AT TIME ZONE 'UTC')::INTEGER AS sched_hour
	FROM flights f;
	`,
	DownSQL: `
	DROP VIEW IF EXISTS flights_otp;
	`,
}
