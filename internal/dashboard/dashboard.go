package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saviobatista/flightgen/internal/db"
	"github.com/saviobatista/flightgen/internal/metrics"
	"github.com/saviobatista/flightgen/internal/stats"
	"github.com/saviobatista/flightgen/internal/types"
)

// Store answers the dashboard queries
type Store interface {
	Ping(ctx context.Context) error
	KPISummary(ctx context.Context, f db.Filter) (db.KPISummary, error)
	OTPByAirline(ctx context.Context, f db.Filter) ([]db.AirlineOTP, error)
	DelayDistribution(ctx context.Context, f db.Filter) ([]db.DelayBucket, error)
	HourlyOTP(ctx context.Context, f db.Filter) ([]db.HourlyOTP, error)
	StatusBreakdown(ctx context.Context, f db.Filter) ([]db.StatusCount, error)
	RouteOTP(ctx context.Context, f db.Filter, limit int) ([]db.RouteOTP, error)
	MostDelayed(ctx context.Context, f db.Filter, limit int) ([]db.FlightDetail, error)
	Airlines(ctx context.Context) ([]string, error)
	Routes(ctx context.Context) ([]string, error)
	LatestRun(ctx context.Context) (stats.Snapshot, error)
}

// Cache holds dashboard answers and the latest run summary
type Cache interface {
	GetKPI(ctx context.Context, key string, target interface{}) (bool, error)
	SetKPI(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	LatestRunID(ctx context.Context) (string, bool, error)
	LatestRunSummary(ctx context.Context) (types.RunSummary, bool, error)
}

const (
	requestTimeout = 30 * time.Second
	maxLimit       = 1000
)

// Handler serves the dashboard JSON API
type Handler struct {
	store   Store
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithCache caches query answers for ttl
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(h *Handler) {
		h.cache = cache
		h.ttl = ttl
	}
}

// WithMetrics records query latency and serves /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a dashboard handler over store
func New(store Store, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{store: store, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the chi router with every dashboard route
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.latency)
		r.Get("/filters", h.handleFilters)
		r.Get("/kpi", h.handleKPI)
		r.Get("/otp/airlines", h.handleOTPByAirline)
		r.Get("/delays", h.handleDelays)
		r.Get("/hourly", h.handleHourly)
		r.Get("/status", h.handleStatus)
		r.Get("/routes", h.handleRoutes)
		r.Get("/flights", h.handleFlights)
		r.Get("/runs/latest", h.handleLatestRun)
	})
	return r
}

// latency records the duration of every API request under its route pattern
func (h *Handler) latency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		h.metrics.ObserveQuery(pattern, time.Since(start))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FilterOptions lists the values the airline and route filters accept
type FilterOptions struct {
	Airlines []string `json:"airlines"`
	Routes   []string `json:"routes"`
}

func (h *Handler) handleFilters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts, err := cachedQuery(ctx, h, "filters", db.Filter{}, func(ctx context.Context) (FilterOptions, error) {
		airlines, err := h.store.Airlines(ctx)
		if err != nil {
			return FilterOptions{}, err
		}
		routes, err := h.store.Routes(ctx)
		if err != nil {
			return FilterOptions{}, err
		}
		return FilterOptions{Airlines: airlines, Routes: routes}, nil
	})
	h.respond(w, r, opts, err)
}

func (h *Handler) handleKPI(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	kpi, err := cachedQuery(r.Context(), h, "kpi", f, func(ctx context.Context) (db.KPISummary, error) {
		return h.store.KPISummary(ctx, f)
	})
	h.respond(w, r, kpi, err)
}

func (h *Handler) handleOTPByAirline(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	out, err := cachedQuery(r.Context(), h, "otp_airlines", f, func(ctx context.Context) ([]db.AirlineOTP, error) {
		return h.store.OTPByAirline(ctx, f)
	})
	h.respond(w, r, out, err)
}

func (h *Handler) handleDelays(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	out, err := cachedQuery(r.Context(), h, "delays", f, func(ctx context.Context) ([]db.DelayBucket, error) {
		return h.store.DelayDistribution(ctx, f)
	})
	h.respond(w, r, out, err)
}

func (h *Handler) handleHourly(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	out, err := cachedQuery(r.Context(), h, "hourly", f, func(ctx context.Context) ([]db.HourlyOTP, error) {
		return h.store.HourlyOTP(ctx, f)
	})
	h.respond(w, r, out, err)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	out, err := cachedQuery(r.Context(), h, "status", f, func(ctx context.Context) ([]db.StatusCount, error) {
		return h.store.StatusBreakdown(ctx, f)
	})
	h.respond(w, r, out, err)
}

func (h *Handler) handleRoutes(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	f := parseFilter(r)
	out, err := cachedQuery(r.Context(), h, "routes:"+strconv.Itoa(limit), f, func(ctx context.Context) ([]db.RouteOTP, error) {
		return h.store.RouteOTP(ctx, f, limit)
	})
	h.respond(w, r, out, err)
}

func (h *Handler) handleFlights(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	f := parseFilter(r)
	out, err := cachedQuery(r.Context(), h, "flights:"+strconv.Itoa(limit), f, func(ctx context.Context) ([]db.FlightDetail, error) {
		return h.store.MostDelayed(ctx, f, limit)
	})
	h.respond(w, r, out, err)
}

func (h *Handler) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		summary, found, err := h.cache.LatestRunSummary(ctx)
		switch {
		case err != nil:
			h.metrics.IncrementCacheLookup("error")
			h.logger.WarnContext(ctx, "Failed to read cached run summary", "error", err)
		case found:
			h.metrics.IncrementCacheLookup("hit")
			writeJSON(w, http.StatusOK, summary)
			return
		default:
			h.metrics.IncrementCacheLookup("miss")
		}
	}

	snap, err := h.store.LatestRun(ctx)
	if errors.Is(err, db.ErrNoRuns) {
		writeError(w, http.StatusNotFound, "no pipeline runs recorded")
		return
	}
	h.respond(w, r, summaryFromSnapshot(snap), err)
}

func summaryFromSnapshot(snap stats.Snapshot) types.RunSummary {
	summary := types.RunSummary{
		RunID:      snap.RunID,
		Seed:       snap.Seed,
		BaseTime:   snap.BaseTime,
		Records:    int(snap.GeneratedRecords),
		Bytes:      int64(snap.EncodedBytes),
		RowCount:   int64(snap.LoadedRows),
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}
	if len(snap.SinkRows) > 0 {
		summary.SinkRows = make(map[string]int64, len(snap.SinkRows))
		for name, n := range snap.SinkRows {
			summary.SinkRows[name] = int64(n)
		}
	}
	return summary
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, body interface{}, err error) {
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Dashboard query failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// parseFilter reads the repeatable airline and route query parameters
func parseFilter(r *http.Request) db.Filter {
	q := r.URL.Query()
	return db.Filter{
		Airlines: nonEmpty(q["airline"]),
		Routes:   nonEmpty(q["route"]),
	}
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseLimit reads the optional limit parameter; zero selects the query's default
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxLimit))
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
