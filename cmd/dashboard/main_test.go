package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saviobatista/flightgen/internal/config"
	"github.com/saviobatista/flightgen/internal/db"
	"github.com/saviobatista/flightgen/internal/metrics"
)

func TestApplyOptions(t *testing.T) {
	tests := []struct {
		name      string
		opts      options
		wantSeed  int64
		wantCount int
		wantAddr  string
	}{
		{"unset flags keep config", options{seed: -1, count: -1}, 42, 2000, "127.0.0.1:0"},
		{"flags override", options{seed: 7, count: 10, addr: "127.0.0.1:8080"}, 7, 10, "127.0.0.1:8080"},
		{"zero is a valid seed", options{seed: 0, count: 0}, 0, 0, "127.0.0.1:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			applyOptions(cfg, tt.opts)
			if cfg.Seed != tt.wantSeed || cfg.RecordCount != tt.wantCount || cfg.DashboardAddr != tt.wantAddr {
				t.Errorf("Unexpected config: seed=%d count=%d addr=%s", cfg.Seed, cfg.RecordCount, cfg.DashboardAddr)
			}
		})
	}
}

func TestServe_HealthAndShutdown(t *testing.T) {
	// pings are not monitored, so every health check succeeds
	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer sqlDB.Close()

	store := db.NewFromDB(sqlDB, nil)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	m := metrics.New(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	urls := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- serve(ctx, config.Default(), store, nil, m, logger, func(url string) { urls <- url })
	}()

	var url string
	select {
	case url = <-urls:
	case err := <-errc:
		t.Fatalf("serve() returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for the dashboard")
	}

	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("serve() failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for shutdown")
	}
}
