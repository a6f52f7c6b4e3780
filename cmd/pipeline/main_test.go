package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saviobatista/flightgen/internal/catalog"
	"github.com/saviobatista/flightgen/internal/codec"
	"github.com/saviobatista/flightgen/internal/config"
	"github.com/saviobatista/flightgen/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.OutputDir = filepath.Join(dir, "data")
	cfg.WarehouseDir = filepath.Join(dir, "warehouse")
	cfg.RecordCount = 25
	cfg.BaseTime = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRunPipeline_FileMode(t *testing.T) {
	cfg := testConfig(t)

	result, err := runPipeline(context.Background(), cfg, pipeline.ModeFile, false, quietLogger())
	if err != nil {
		t.Fatalf("runPipeline() failed: %v", err)
	}

	if result.RowCount != 25 {
		t.Errorf("Expected 25 rows, got %d", result.RowCount)
	}
	if !strings.HasPrefix(result.Path, cfg.OutputDir) {
		t.Errorf("Expected run file under %s, got %s", cfg.OutputDir, result.Path)
	}
	n, err := codec.CountLines(result.Path)
	if err != nil || n != 25 {
		t.Errorf("CountLines() = %d, %v", n, err)
	}

	sink, ok := result.Sinks["catalog"]
	if !ok {
		t.Fatal("Expected the catalog sink to run")
	}
	if sink.Rows != 25 || sink.SnapshotID == 0 {
		t.Errorf("Unexpected catalog result %+v", sink)
	}
	if _, ok := result.Sinks["postgres"]; ok {
		t.Error("Expected no postgres sink without DATABASE_URL")
	}

	cat, err := catalog.Open(cfg.WarehouseDir, cfg.Catalog.Name, nil)
	if err != nil {
		t.Fatalf("catalog.Open() failed: %v", err)
	}
	table, err := cat.LoadTable(cfg.Catalog.Namespace, cfg.Catalog.Table)
	if err != nil {
		t.Fatalf("LoadTable() failed: %v", err)
	}
	if table.NumRows() != 25 {
		t.Errorf("Expected 25 rows in the catalog, got %d", table.NumRows())
	}
}

func TestRunPipeline_RepeatedRunsAppend(t *testing.T) {
	cfg := testConfig(t)

	for i := 1; i <= 2; i++ {
		result, err := runPipeline(context.Background(), cfg, pipeline.ModeBuffer, false, quietLogger())
		if err != nil {
			t.Fatalf("runPipeline() failed: %v", err)
		}
		if got := result.Sinks["catalog"].Rows; got != int64(25*i) {
			t.Errorf("run %d: expected %d catalog rows, got %d", i, 25*i, got)
		}
	}
}

func TestRunPipeline_Gzip(t *testing.T) {
	cfg := testConfig(t)

	result, err := runPipeline(context.Background(), cfg, pipeline.ModeFile, true, quietLogger())
	if err != nil {
		t.Fatalf("runPipeline() failed: %v", err)
	}
	if !strings.HasSuffix(result.Path, ".ndjson.gz") {
		t.Errorf("Expected compressed path, got %s", result.Path)
	}
	if _, err := os.Stat(result.Path); err != nil {
		t.Errorf("Expected compressed file: %v", err)
	}
}

func TestRun_InvalidMode(t *testing.T) {
	if err := run(context.Background(), "tape", false, &bytes.Buffer{}); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestRun_Output(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("OUTPUT_DIR", cfg.OutputDir)
	t.Setenv("WAREHOUSE_DIR", cfg.WarehouseDir)
	t.Setenv("RECORD_COUNT", "10")
	t.Setenv("BASE_TIME", "2026-06-15T12:00:00Z")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("CONFIG_FILE", "")

	var stdout bytes.Buffer
	if err := run(context.Background(), "buffer", false, &stdout); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "10 records") || !strings.Contains(out, "catalog: 10 rows") {
		t.Errorf("Unexpected output: %s", out)
	}
}
