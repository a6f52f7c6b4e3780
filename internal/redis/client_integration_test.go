package redis

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/flightgen/internal/types"
)

func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := rediscontainer.Run(ctx, "redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections"),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get Redis connection string: %v", err)
	}
	return url
}

func TestRedisClient_Integration_RunSummaryAndKPI(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client, err := New(setupRedis(t))
	if err != nil {
		t.Fatalf("Failed to create Redis client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	summary := types.RunSummary{
		RunID:      "integration-run",
		Seed:       7,
		BaseTime:   time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
		Records:    10,
		RowCount:   10,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if err := client.StoreRunSummary(ctx, summary); err != nil {
		t.Fatalf("StoreRunSummary() failed: %v", err)
	}

	latest, found, err := client.LatestRunSummary(ctx)
	if err != nil || !found {
		t.Fatalf("LatestRunSummary() = %v, %v", found, err)
	}
	if latest.RunID != summary.RunID || latest.Records != 10 {
		t.Errorf("unexpected latest summary: %+v", latest)
	}

	key := KPIKey(summary.RunID, "/api/kpi")
	if err := client.SetKPI(ctx, key, map[string]int{"total_flights": 10}, time.Minute); err != nil {
		t.Fatalf("SetKPI() failed: %v", err)
	}
	var got map[string]int
	if found, err := client.GetKPI(ctx, key, &got); err != nil || !found || got["total_flights"] != 10 {
		t.Errorf("GetKPI() = %v, %v, %v", got, found, err)
	}
}
