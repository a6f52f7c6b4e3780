package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/saviobatista/flightgen/internal/codec"
	"github.com/saviobatista/flightgen/internal/nats"
)

// NATSClient interface for testability
type NATSClient interface {
	PublishNDJSON(ctx context.Context, r io.Reader) (int, error)
	Close()
}

func main() {
	sources := parseSources(os.Getenv("SOURCES"), os.Args[1:])
	if len(sources) == 0 {
		log.Printf("No sources: pass NDJSON files as arguments or set SOURCES")
		os.Exit(1)
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	client, err := nats.New(natsURL, nil)
	if err != nil {
		log.Printf("Failed to create NATS client: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	total, err := ingestAll(ctx, sources, client)
	stop()
	client.Close()

	if err != nil {
		log.Printf("Ingest failed after %d records: %v", total, err)
		os.Exit(1)
	}
	log.Printf("Published %d records from %d source(s)", total, len(sources))
}

// parseSources merges command line files with the comma separated SOURCES list
func parseSources(env string, args []string) []string {
	var sources []string
	for _, s := range append(strings.Split(env, ","), args...) {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	return sources
}

// ingestAll publishes every source in order and stops at the first failure
func ingestAll(ctx context.Context, sources []string, client NATSClient) (int, error) {
	total := 0
	for _, source := range sources {
		n, err := ingestFile(ctx, source, client)
		total += n
		if err != nil {
			return total, fmt.Errorf("source %s: %w", source, err)
		}
		log.Printf("Published %d records from %s", n, source)
	}
	return total, nil
}

// ingestFile publishes one NDJSON (or .ndjson.gz) file, one message per line
func ingestFile(ctx context.Context, path string, client NATSClient) (int, error) {
	f, err := codec.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return client.PublishNDJSON(ctx, f)
}
