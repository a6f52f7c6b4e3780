package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/saviobatista/flightgen/internal/codec"
	"github.com/saviobatista/flightgen/internal/generator"
	"github.com/saviobatista/flightgen/internal/storage"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Printf("Generate failed: %v", err)
		os.Exit(1)
	}
}

type options struct {
	seed     int64
	baseTime time.Time
	count    int
	out      string
	gzip     bool
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	seed := fs.Int64("seed", 42, "Random seed")
	baseTime := fs.String("base-time", "", "Base time in RFC 3339 (default now)")
	count := fs.Int("n", 2000, "Number of records")
	out := fs.String("out", "flights.ndjson", "Output NDJSON file")
	gz := fs.Bool("gzip", false, "Compress the output file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{seed: *seed, count: *count, out: *out, gzip: *gz}
	if *baseTime != "" {
		t, err := time.Parse(time.RFC3339, *baseTime)
		if err != nil {
			return options{}, fmt.Errorf("invalid -base-time: %w", err)
		}
		opts.baseTime = t
	}
	if opts.count < 0 {
		return options{}, fmt.Errorf("invalid -n: %d is negative", opts.count)
	}
	return opts, nil
}

// run writes one NDJSON file and cross-checks its line count
func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	gen := generator.New(opts.seed, opts.baseTime)
	written, err := codec.StreamToFile(gen.Stream(opts.count), opts.out)
	if err != nil {
		return err
	}

	lines, err := codec.CountLines(opts.out)
	if err != nil {
		return err
	}
	if lines != written {
		return fmt.Errorf("wrote %d records but %s has %d lines", written, opts.out, lines)
	}

	path := opts.out
	if opts.gzip {
		archive := storage.NewArchive(filepath.Dir(opts.out), nil)
		if path, err = archive.Compress(opts.out); err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "wrote %d records to %s (seed=%d base_time=%s, %d lines)\n",
		written, path, gen.Seed(), gen.BaseTime().Format(time.RFC3339), lines)
	return nil
}
