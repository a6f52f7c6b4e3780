package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/saviobatista/flightgen/internal/codec"
	"github.com/saviobatista/flightgen/internal/nats"
	"github.com/saviobatista/flightgen/internal/storage"
	"github.com/saviobatista/flightgen/internal/types"
)

func main() {
	if err := runLogger(); err != nil {
		log.Printf("Logger failed: %v", err)
		os.Exit(1)
	}
}

// runLogger subscribes to published flight records and writes them to
// daily NDJSON files until SIGINT or SIGTERM
func runLogger() error {
	outputDir, natsURL := parseEnvironment()

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	client, err := nats.New(natsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}

	logger := NewLogger(outputDir)
	if err := logger.Start(); err != nil {
		client.Close()
		return err
	}

	if _, err := client.SubscribeRecords(func(rec types.FlightRecord) {
		if err := logger.WriteRecord(rec); err != nil {
			log.Printf("Failed to write record: %v", err)
		}
	}); err != nil {
		client.Close()
		_ = logger.Close()
		return fmt.Errorf("failed to subscribe to flight records: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("Shutting down...")
	client.Close() // no more records arrive after this
	return logger.Close()
}

// parseEnvironment extracts environment variables with defaults
func parseEnvironment() (string, string) {
	outputDir := os.Getenv("OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "./data"
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	return outputDir, natsURL
}

// Logger appends received records to one NDJSON file per UTC day and
// compresses the previous day's file on rotation
type Logger struct {
	outputDir   string
	archive     *storage.Archive
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// NewLogger creates a new logger instance
func NewLogger(outputDir string) *Logger {
	return &Logger{
		outputDir: outputDir,
		archive:   storage.NewArchive(outputDir, nil),
		now:       time.Now,
	}
}

// Start opens the file for the current day
func (l *Logger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openFile(l.now().UTC().Format("2006-01-02"))
}

// WriteRecord appends rec as one NDJSON line, rotating first when the UTC
// day changed
func (l *Logger) WriteRecord(rec types.FlightRecord) error {
	line, err := codec.RecordToLine(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if today := l.now().UTC().Format("2006-01-02"); today != l.currentDate {
		if err := l.rotate(today); err != nil {
			return err
		}
	}
	if _, err := l.currentFile.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// rotate closes and compresses the current file and opens the one for date
func (l *Logger) rotate(date string) error {
	if l.currentFile != nil {
		path := l.currentFile.Name()
		if err := l.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current file: %w", err)
		}
		l.currentFile = nil
		if _, err := l.archive.Compress(path); err != nil {
			log.Printf("Failed to compress previous file: %v", err)
		}
	}
	return l.openFile(date)
}

func (l *Logger) openFile(date string) error {
	path := l.FilePath(date)
	//nolint:gosec // path is controlled by application logic
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open record file: %w", err)
	}

	l.currentFile = file
	l.currentDate = date
	return nil
}

// FilePath returns the NDJSON file for a UTC date
func (l *Logger) FilePath(date string) string {
	return filepath.Join(l.outputDir, fmt.Sprintf("flights_stream_%s.ndjson", date))
}

// CurrentDate returns the date of the open file
func (l *Logger) CurrentDate() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentDate
}

// Close closes the current file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile == nil {
		return nil
	}
	err := l.currentFile.Close()
	l.currentFile = nil
	return err
}
