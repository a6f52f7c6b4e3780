package codec

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/saviobatista/flightgen/internal/parser"
	"github.com/saviobatista/flightgen/internal/types"
)

// ErrMissingSource is returned when an NDJSON file to read does not exist
var ErrMissingSource = errors.New("ndjson source not found")

// ParseError reports the first malformed line of an NDJSON file
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

const maxLineSize = 1 << 20

// RecordToLine renders one record as a single JSON object without a newline
func RecordToLine(rec types.FlightRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record %s: %w", rec.FlightID, err)
	}
	return string(data), nil
}

// RecordsToText renders records as NDJSON. Empty input yields "".
func RecordsToText(records iter.Seq[types.FlightRecord]) (string, error) {
	var b strings.Builder
	if _, err := writeRecords(&b, records); err != nil {
		return "", err
	}
	return b.String(), nil
}

// WriteTo streams records as NDJSON to w and returns the number written
func WriteTo(w io.Writer, records iter.Seq[types.FlightRecord]) (int, error) {
	return writeRecords(w, records)
}

func writeRecords(w io.Writer, records iter.Seq[types.FlightRecord]) (int, error) {
	count := 0
	for rec := range records {
		line, err := RecordToLine(rec)
		if err != nil {
			return count, err
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return count, fmt.Errorf("failed to write record: %w", err)
		}
		count++
	}
	return count, nil
}

// StreamToFile writes records as NDJSON to path, creating parent
// directories as needed, and returns the number of records written
func StreamToFile(records iter.Seq[types.FlightRecord], path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	//nolint:gosec // path is chosen by the caller
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create ndjson file: %w", err)
	}

	w := bufio.NewWriter(file)
	count, werr := writeRecords(w, records)
	if werr == nil {
		if err := w.Flush(); err != nil {
			werr = fmt.Errorf("failed to flush ndjson file: %w", err)
		}
	}
	if err := file.Close(); err != nil && werr == nil {
		werr = fmt.Errorf("failed to close ndjson file: %w", err)
	}
	return count, werr
}

// StreamToBuffer encodes records into memory. The returned reader is
// positioned at byte 0.
func StreamToBuffer(records iter.Seq[types.FlightRecord]) (*bytes.Reader, error) {
	var buf bytes.Buffer
	if _, err := writeRecords(&buf, records); err != nil {
		return nil, err
	}
	return bytes.NewReader(buf.Bytes()), nil
}

// Open opens an NDJSON file for reading, decompressing .gz files
func Open(path string) (io.ReadCloser, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	//nolint:gosec // path is chosen by the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return file, nil
	}

	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	return &gzipFile{Reader: gz, file: file}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gerr
}

// scanLines calls fn for every non-blank line of path with its 1-based number
func scanLines(path string, fn func(n int, line string) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// ReadBack reads an NDJSON file into untyped records. Records are not
// re-validated; the first malformed line aborts with a *ParseError.
func ReadBack(path string) ([]map[string]interface{}, error) {
	records := []map[string]interface{}{}
	err := scanLines(path, func(n int, line string) error {
		rec, err := parser.ParseLine(line)
		if err != nil {
			return &ParseError{Path: path, Line: n, Err: err}
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CountLines returns the number of non-blank lines in an NDJSON file
func CountLines(path string) (int, error) {
	count := 0
	err := scanLines(path, func(int, string) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
