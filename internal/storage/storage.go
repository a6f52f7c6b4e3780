package storage

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Workspace is a temporary directory owned by exactly one pipeline run
type Workspace struct {
	dir    string
	closed bool
	mu     sync.Mutex
}

// NewWorkspace creates <parent>/flightgen-<runID>. An empty parent uses the
// system temp directory.
func NewWorkspace(parent, runID string) (*Workspace, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace parent: %w", err)
	}

	dir := filepath.Join(parent, "flightgen-"+runID)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory
func (w *Workspace) Dir() string { return w.dir }

// Path returns the path of name inside the workspace
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Close removes the workspace and everything in it. Safe to call twice.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

const (
	runFilePrefix = "flights_"
	runFileExt    = ".ndjson"
)

// Archive keeps one NDJSON file per pipeline run under outputDir
type Archive struct {
	outputDir string
	logger    *slog.Logger
}

// NewArchive creates an archive rooted at outputDir
func NewArchive(outputDir string, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{outputDir: outputDir, logger: logger}
}

// Dir returns the archive directory
func (a *Archive) Dir() string { return a.outputDir }

// RunFile returns the path of the NDJSON file for a run
func (a *Archive) RunFile(runID string, baseTime time.Time) string {
	name := fmt.Sprintf("%s%s_%s%s", runFilePrefix, baseTime.UTC().Format("2006-01-02"), runID, runFileExt)
	return filepath.Join(a.outputDir, name)
}

// Compress gzips a finished run file next to the original and removes the
// original. It returns the compressed path.
func (a *Archive) Compress(path string) (string, error) {
	//nolint:gosec // path is controlled by application logic
	source, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open run file: %w", err)
	}
	defer source.Close()

	compressedPath := path + ".gz"
	//nolint:gosec // compressedPath is controlled by application logic
	target, err := os.Create(compressedPath)
	if err != nil {
		return "", fmt.Errorf("failed to create compressed file: %w", err)
	}

	gzipWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		target.Close()
		return "", fmt.Errorf("failed to compress run file: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		target.Close()
		return "", fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	if err := target.Close(); err != nil {
		return "", fmt.Errorf("failed to close compressed file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove original file: %w", err)
	}
	return compressedPath, nil
}

// List returns archived run files, oldest name first
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, runFilePrefix) {
			continue
		}
		if strings.HasSuffix(name, runFileExt) || strings.HasSuffix(name, runFileExt+".gz") {
			files = append(files, filepath.Join(a.outputDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Prune deletes run files last modified before now-maxAge and returns how
// many were removed
func (a *Archive) Prune(maxAge time.Duration, now time.Time) (int, error) {
	files, err := a.List()
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return removed, fmt.Errorf("failed to stat %s: %w", f, err)
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err != nil {
				return removed, fmt.Errorf("failed to remove %s: %w", f, err)
			}
			removed++
		}
	}
	return removed, nil
}

// RunRetention prunes the archive every interval until ctx is done
func (a *Archive) RunRetention(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := a.Prune(maxAge, now)
			if err != nil {
				a.logger.Error("archive retention failed", "dir", a.outputDir, "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("pruned archived runs", "dir", a.outputDir, "removed", n)
			}
		}
	}
}
