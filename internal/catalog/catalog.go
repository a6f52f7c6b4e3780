package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNamespaceExists  = errors.New("namespace already exists")
	ErrNoSuchNamespace  = errors.New("namespace does not exist")
	ErrTableExists      = errors.New("table already exists")
	ErrNoSuchTable      = errors.New("table does not exist")
	ErrNoSuchSnapshot   = errors.New("snapshot does not exist")
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

const indexFile = "catalog.json"

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DataFile is one parquet file owned by a table
type DataFile struct {
	Path        string `json:"path"`
	RecordCount int64  `json:"record-count"`
	SizeBytes   int64  `json:"file-size-in-bytes"`
}

// Snapshot is one committed version of a table
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	Operation        string            `json:"operation"`
	AddedFiles       []DataFile        `json:"added-files"`
	Summary          map[string]string `json:"summary"`
}

// TableMetadata is the persisted description of a table
type TableMetadata struct {
	Namespace         string     `json:"namespace"`
	Name              string     `json:"name"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	Fields            []Field    `json:"fields"`
	CurrentSnapshotID *int64     `json:"current-snapshot-id,omitempty"`
	Snapshots         []Snapshot `json:"snapshots"`
	CreatedAtMs       int64      `json:"created-at-ms"`
	LastUpdatedMs     int64      `json:"last-updated-ms"`
}

type index struct {
	Name       string                    `json:"catalog"`
	Namespaces []string                  `json:"namespaces"`
	Tables     map[string]*TableMetadata `json:"tables"`
}

// Catalog is a single-writer table catalog over a local warehouse
// directory: a JSON metadata index plus parquet data files.
type Catalog struct {
	warehouse string
	idx       index
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// Open creates or loads the catalog stored in warehouse
func Open(warehouse, name string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(warehouse)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve warehouse path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create warehouse: %w", err)
	}

	c := &Catalog{
		warehouse: abs,
		idx:       index{Name: name, Tables: map[string]*TableMetadata{}},
		logger:    logger,
		now:       time.Now,
	}

	//nolint:gosec // the index path is derived from the configured warehouse
	data, err := os.ReadFile(filepath.Join(abs, indexFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := c.persist(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read catalog index: %w", err)
	default:
		if err := json.Unmarshal(data, &c.idx); err != nil {
			return nil, fmt.Errorf("failed to parse catalog index: %w", err)
		}
		if c.idx.Tables == nil {
			c.idx.Tables = map[string]*TableMetadata{}
		}
	}
	return c, nil
}

// Warehouse returns the absolute warehouse directory
func (c *Catalog) Warehouse() string { return c.warehouse }

// persist atomically replaces the index file; callers hold c.mu or own c
func (c *Catalog) persist() error {
	data, err := json.MarshalIndent(c.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog index: %w", err)
	}

	tmp := filepath.Join(c.warehouse, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write catalog index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(c.warehouse, indexFile)); err != nil {
		return fmt.Errorf("failed to commit catalog index: %w", err)
	}
	return nil
}

func validIdent(kind, s string) error {
	if !identRe.MatchString(s) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, s)
	}
	return nil
}

func key(namespace, name string) string { return namespace + "." + name }

func (c *Catalog) hasNamespace(namespace string) bool {
	for _, ns := range c.idx.Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// CreateNamespace registers a namespace
func (c *Catalog) CreateNamespace(namespace string) error {
	if err := validIdent("namespace", namespace); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasNamespace(namespace) {
		return fmt.Errorf("%w: %s", ErrNamespaceExists, namespace)
	}
	c.idx.Namespaces = append(c.idx.Namespaces, namespace)
	sort.Strings(c.idx.Namespaces)
	return c.persist()
}

// ListNamespaces returns all namespaces in name order
func (c *Catalog) ListNamespaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.idx.Namespaces...)
}

// CreateTable creates an empty table with the given fields
func (c *Catalog) CreateTable(namespace, name string, fields []Field) (*Table, error) {
	if err := validIdent("table", name); err != nil {
		return nil, err
	}
	schema, err := ArrowSchema(fields)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasNamespace(namespace) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchNamespace, namespace)
	}
	k := key(namespace, name)
	if _, ok := c.idx.Tables[k]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, k)
	}

	location := filepath.Join(namespace, name)
	if err := os.MkdirAll(filepath.Join(c.warehouse, location, "data"), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create table location: %w", err)
	}

	nowMs := c.now().UnixMilli()
	meta := &TableMetadata{
		Namespace:     namespace,
		Name:          name,
		TableUUID:     uuid.NewString(),
		Location:      location,
		Fields:        append([]Field(nil), fields...),
		Snapshots:     []Snapshot{},
		CreatedAtMs:   nowMs,
		LastUpdatedMs: nowMs,
	}
	c.idx.Tables[k] = meta
	if err := c.persist(); err != nil {
		delete(c.idx.Tables, k)
		return nil, err
	}

	c.logger.Info("created catalog table", "table", k, "fields", len(fields))
	return &Table{catalog: c, key: k, schema: schema}, nil
}

// LoadTable opens an existing table
func (c *Catalog) LoadTable(namespace, name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(namespace, name)
	meta, ok := c.idx.Tables[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, k)
	}
	schema, err := ArrowSchema(meta.Fields)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", k, err)
	}
	return &Table{catalog: c, key: k, schema: schema}, nil
}

// EnsureTable loads the table, creating its namespace and the table itself
// when missing. Existing namespaces and tables are not an error.
func (c *Catalog) EnsureTable(namespace, name string, fields []Field) (*Table, error) {
	if err := c.CreateNamespace(namespace); err != nil && !errors.Is(err, ErrNamespaceExists) {
		return nil, err
	}

	t, err := c.LoadTable(namespace, name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNoSuchTable) {
		return nil, err
	}

	t, err = c.CreateTable(namespace, name, fields)
	if errors.Is(err, ErrTableExists) {
		return c.LoadTable(namespace, name)
	}
	return t, err
}

// ListTables returns the tables of a namespace in name order
func (c *Catalog) ListTables(namespace string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for _, meta := range c.idx.Tables {
		if meta.Namespace == namespace {
			names = append(names, meta.Name)
		}
	}
	sort.Strings(names)
	return names
}

// DropWarehouse removes an entire warehouse directory
func DropWarehouse(warehouse string) error {
	if err := os.RemoveAll(warehouse); err != nil {
		return fmt.Errorf("failed to drop warehouse: %w", err)
	}
	return nil
}
