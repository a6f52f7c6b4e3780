package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/saviobatista/flightgen/internal/catalog"
	"github.com/saviobatista/flightgen/internal/db"
)

// TableLoader loads an Arrow table into the queryable flights store
type TableLoader interface {
	LoadTable(ctx context.Context, tbl arrow.Table, mode db.LoadMode) (int64, error)
}

// StoreSink loads every batch into the flights store
type StoreSink struct {
	loader TableLoader
	mode   db.LoadMode
}

// NewStoreSink creates a sink over loader using mode
func NewStoreSink(loader TableLoader, mode db.LoadMode) *StoreSink {
	return &StoreSink{loader: loader, mode: mode}
}

func (s *StoreSink) Name() string { return "postgres" }

// Append reports the store's row count after the load
func (s *StoreSink) Append(ctx context.Context, batch *Batch) (SinkResult, error) {
	rows, err := s.loader.LoadTable(ctx, batch.Table, s.mode)
	if err != nil {
		return SinkResult{}, err
	}
	return SinkResult{Rows: rows}, nil
}

// TableAppender appends an Arrow table as a new catalog snapshot
type TableAppender interface {
	Append(ctx context.Context, tbl arrow.Table) (catalog.AppendResult, error)
}

// CatalogSink appends every batch to a catalog table
type CatalogSink struct {
	table TableAppender
}

// NewCatalogSink creates a sink over table
func NewCatalogSink(table TableAppender) *CatalogSink {
	return &CatalogSink{table: table}
}

func (s *CatalogSink) Name() string { return "catalog" }

// Append reports the table's total rows and the new snapshot id
func (s *CatalogSink) Append(ctx context.Context, batch *Batch) (SinkResult, error) {
	res, err := s.table.Append(ctx, batch.Table)
	if err != nil {
		return SinkResult{}, err
	}
	return SinkResult{Rows: res.TotalRows, SnapshotID: res.SnapshotID}, nil
}

// Publisher publishes NDJSON, one message per line
type Publisher interface {
	PublishNDJSON(ctx context.Context, r io.Reader) (int, error)
}

// StreamSink publishes every record of a batch
type StreamSink struct {
	publisher Publisher
}

// NewStreamSink creates a sink over publisher
func NewStreamSink(publisher Publisher) *StreamSink {
	return &StreamSink{publisher: publisher}
}

func (s *StreamSink) Name() string { return "nats" }

// Append reports the number of messages published
func (s *StreamSink) Append(ctx context.Context, batch *Batch) (SinkResult, error) {
	r, err := batch.Open()
	if err != nil {
		return SinkResult{}, err
	}
	defer r.Close()

	n, err := s.publisher.PublishNDJSON(ctx, r)
	if err != nil {
		return SinkResult{Rows: int64(n)}, fmt.Errorf("published %d of %d records: %w", n, len(batch.Records), err)
	}
	return SinkResult{Rows: int64(n)}, nil
}
