// Package store defines the Table Store capability: the narrow interface
// every physical backend implements so the rest of the engine can treat
// ClickHouse, Postgres, a local filesystem, S3, Neo4j, and InfluxDB
// identically.
package store

import (
	"context"

	"github.com/malbeclabs/pipelake/internal/frame"
)

// ColumnType is the subset of primary-key column types the engine cares
// about for join/compare purposes. Non-PK columns are untyped (any) inside
// a frame.Frame.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnInt
)

// Column describes one primary-key column.
type Column struct {
	Name string
	Type ColumnType
}

// TableStore is the capability every physical backend must provide.
// ReadRows/InsertRows/UpdateRows/DeleteRows all key off the leading
// PKColumns columns of the given frame.
type TableStore interface {
	// PrimarySchema returns the table's primary-key columns, in order.
	PrimarySchema() []Column

	// ReadRows returns the full rows (PK + payload columns) for the PK
	// tuples named in idx. idx must be a frame whose columns are exactly
	// the PK columns. Rows not found are simply omitted from the result.
	ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error)

	// InsertRows writes new rows. df's leading PKColumns columns must
	// match PrimarySchema.
	InsertRows(ctx context.Context, df *frame.Frame) error

	// UpdateRows overwrites existing rows in place, same shape as InsertRows.
	UpdateRows(ctx context.Context, df *frame.Frame) error

	// DeleteRows removes rows named by idx (PK-only frame).
	DeleteRows(ctx context.Context, idx *frame.Frame) error

	// ReadOnly reports whether this backend rejects every mutating call.
	ReadOnly() bool
}

// ExternalTableStore is implemented by backends that represent an
// authoritative upstream data source rather than engine-owned state: they
// can stream a synthetic row-meta frame (pk..., update_ts) without owning
// a sidecar meta table themselves.
type ExternalTableStore interface {
	TableStore

	// ReadRowsMetaPseudoDF streams synthetic row-meta batches
	// (pk columns + update_ts) derived from the source's own notion of
	// recency, in chunks of at most chunkSize rows.
	ReadRowsMetaPseudoDF(ctx context.Context, chunkSize int) (<-chan *frame.Frame, <-chan error)
}
