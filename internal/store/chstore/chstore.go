// Package chstore implements store.TableStore over ClickHouse, grounded on
// a narrow Client/Connection capability interface over clickhouse-go/v2.
package chstore

import (
	"context"
	"fmt"
	"strings"

	chgo "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/retry"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Connection is the subset of a clickhouse-go/v2 connection this store
// needs: Exec/Query/PrepareBatch.
type Connection interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (chgo.Rows, error)
	PrepareBatch(ctx context.Context, query string) (chgo.Batch, error)
}

// Store is a ClickHouse-backed TableStore. Table is a plain MergeTree-style
// table whose leading PKColumns columns are the primary key; callers are
// responsible for the table's DDL (see internal/config for migrations).
type Store struct {
	Conn     Connection
	Table    string
	Schema   []store.Column
	Columns  []string // full column list, PK first, in table order
	readOnly bool
}

// New wraps an existing ClickHouse table.
func New(conn Connection, table string, schema []store.Column, columns []string, readOnly bool) *Store {
	return &Store{Conn: conn, Table: table, Schema: schema, Columns: columns, readOnly: readOnly}
}

func (s *Store) PrimarySchema() []store.Column { return s.Schema }
func (s *Store) ReadOnly() bool                { return s.readOnly }

// ReadRows reads by PK when idx is non-nil, or the whole table when nil.
// ClickHouse has no native row-level point lookup index, so a chunked
// PK-tuple IN(...) filter is used here, matching the chunked-read pattern
// used elsewhere in this codebase for dimension backfills.
func (s *Store) ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	colList := strings.Join(s.Columns, ", ")
	var rows chgo.Rows
	var err error

	if idx == nil || idx.Len() == 0 {
		if idx != nil {
			return frame.New(s.Columns, len(s.Schema)), nil
		}
		err = retry.Do(ctx, retry.DefaultConfig(), func() error {
			rows, err = s.Conn.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, s.Table))
			return err
		})
	} else {
		where, args := pkInClause(s.Schema, idx)
		err = retry.Do(ctx, retry.DefaultConfig(), func() error {
			rows, err = s.Conn.Query(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s", colList, s.Table, where), args...)
			return err
		})
	}
	if err != nil {
		return nil, fmt.Errorf("chstore: query %s: %w", s.Table, err)
	}
	defer rows.Close()

	out := frame.New(s.Columns, len(s.Schema))
	for rows.Next() {
		dest := make([]any, len(s.Columns))
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("chstore: scan %s: %w", s.Table, err)
		}
		out.Rows = append(out.Rows, dest)
	}
	return out, rows.Err()
}

// InsertRows appends rows via a prepared batch insert.
func (s *Store) InsertRows(ctx context.Context, df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	if df.Len() == 0 {
		return nil
	}
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		batch, err := s.Conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", s.Table, strings.Join(s.Columns, ", ")))
		if err != nil {
			return fmt.Errorf("chstore: prepare batch %s: %w", s.Table, err)
		}
		for _, row := range df.Rows {
			if err := batch.Append(row...); err != nil {
				return fmt.Errorf("chstore: append row %s: %w", s.Table, err)
			}
		}
		return batch.Send()
	})
	return err
}

// UpdateRows re-inserts the given rows. ClickHouse tables backing this
// store are expected to use ReplacingMergeTree (or an equivalent engine)
// keyed by the PK columns, so a re-insert is the idiomatic "overwrite"
// there: the latest row per PK wins once background merges run.
func (s *Store) UpdateRows(ctx context.Context, df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	return s.InsertRows(ctx, df)
}

// DeleteRows issues a lightweight ALTER TABLE ... DELETE for the given PKs.
func (s *Store) DeleteRows(ctx context.Context, idx *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	if idx.Len() == 0 {
		return nil
	}
	where, args := pkInClause(s.Schema, idx)
	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		return s.Conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DELETE WHERE %s", s.Table, where), args...)
	})
}

// pkInClause builds a WHERE clause matching any of idx's PK tuples. For a
// single-column PK this is a plain IN(...); for composite PKs it is an OR
// of per-column equality groups, since ClickHouse's tuple IN works but is
// less portable across versions than an explicit OR-of-ANDs.
func pkInClause(schema []store.Column, idx *frame.Frame) (string, []any) {
	if len(schema) == 1 {
		placeholders := make([]string, idx.Len())
		args := make([]any, idx.Len())
		for i := 0; i < idx.Len(); i++ {
			placeholders[i] = "?"
			args[i] = idx.Rows[i][0]
		}
		return fmt.Sprintf("%s IN (%s)", schema[0].Name, strings.Join(placeholders, ", ")), args
	}

	var clauses []string
	var args []any
	for i := 0; i < idx.Len(); i++ {
		var eqs []string
		for j, col := range schema {
			eqs = append(eqs, fmt.Sprintf("%s = ?", col.Name))
			args = append(args, idx.Rows[i][j])
		}
		clauses = append(clauses, "("+strings.Join(eqs, " AND ")+")")
	}
	return strings.Join(clauses, " OR "), args
}
