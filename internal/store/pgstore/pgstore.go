// Package pgstore implements store.TableStore over PostgreSQL via pgx,
// grounded on a pgxpool connection-pool wiring pattern.
package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/retry"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Store is a Postgres-backed TableStore using upsert-on-conflict semantics
// for InsertRows/UpdateRows, matching the idempotent-upsert contract every
// store.TableStore must provide.
type Store struct {
	Pool     *pgxpool.Pool
	Table    string
	Schema   []store.Column
	Columns  []string
	readOnly bool
}

func New(pool *pgxpool.Pool, table string, schema []store.Column, columns []string, readOnly bool) *Store {
	return &Store{Pool: pool, Table: table, Schema: schema, Columns: columns, readOnly: readOnly}
}

func (s *Store) PrimarySchema() []store.Column { return s.Schema }
func (s *Store) ReadOnly() bool                { return s.readOnly }

func (s *Store) ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	colList := strings.Join(s.Columns, ", ")
	var rows pgx.Rows
	var err error

	if idx == nil {
		err = retry.Do(ctx, retry.DefaultConfig(), func() error {
			rows, err = s.Pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, s.Table))
			return err
		})
	} else if idx.Len() == 0 {
		return frame.New(s.Columns, len(s.Schema)), nil
	} else {
		where, args := pkInClause(s.Schema, idx)
		err = retry.Do(ctx, retry.DefaultConfig(), func() error {
			rows, err = s.Pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s", colList, s.Table, where), args...)
			return err
		})
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: query %s: %w", s.Table, err)
	}
	defer rows.Close()

	out := frame.New(s.Columns, len(s.Schema))
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan %s: %w", s.Table, err)
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, rows.Err()
}

// InsertRows upserts rows (ON CONFLICT DO UPDATE on the PK columns), since
// store.TableStore's InsertRows/UpdateRows are both required to be
// idempotent upserts by PK.
func (s *Store) InsertRows(ctx context.Context, df *frame.Frame) error {
	return s.upsert(ctx, df)
}

func (s *Store) UpdateRows(ctx context.Context, df *frame.Frame) error {
	return s.upsert(ctx, df)
}

func (s *Store) upsert(ctx context.Context, df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	if df.Len() == 0 {
		return nil
	}

	pkNames := make([]string, len(s.Schema))
	for i, c := range s.Schema {
		pkNames[i] = c.Name
	}
	var setClauses []string
	for _, col := range s.Columns[len(s.Schema):] {
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	placeholders := make([]string, len(s.Columns))
	for i := range s.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		s.Table, strings.Join(s.Columns, ", "), strings.Join(placeholders, ", "),
		strings.Join(pkNames, ", "), strings.Join(setClauses, ", "),
	)
	if len(setClauses) == 0 {
		query = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			s.Table, strings.Join(s.Columns, ", "), strings.Join(placeholders, ", "), strings.Join(pkNames, ", "),
		)
	}

	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		tx, err := s.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("pgstore: begin %s: %w", s.Table, err)
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, row := range df.Rows {
			batch.Queue(query, row...)
		}
		br := tx.SendBatch(ctx, batch)
		for range df.Rows {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("pgstore: upsert %s: %w", s.Table, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("pgstore: close batch %s: %w", s.Table, err)
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) DeleteRows(ctx context.Context, idx *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	if idx.Len() == 0 {
		return nil
	}
	where, args := pkInClause(s.Schema, idx)
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		_, err := s.Pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.Table, where), args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", s.Table, err)
	}
	return nil
}

func pkInClause(schema []store.Column, idx *frame.Frame) (string, []any) {
	if len(schema) == 1 {
		placeholders := make([]string, idx.Len())
		args := make([]any, idx.Len())
		for i := 0; i < idx.Len(); i++ {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = idx.Rows[i][0]
		}
		return fmt.Sprintf("%s IN (%s)", schema[0].Name, strings.Join(placeholders, ", ")), args
	}

	var clauses []string
	var args []any
	n := 1
	for i := 0; i < idx.Len(); i++ {
		var eqs []string
		for j, col := range schema {
			eqs = append(eqs, fmt.Sprintf("%s = $%d", col.Name, n))
			args = append(args, idx.Rows[i][j])
			n++
		}
		clauses = append(clauses, "("+strings.Join(eqs, " AND ")+")")
	}
	return strings.Join(clauses, " OR "), args
}
