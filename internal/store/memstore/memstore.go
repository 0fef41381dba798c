// Package memstore is an in-memory TableStore used by unit tests across the
// engine, in place of spinning up a real ClickHouse/Postgres container for
// every kernel test — the same role function-field fakes play across the
// rest of this codebase's tests.
package memstore

import (
	"context"
	"sync"

	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Store is a map-backed TableStore.
type Store struct {
	mu       sync.Mutex
	schema   []store.Column
	columns  []string
	readOnly bool
	rows     map[string][]any // pk key -> full row
}

// New creates an empty store. columns must list PK columns first, matching
// the length of schema.
func New(schema []store.Column, columns []string, readOnly bool) *Store {
	return &Store{
		schema:   schema,
		columns:  columns,
		readOnly: readOnly,
		rows:     map[string][]any{},
	}
}

func (s *Store) PrimarySchema() []store.Column { return s.schema }
func (s *Store) ReadOnly() bool                { return s.readOnly }

func (s *Store) ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := frame.New(s.columns, len(s.schema))
	if idx == nil {
		for _, row := range s.rows {
			out.Rows = append(out.Rows, append([]any(nil), row...))
		}
		return out, nil
	}
	for i := 0; i < idx.Len(); i++ {
		key := frame.KeyString(idx.Rows[i])
		if row, ok := s.rows[key]; ok {
			out.Rows = append(out.Rows, append([]any(nil), row...))
		}
	}
	return out, nil
}

func (s *Store) InsertRows(ctx context.Context, df *frame.Frame) error {
	return s.upsert(df)
}

func (s *Store) UpdateRows(ctx context.Context, df *frame.Frame) error {
	return s.upsert(df)
}

func (s *Store) upsert(df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < df.Len(); i++ {
		key := frame.KeyString(df.Rows[i][:len(s.schema)])
		s.rows[key] = append([]any(nil), df.Rows[i]...)
	}
	return nil
}

func (s *Store) DeleteRows(ctx context.Context, idx *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < idx.Len(); i++ {
		delete(s.rows, frame.KeyString(idx.Rows[i]))
	}
	return nil
}

// AllRows returns every row currently stored, for test assertions.
func (s *Store) AllRows() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := frame.New(s.columns, len(s.schema))
	for _, row := range s.rows {
		out.Rows = append(out.Rows, append([]any(nil), row...))
	}
	return out
}
