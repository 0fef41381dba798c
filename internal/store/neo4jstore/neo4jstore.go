// Package neo4jstore implements store.TableStore over a Neo4j database,
// representing each row as a node labeled with the table name and keyed by
// its PK properties, grounded on a read-only Neo4j client wiring pattern.
package neo4jstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/retry"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Store is a Neo4j-backed TableStore. Rows are nodes labeled Label, with
// Schema's columns stored as properties forming a uniqueness constraint the
// caller is expected to have created.
type Store struct {
	Driver   neo4j.DriverWithContext
	Database string
	Label    string
	Schema   []store.Column
	Columns  []string
	readOnly bool
}

func New(driver neo4j.DriverWithContext, database, label string, schema []store.Column, columns []string, readOnly bool) *Store {
	return &Store{Driver: driver, Database: database, Label: label, Schema: schema, Columns: columns, readOnly: readOnly}
}

func (s *Store) PrimarySchema() []store.Column { return s.Schema }
func (s *Store) ReadOnly() bool                { return s.readOnly }

func (s *Store) session(accessMode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.Driver.NewSession(context.Background(), neo4j.SessionConfig{
		DatabaseName: s.Database,
		AccessMode:   accessMode,
	})
}

func (s *Store) pkProps(pk []any) map[string]any {
	props := make(map[string]any, len(pk))
	for i, col := range s.Schema {
		props[col.Name] = pk[i]
	}
	return props
}

// ReadRows returns nodes matching idx's PK tuples, or every node with Label
// when idx is nil.
func (s *Store) ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	session := s.session(neo4j.AccessModeRead)
	defer session.Close(ctx)

	out := frame.New(s.Columns, len(s.Schema))

	readOne := func(where string, params map[string]any) error {
		query := fmt.Sprintf("MATCH (n:%s) %s RETURN n", s.Label, where)
		var records []*neo4j.Record
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			result, err := session.Run(ctx, query, params)
			if err != nil {
				return err
			}
			records, err = result.Collect(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("neo4jstore: query: %w", err)
		}
		for _, rec := range records {
			nodeVal, ok := rec.Get("n")
			if !ok {
				continue
			}
			node, ok := nodeVal.(neo4j.Node)
			if !ok {
				continue
			}
			row := make([]any, len(s.Columns))
			for i, col := range s.Columns {
				row[i] = node.Props[col]
			}
			out.Rows = append(out.Rows, row)
		}
		return nil
	}

	if idx == nil {
		if err := readOne("", nil); err != nil {
			return nil, err
		}
		return out, nil
	}

	for i := 0; i < idx.Len(); i++ {
		pk := idx.Rows[i]
		where, params := matchClause(s.Schema, pk)
		if err := readOne(where, params); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func matchClause(schema []store.Column, pk []any) (string, map[string]any) {
	clauses := make([]string, len(schema))
	params := make(map[string]any, len(schema))
	for i, col := range schema {
		clauses[i] = fmt.Sprintf("n.%s = $%s", col.Name, col.Name)
		params[col.Name] = pk[i]
	}
	return "WHERE " + strings.Join(clauses, " AND "), params
}

// upsert writes rows via MERGE on the PK properties, setting payload
// properties with SET.
func (s *Store) upsert(ctx context.Context, df *frame.Frame) error {
	session := s.session(neo4j.AccessModeWrite)
	defer session.Close(ctx)

	pkProps := make([]string, len(s.Schema))
	for i, col := range s.Schema {
		pkProps[i] = fmt.Sprintf("%s: $%s", col.Name, col.Name)
	}
	payloadCols := s.Columns[len(s.Schema):]

	for _, row := range df.Rows {
		params := map[string]any{}
		for i, col := range s.Schema {
			params[col.Name] = row[i]
		}

		sets := make([]string, 0, len(payloadCols))
		for i, col := range payloadCols {
			params[col] = row[len(s.Schema)+i]
			sets = append(sets, fmt.Sprintf("n.%s = $%s", col, col))
		}

		query := fmt.Sprintf("MERGE (n:%s {%s})", s.Label, strings.Join(pkProps, ", "))
		if len(sets) > 0 {
			query += " SET " + strings.Join(sets, ", ")
		}

		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			_, err := session.Run(ctx, query, params)
			return err
		})
		if err != nil {
			return fmt.Errorf("neo4jstore: upsert: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertRows(ctx context.Context, df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	return s.upsert(ctx, df)
}

func (s *Store) UpdateRows(ctx context.Context, df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	return s.upsert(ctx, df)
}

func (s *Store) DeleteRows(ctx context.Context, idx *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	session := s.session(neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for i := 0; i < idx.Len(); i++ {
		where, params := matchClause(s.Schema, idx.Rows[i])
		query := fmt.Sprintf("MATCH (n:%s) %s DETACH DELETE n", s.Label, where)
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			_, err := session.Run(ctx, query, params)
			return err
		})
		if err != nil {
			return fmt.Errorf("neo4jstore: delete: %w", err)
		}
	}
	return nil
}
