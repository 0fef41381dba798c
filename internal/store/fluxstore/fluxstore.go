// Package fluxstore implements a read-only store.ExternalTableStore over
// InfluxDB, treating each distinct series (measurement + tag set) as one
// row keyed by its tag columns, with the series' latest point supplying
// the payload fields and a synthetic update_ts: an authoritative upstream
// source the engine never writes back to.
package fluxstore

import (
	"context"
	"fmt"
	"strings"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/retry"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Store is an InfluxDB-backed, read-only ExternalTableStore. Measurement
// rows are queried from Bucket via SQL (influxdb3's query API).
type Store struct {
	Client      *influxdb3.Client
	Database    string
	Measurement string
	TagColumns  []string // PK columns
	FieldNames  []string // payload columns, e.g. value
}

func New(client *influxdb3.Client, database, measurement string, tagColumns, fieldNames []string) *Store {
	return &Store{Client: client, Database: database, Measurement: measurement, TagColumns: tagColumns, FieldNames: fieldNames}
}

func (s *Store) schema() []store.Column {
	cols := make([]store.Column, len(s.TagColumns))
	for i, c := range s.TagColumns {
		cols[i] = store.Column{Name: c, Type: store.ColumnText}
	}
	return cols
}

func (s *Store) columns() []string {
	return append(append([]string{}, s.TagColumns...), s.FieldNames...)
}

func (s *Store) PrimarySchema() []store.Column { return s.schema() }
func (s *Store) ReadOnly() bool                { return true }

func (s *Store) tagFilter(pk []any) string {
	clauses := make([]string, len(s.TagColumns))
	for i, col := range s.TagColumns {
		clauses[i] = fmt.Sprintf("%s = '%v'", col, pk[i])
	}
	return strings.Join(clauses, " AND ")
}

// ReadRows returns the latest point for each requested series, or for
// every series in the measurement when idx is nil.
func (s *Store) ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %q ORDER BY time DESC",
		strings.Join(append(append([]string{}, s.TagColumns...), s.FieldNames...), ", "),
		s.Measurement,
	)
	if idx != nil && idx.Len() > 0 {
		filters := make([]string, idx.Len())
		for i := 0; i < idx.Len(); i++ {
			filters[i] = "(" + s.tagFilter(idx.Rows[i]) + ")"
		}
		query = fmt.Sprintf(
			"SELECT %s FROM %q WHERE %s ORDER BY time DESC",
			strings.Join(append(append([]string{}, s.TagColumns...), s.FieldNames...), ", "),
			s.Measurement,
			strings.Join(filters, " OR "),
		)
	}

	var iter *influxdb3.QueryIterator
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		iter, err = s.Client.Query(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fluxstore: query: %w", err)
	}

	out := frame.New(s.columns(), len(s.TagColumns))
	seen := map[string]bool{}
	for iter.Next() {
		rec := iter.Value()
		row := make([]any, len(s.columns()))
		for i, col := range s.columns() {
			row[i] = rec[col]
		}
		key := frame.KeyString(row[:len(s.TagColumns)])
		if seen[key] {
			continue // keep only the first (latest, given ORDER BY time DESC) point per series
		}
		seen[key] = true
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func (s *Store) InsertRows(ctx context.Context, df *frame.Frame) error { return errs.ErrReadOnly }
func (s *Store) UpdateRows(ctx context.Context, df *frame.Frame) error { return errs.ErrReadOnly }
func (s *Store) DeleteRows(ctx context.Context, idx *frame.Frame) error {
	return errs.ErrReadOnly
}

// ReadRowsMetaPseudoDF streams a synthetic row-meta frame (tag columns +
// update_ts, using each series' latest point time in epoch seconds) in
// chunks of at most chunkSize rows, since InfluxDB has no sidecar meta
// table of its own.
func (s *Store) ReadRowsMetaPseudoDF(ctx context.Context, chunkSize int) (<-chan *frame.Frame, <-chan error) {
	out := make(chan *frame.Frame)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		query := fmt.Sprintf(
			"SELECT %s, time FROM %q ORDER BY time DESC",
			strings.Join(s.TagColumns, ", "),
			s.Measurement,
		)
		var iter *influxdb3.QueryIterator
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			var err error
			iter, err = s.Client.Query(ctx, query)
			return err
		})
		if err != nil {
			errCh <- fmt.Errorf("fluxstore: meta query: %w", err)
			return
		}

		cols := append(append([]string{}, s.TagColumns...), "update_ts")
		chunk := frame.New(cols, len(s.TagColumns))
		seen := map[string]bool{}

		flush := func() bool {
			if chunk.Len() == 0 {
				return true
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
			chunk = frame.New(cols, len(s.TagColumns))
			return true
		}

		for iter.Next() {
			rec := iter.Value()
			pk := make([]any, len(s.TagColumns))
			for i, col := range s.TagColumns {
				pk[i] = rec[col]
			}
			key := frame.KeyString(pk)
			if seen[key] {
				continue
			}
			seen[key] = true

			ts, _ := rec["time"].(int64)
			row := append(append([]any{}, pk...), float64(ts)/1e9)
			chunk.Rows = append(chunk.Rows, row)

			if chunk.Len() >= chunkSize {
				if !flush() {
					return
				}
			}
		}
		flush()
	}()

	return out, errCh
}
