package metastore

import (
	"context"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Transform-meta columns, after the transform-key columns.
const (
	colProcessTSTransform = "process_ts"
	colIsSuccess          = "is_success"
	colError              = "error"
	colPriority           = "priority"
)

// TransformMetaTable is the sidecar table for one step, keyed by the
// step's transform keys.
type TransformMetaTable struct {
	TransformKeys []string
	meta          store.TableStore
}

// TransformMetaColumns returns the full schema: transform keys followed by
// process_ts/is_success/error/priority.
func TransformMetaColumns(transformKeys []string) []string {
	return append(append([]string{}, transformKeys...), colProcessTSTransform, colIsSuccess, colError, colPriority)
}

func NewTransformMetaTable(transformKeys []string, meta store.TableStore) *TransformMetaTable {
	return &TransformMetaTable{TransformKeys: transformKeys, meta: meta}
}

func (t *TransformMetaTable) colIndex(name string) int {
	for i, c := range TransformMetaColumns(t.TransformKeys) {
		if c == name {
			return i
		}
	}
	return -1
}

// Row is one transform-meta record, already decoded from a frame row.
type Row struct {
	Keys      []any
	ProcessTS float64
	IsSuccess bool
	Error     *string
	Priority  *int
}

// Get reads the transform-meta rows for the given key tuples, returned as a
// map keyed by frame.KeyString(keys).
func (t *TransformMetaTable) Get(ctx context.Context, keys [][]any) (map[string]Row, error) {
	if len(keys) == 0 {
		return map[string]Row{}, nil
	}
	idx := frame.New(t.TransformKeys, len(t.TransformKeys))
	idx.Rows = keys
	rows, err := t.meta.ReadRows(ctx, idx)
	if err != nil {
		return nil, err
	}
	return t.decode(rows), nil
}

// All returns every transform-meta row, for lint/status surfaces and the
// planner's full-table scan path.
func (t *TransformMetaTable) All(ctx context.Context) (map[string]Row, error) {
	rows, err := t.meta.ReadRows(ctx, nil)
	if err != nil {
		return nil, err
	}
	return t.decode(rows), nil
}

func (t *TransformMetaTable) decode(rows *frame.Frame) map[string]Row {
	n := len(t.TransformKeys)
	pIdx := t.colIndex(colProcessTSTransform)
	sIdx := t.colIndex(colIsSuccess)
	eIdx := t.colIndex(colError)
	prIdx := t.colIndex(colPriority)

	out := map[string]Row{}
	for i := 0; i < rows.Len(); i++ {
		row := rows.Rows[i]
		r := Row{
			Keys:      append([]any{}, row[:n]...),
			ProcessTS: row[pIdx].(float64),
			IsSuccess: row[sIdx].(bool),
		}
		if row[eIdx] != nil {
			s := row[eIdx].(string)
			r.Error = &s
		}
		if row[prIdx] != nil {
			p := row[prIdx].(int)
			r.Priority = &p
		}
		out[frame.KeyString(r.Keys)] = r
	}
	return out
}

func (t *TransformMetaTable) upsert(ctx context.Context, idx *frame.Frame, processTS float64, success bool, errMsg *string) error {
	if idx.Len() == 0 {
		return nil
	}
	cols := TransformMetaColumns(t.TransformKeys)
	f := frame.New(cols, len(t.TransformKeys))
	for i := 0; i < idx.Len(); i++ {
		row := append([]any{}, idx.Rows[i]...)
		var errAny any
		if errMsg != nil {
			errAny = *errMsg
		}
		row = append(row, processTS, success, errAny, nil)
		f.Rows = append(f.Rows, row)
	}
	return t.meta.UpdateRows(ctx, f)
}

// MarkRowsProcessedSuccess upserts rows with is_success=true, error=nil.
func (t *TransformMetaTable) MarkRowsProcessedSuccess(ctx context.Context, idx *frame.Frame, processTS float64) error {
	return t.upsert(ctx, idx, processTS, true, nil)
}

// MarkRowsProcessedError upserts rows with is_success=false and an error message.
func (t *TransformMetaTable) MarkRowsProcessedError(ctx context.Context, idx *frame.Frame, processTS float64, errMsg string) error {
	return t.upsert(ctx, idx, processTS, false, &errMsg)
}

// MarkAllRowsUnprocessed deletes every transform-meta row, forcing a full rerun.
func (t *TransformMetaTable) MarkAllRowsUnprocessed(ctx context.Context) error {
	rows, err := t.meta.ReadRows(ctx, nil)
	if err != nil {
		return err
	}
	if rows.Len() == 0 {
		return nil
	}
	idx := frame.New(t.TransformKeys, len(t.TransformKeys))
	for i := 0; i < rows.Len(); i++ {
		idx.Rows = append(idx.Rows, rows.Rows[i][:len(t.TransformKeys)])
	}
	return t.meta.DeleteRows(ctx, idx)
}

// InsertRows pre-populates transform-meta rows with zero-valued status, used
// by fill_metadata-style bootstrap.
func (t *TransformMetaTable) InsertRows(ctx context.Context, idx *frame.Frame) error {
	if idx.Len() == 0 {
		return nil
	}
	cols := TransformMetaColumns(t.TransformKeys)
	f := frame.New(cols, len(t.TransformKeys))
	for i := 0; i < idx.Len(); i++ {
		row := append([]any{}, idx.Rows[i]...)
		row = append(row, 0.0, false, nil, nil)
		f.Rows = append(f.Rows, row)
	}
	return t.meta.InsertRows(ctx, f)
}

// GetMetadataSize returns the total number of transform-meta rows.
func (t *TransformMetaTable) GetMetadataSize(ctx context.Context) (int, error) {
	rows, err := t.meta.ReadRows(ctx, nil)
	if err != nil {
		return 0, err
	}
	return rows.Len(), nil
}
