// Package metastore implements the per-table Row Meta Table and the
// per-step Transform Meta Table: the two sidecar structures that make
// incremental execution possible.
package metastore

import (
	"context"
	"fmt"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Row-meta columns, after the PK columns.
const (
	colHash      = "hash"
	colCreateTS  = "create_ts"
	colUpdateTS  = "update_ts"
	colProcessTS = "process_ts"
	colDeleteTS  = "delete_ts"
)

// RowMetaTable is the sidecar metadata table for one data table: one row
// per PK tuple, carrying a content hash and the four lifecycle timestamps.
type RowMetaTable struct {
	PKColumns []string
	meta      store.TableStore
}

// MetaColumns returns the full column list of the underlying meta store:
// PK columns followed by hash/create_ts/update_ts/process_ts/delete_ts.
func MetaColumns(pkColumns []string) []string {
	return append(append([]string{}, pkColumns...), colHash, colCreateTS, colUpdateTS, colProcessTS, colDeleteTS)
}

// NewRowMetaTable wraps a store.TableStore already created with
// MetaColumns(pkColumns) as its schema.
func NewRowMetaTable(pkColumns []string, meta store.TableStore) *RowMetaTable {
	return &RowMetaTable{PKColumns: pkColumns, meta: meta}
}

func (t *RowMetaTable) metaRowIndex(name string) int {
	for i, c := range MetaColumns(t.PKColumns) {
		if c == name {
			return i
		}
	}
	return -1
}

func idxFrameFor(pkColumns []string, pks [][]any) *frame.Frame {
	f := frame.New(pkColumns, len(pkColumns))
	f.Rows = pks
	return f
}

type existingRow struct {
	hash      uint64
	createTS  float64
	updateTS  float64
	processTS float64
	deleteTS  *float64
}

func (t *RowMetaTable) readExisting(ctx context.Context, pks [][]any) (map[string]existingRow, error) {
	if len(pks) == 0 {
		return map[string]existingRow{}, nil
	}
	rows, err := t.meta.ReadRows(ctx, idxFrameFor(t.PKColumns, pks))
	if err != nil {
		return nil, err
	}
	hIdx := t.metaRowIndex(colHash)
	cIdx := t.metaRowIndex(colCreateTS)
	uIdx := t.metaRowIndex(colUpdateTS)
	pIdx := t.metaRowIndex(colProcessTS)
	dIdx := t.metaRowIndex(colDeleteTS)

	out := map[string]existingRow{}
	for i := 0; i < rows.Len(); i++ {
		row := rows.Rows[i]
		key := frame.KeyString(row[:len(t.PKColumns)])
		er := existingRow{
			hash:      row[hIdx].(uint64),
			createTS:  row[cIdx].(float64),
			updateTS:  row[uIdx].(float64),
			processTS: row[pIdx].(float64),
		}
		if row[dIdx] != nil {
			v := row[dIdx].(float64)
			er.deleteTS = &v
		}
		out[key] = er
	}
	return out, nil
}

// StoreChunkPlan is the output of GetChangesForStoreChunk: which data rows
// need writing and which meta rows need inserting/updating.
type StoreChunkPlan struct {
	NewData     *frame.Frame // brand-new rows, same columns as the input chunk
	ChangedData *frame.Frame // existing rows whose hash changed (or were resurrected)
	MetaInsert  *frame.Frame // meta rows for NewData
	MetaUpdate  *frame.Frame // meta rows for ChangedData plus untouched common rows
	ChangedPKs  [][]any      // NewData ∪ ChangedData PKs, for the Change List
}

// GetChangesForStoreChunk classifies every row of dataChunk as new,
// changed, or unchanged relative to existing
// meta, and returns exactly the rows/meta that need to be written.
func (t *RowMetaTable) GetChangesForStoreChunk(ctx context.Context, dataChunk *frame.Frame, now float64) (*StoreChunkPlan, error) {
	if dataChunk.PKColumns != len(t.PKColumns) {
		return nil, fmt.Errorf("metastore: chunk has %d pk columns, table has %d", dataChunk.PKColumns, len(t.PKColumns))
	}

	pks := make([][]any, dataChunk.Len())
	for i := 0; i < dataChunk.Len(); i++ {
		pks[i] = dataChunk.PK(i)
	}
	existing, err := t.readExisting(ctx, pks)
	if err != nil {
		return nil, err
	}

	metaCols := MetaColumns(t.PKColumns)
	plan := &StoreChunkPlan{
		NewData:     frame.New(dataChunk.Columns, dataChunk.PKColumns),
		ChangedData: frame.New(dataChunk.Columns, dataChunk.PKColumns),
		MetaInsert:  frame.New(metaCols, len(t.PKColumns)),
		MetaUpdate:  frame.New(metaCols, len(t.PKColumns)),
	}

	for i := 0; i < dataChunk.Len(); i++ {
		row := dataChunk.Rows[i]
		pk := pks[i]
		key := frame.KeyString(pk)
		newHash := dataChunk.RowHash(i)

		ex, known := existing[key]
		resurrected := known && ex.deleteTS != nil

		switch {
		case !known:
			plan.NewData.Rows = append(plan.NewData.Rows, row)
			plan.MetaInsert.Rows = append(plan.MetaInsert.Rows, metaRow(pk, newHash, now, now, now, nil))
			plan.ChangedPKs = append(plan.ChangedPKs, pk)

		case resurrected || ex.hash != newHash:
			createTS := now
			if known && !resurrected {
				createTS = ex.createTS
			} else if resurrected {
				createTS = now // resurrection gets a fresh lifecycle
			}
			plan.ChangedData.Rows = append(plan.ChangedData.Rows, row)
			plan.MetaUpdate.Rows = append(plan.MetaUpdate.Rows, metaRow(pk, newHash, createTS, now, now, nil))
			plan.ChangedPKs = append(plan.ChangedPKs, pk)

		default:
			// Unchanged: hash stable, update_ts does not move, only
			// process_ts advances.
			plan.MetaUpdate.Rows = append(plan.MetaUpdate.Rows, metaRow(pk, ex.hash, ex.createTS, ex.updateTS, now, nil))
		}
	}

	return plan, nil
}

func metaRow(pk []any, hash uint64, createTS, updateTS, processTS float64, deleteTS *float64) []any {
	row := append([]any{}, pk...)
	var del any
	if deleteTS != nil {
		del = *deleteTS
	}
	return append(row, hash, createTS, updateTS, processTS, del)
}

// InsertMetaForStoreChunk persists brand-new meta rows.
func (t *RowMetaTable) InsertMetaForStoreChunk(ctx context.Context, metaRows *frame.Frame) error {
	if metaRows.Len() == 0 {
		return nil
	}
	return t.meta.InsertRows(ctx, metaRows)
}

// UpdateMetaForStoreChunk persists meta rows for existing PKs.
func (t *RowMetaTable) UpdateMetaForStoreChunk(ctx context.Context, metaRows *frame.Frame) error {
	if metaRows.Len() == 0 {
		return nil
	}
	return t.meta.UpdateRows(ctx, metaRows)
}

// MarkRowsDeleted tombstones the given PKs: delete_ts is set, and update_ts
// is advanced to now as well, since disappearance is itself a change event
// that the planner's staleness predicate needs to observe (see DESIGN.md).
func (t *RowMetaTable) MarkRowsDeleted(ctx context.Context, idx *frame.Frame, now float64) error {
	if idx.Len() == 0 {
		return nil
	}
	pks := make([][]any, idx.Len())
	for i := 0; i < idx.Len(); i++ {
		pks[i] = idx.Rows[i]
	}
	existing, err := t.readExisting(ctx, pks)
	if err != nil {
		return err
	}

	metaCols := MetaColumns(t.PKColumns)
	upd := frame.New(metaCols, len(t.PKColumns))
	for i, pk := range pks {
		key := frame.KeyString(pk)
		ex, ok := existing[key]
		if !ok || ex.deleteTS != nil {
			continue // already gone or never existed: nothing to tombstone
		}
		upd.Rows = append(upd.Rows, metaRow(pk, ex.hash, ex.createTS, now, now, &now))
		_ = i
	}
	if upd.Len() == 0 {
		return nil
	}
	return t.meta.UpdateRows(ctx, upd)
}

// GetExistingIdx returns the subset of idx that is present and live
// (delete_ts IS NULL).
func (t *RowMetaTable) GetExistingIdx(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	pks := make([][]any, idx.Len())
	for i := 0; i < idx.Len(); i++ {
		pks[i] = idx.Rows[i]
	}
	existing, err := t.readExisting(ctx, pks)
	if err != nil {
		return nil, err
	}
	out := frame.New(t.PKColumns, len(t.PKColumns))
	for _, pk := range pks {
		if ex, ok := existing[frame.KeyString(pk)]; ok && ex.deleteTS == nil {
			out.Rows = append(out.Rows, pk)
		}
	}
	return out, nil
}

// GetStaleIdx returns PKs whose process_ts < now — rows not touched by the
// current external sync pass, used for external-table reconciliation.
func (t *RowMetaTable) GetStaleIdx(ctx context.Context, now float64) (*frame.Frame, error) {
	all, err := t.meta.ReadRows(ctx, nil)
	if err != nil {
		return nil, err
	}
	pIdx := t.metaRowIndex(colProcessTS)
	out := frame.New(t.PKColumns, len(t.PKColumns))
	for i := 0; i < all.Len(); i++ {
		row := all.Rows[i]
		if row[pIdx].(float64) < now {
			out.Rows = append(out.Rows, append([]any{}, row[:len(t.PKColumns)]...))
		}
	}
	return out, nil
}

// AllMeta returns every row-meta row currently stored, for the planner's
// per-input aggregation.
func (t *RowMetaTable) AllMeta(ctx context.Context) (*frame.Frame, error) {
	return t.meta.ReadRows(ctx, nil)
}

// UpdateTSColumn and ProcessTSColumn expose the meta schema's column
// positions so the planner can read raw meta frames without re-deriving
// indices itself.
func (t *RowMetaTable) UpdateTSColumn() int  { return t.metaRowIndex(colUpdateTS) }
func (t *RowMetaTable) DeleteTSColumn() int  { return t.metaRowIndex(colDeleteTS) }
func (t *RowMetaTable) ProcessTSColumn() int { return t.metaRowIndex(colProcessTS) }
