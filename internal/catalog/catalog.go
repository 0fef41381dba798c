// Package catalog is the process-wide mapping from table name to a
// physical store plus its lazily-paired row-meta table.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/metastore"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Table is a catalog entry before it has been wrapped into a DataTable.
type Table struct {
	Store store.TableStore
}

// DataTable pairs a data store with its row-meta sidecar.
type DataTable struct {
	Name      string
	PKColumns []string
	Data      store.TableStore
	Meta      *metastore.RowMetaTable
}

// Catalog is the process-wide table registry.
type Catalog struct {
	tables map[string]Table
	data   map[string]*DataTable
}

// New builds a Catalog from a name→Table mapping.
func New(tables map[string]Table) *Catalog {
	return &Catalog{tables: tables, data: map[string]*DataTable{}}
}

// Add registers a table after construction.
func (c *Catalog) Add(name string, t Table) { c.tables[name] = t }

// Remove unregisters a table.
func (c *Catalog) Remove(name string) { delete(c.tables, name); delete(c.data, name) }

// GetDataTable lazily builds (and memoizes) the DataTable wrapper for name,
// constructing its row-meta table over a meta store the caller provides via
// metaFor, since meta tables are themselves backend-specific (they live
// alongside the data they describe).
func (c *Catalog) GetDataTable(name string, metaFor func(pkColumns []string) store.TableStore) (*DataTable, error) {
	if dt, ok := c.data[name]; ok {
		return dt, nil
	}
	tbl, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("catalog: no such table %q", name)
	}
	pkCols := make([]string, len(tbl.Store.PrimarySchema()))
	for i, c := range tbl.Store.PrimarySchema() {
		pkCols[i] = c.Name
	}
	meta := metastore.NewRowMetaTable(pkCols, metaFor(pkCols))
	dt := &DataTable{Name: name, PKColumns: pkCols, Data: tbl.Store, Meta: meta}
	c.data[name] = dt
	return dt, nil
}

// StoreChunk diffs dataChunk against existing row-meta, writes only the
// rows that are new or changed, persists meta, and — when processedIdx is
// given — tombstones any PK that was live in processedIdx but absent from
// dataChunk, propagating deletions downstream of a shrinking transform.
func (dt *DataTable) StoreChunk(ctx context.Context, dataChunk *frame.Frame, processedIdx *frame.Frame, now float64) ([][]any, error) {
	opID := uuid.New() // correlates this write batch across data/meta stores in logs and error messages

	plan, err := dt.Meta.GetChangesForStoreChunk(ctx, dataChunk, now)
	if err != nil {
		return nil, err
	}

	if plan.NewData.Len() > 0 {
		if err := dt.Data.InsertRows(ctx, plan.NewData); err != nil {
			return nil, fmt.Errorf("catalog: %s: insert (op %s): %w", dt.Name, opID, err)
		}
	}
	if plan.ChangedData.Len() > 0 {
		if err := dt.Data.UpdateRows(ctx, plan.ChangedData); err != nil {
			return nil, fmt.Errorf("catalog: %s: update (op %s): %w", dt.Name, opID, err)
		}
	}
	if err := dt.Meta.InsertMetaForStoreChunk(ctx, plan.MetaInsert); err != nil {
		return nil, err
	}
	if err := dt.Meta.UpdateMetaForStoreChunk(ctx, plan.MetaUpdate); err != nil {
		return nil, err
	}

	changed := append([][]any{}, plan.ChangedPKs...)

	if processedIdx != nil && processedIdx.Len() > 0 {
		live, err := dt.Meta.GetExistingIdx(ctx, processedIdx)
		if err != nil {
			return nil, err
		}
		inChunk := map[string]bool{}
		for i := 0; i < dataChunk.Len(); i++ {
			inChunk[dataChunk.PKKey(i)] = true
		}
		toTombstone := frame.New(dt.PKColumns, len(dt.PKColumns))
		for i := 0; i < live.Len(); i++ {
			if !inChunk[live.PKKey(i)] {
				toTombstone.Rows = append(toTombstone.Rows, live.Rows[i])
			}
		}
		if toTombstone.Len() > 0 {
			if err := dt.Data.DeleteRows(ctx, toTombstone); err != nil {
				return nil, err
			}
			if err := dt.Meta.MarkRowsDeleted(ctx, toTombstone, now); err != nil {
				return nil, err
			}
			changed = append(changed, toTombstone.Rows...)
		}
	}

	return changed, nil
}

// DeleteByIdx removes rows outright (used by the executor's delete-batch
// path when every input for a batch came back empty).
func (dt *DataTable) DeleteByIdx(ctx context.Context, idx *frame.Frame, now float64) error {
	if idx.Len() == 0 {
		return nil
	}
	if err := dt.Data.DeleteRows(ctx, idx); err != nil {
		return err
	}
	return dt.Meta.MarkRowsDeleted(ctx, idx, now)
}
