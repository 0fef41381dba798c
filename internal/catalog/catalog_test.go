package catalog

import (
	"context"
	"testing"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/metastore"
	"github.com/malbeclabs/pipelake/internal/store"
	"github.com/malbeclabs/pipelake/internal/store/memstore"
)

func newDataTable(t *testing.T) *DataTable {
	t.Helper()
	schema := []store.Column{{Name: "id", Type: store.ColumnText}}
	data := memstore.New(schema, []string{"id", "text"}, false)
	meta := memstore.New(schema, metastore.MetaColumns([]string{"id"}), false)
	return &DataTable{
		Name:      "dst",
		PKColumns: []string{"id"},
		Data:      data,
		Meta:      metastore.NewRowMetaTable([]string{"id"}, meta),
	}
}

func frameOf(rows ...[]any) *frame.Frame {
	f := frame.New([]string{"id", "text"}, 1)
	f.Rows = rows
	return f
}

func idxOf(rows ...[]any) *frame.Frame {
	f := frame.New([]string{"id"}, 1)
	f.Rows = rows
	return f
}

func TestStoreChunkWritesNewRows(t *testing.T) {
	dt := newDataTable(t)
	ctx := context.Background()

	changed, err := dt.StoreChunk(ctx, frameOf([]any{"0", "A"}, []any{"1", "B"}), nil, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 2 {
		t.Fatalf("expected 2 changed pks, got %d", len(changed))
	}

	stored, err := dt.Data.ReadRows(ctx, idxOf([]any{"0"}))
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != 1 {
		t.Fatalf("expected row 0 to be stored")
	}
}

func TestStoreChunkTombstonesShrunkProcessedIdx(t *testing.T) {
	dt := newDataTable(t)
	ctx := context.Background()

	processedIdx := idxOf([]any{"0"}, []any{"1"})
	_, err := dt.StoreChunk(ctx, frameOf([]any{"0", "A"}, []any{"1", "B"}), processedIdx, 100)
	if err != nil {
		t.Fatal(err)
	}

	// Second batch only re-emits "0": "1" should be tombstoned.
	changed, err := dt.StoreChunk(ctx, frameOf([]any{"0", "A"}), processedIdx, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 {
		t.Fatalf("expected exactly the tombstoned pk in the change set, got %d", len(changed))
	}

	stored, err := dt.Data.ReadRows(ctx, idxOf([]any{"1"}))
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != 0 {
		t.Fatalf("row 1 should have been deleted from the data store")
	}

	existing, err := dt.Meta.GetExistingIdx(ctx, idxOf([]any{"1"}))
	if err != nil {
		t.Fatal(err)
	}
	if existing.Len() != 0 {
		t.Fatalf("row 1 should be tombstoned in meta")
	}
}
