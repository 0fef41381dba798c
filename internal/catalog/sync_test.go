package catalog

import (
	"context"
	"testing"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
)

// fakeExternalStore turns any store.TableStore into a store.ExternalTableStore
// by deriving pseudo row-meta (pk + update_ts) from whatever currently reads
// back from it, the same shape fluxstore.ReadRowsMetaPseudoDF produces from
// InfluxDB's own per-series recency.
type fakeExternalStore struct {
	store.TableStore
	pkColumns []string
	updateTS  map[string]float64
}

func (f *fakeExternalStore) ReadRowsMetaPseudoDF(ctx context.Context, chunkSize int) (<-chan *frame.Frame, <-chan error) {
	out := make(chan *frame.Frame)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		all, err := f.TableStore.ReadRows(ctx, nil)
		if err != nil {
			errCh <- err
			return
		}

		cols := append(append([]string{}, f.pkColumns...), "update_ts")
		chunk := frame.New(cols, len(f.pkColumns))
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
			chunk = frame.New(cols, len(f.pkColumns))
			return true
		}

		for i := 0; i < all.Len(); i++ {
			pk := all.Rows[i][:len(f.pkColumns)]
			ts := f.updateTS[frame.KeyString(pk)]
			chunk.Rows = append(chunk.Rows, append(append([]any{}, pk...), ts))
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

func TestSyncExternalStoresNewRowsAndTombstonesDisappeared(t *testing.T) {
	dt := newDataTable(t)
	ctx := context.Background()
	ext := &fakeExternalStore{TableStore: dt.Data, pkColumns: dt.PKColumns, updateTS: map[string]float64{}}

	if err := dt.Data.InsertRows(ctx, frameOf([]any{"0", "A"}, []any{"1", "B"})); err != nil {
		t.Fatal(err)
	}
	if err := dt.SyncExternal(ctx, ext, 10, 100); err != nil {
		t.Fatal(err)
	}

	existing, err := dt.Meta.GetExistingIdx(ctx, idxOf([]any{"0"}, []any{"1"}))
	if err != nil {
		t.Fatal(err)
	}
	if existing.Len() != 2 {
		t.Fatalf("expected both rows live after first sync, got %d", existing.Len())
	}

	// "1" disappears upstream: remove it from the source the fake wraps,
	// then sync again at a later time.
	if err := dt.Data.DeleteRows(ctx, idxOf([]any{"1"})); err != nil {
		t.Fatal(err)
	}
	if err := dt.SyncExternal(ctx, ext, 10, 200); err != nil {
		t.Fatal(err)
	}

	existing, err = dt.Meta.GetExistingIdx(ctx, idxOf([]any{"0"}, []any{"1"}))
	if err != nil {
		t.Fatal(err)
	}
	if existing.Len() != 1 || existing.Rows[0][0] != "0" {
		t.Fatalf("expected only row 0 live after second sync, got %v", existing.Rows)
	}
}
