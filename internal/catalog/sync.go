package catalog

import (
	"context"
	"fmt"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
)

// SyncExternal reconciles dt against an authoritative external source: it
// streams the source's pseudo-meta (pk columns + update_ts) in chunks,
// reads each chunk's actual rows back from the source, and stores them via
// StoreChunk so new and changed rows land in both the data and meta tables.
// Once every chunk has been consumed, any PK whose row-meta process_ts
// didn't advance during this pass is tombstoned: its absence from the
// source's own pseudo-meta means it no longer exists upstream, since an
// ExternalTableStore owns no sidecar meta table of its own to diff against.
func (dt *DataTable) SyncExternal(ctx context.Context, ext store.ExternalTableStore, chunkSize int, now float64) error {
	chunks, errCh := ext.ReadRowsMetaPseudoDF(ctx, chunkSize)

	for metaChunk := range chunks {
		if metaChunk.Len() == 0 {
			continue
		}
		idx := frame.New(dt.PKColumns, len(dt.PKColumns))
		for i := 0; i < metaChunk.Len(); i++ {
			idx.Rows = append(idx.Rows, append([]any{}, metaChunk.Rows[i][:len(dt.PKColumns)]...))
		}

		dataChunk, err := ext.ReadRows(ctx, idx)
		if err != nil {
			return fmt.Errorf("catalog: %s: sync read: %w", dt.Name, err)
		}
		if _, err := dt.StoreChunk(ctx, dataChunk, nil, now); err != nil {
			return fmt.Errorf("catalog: %s: sync store: %w", dt.Name, err)
		}
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("catalog: %s: sync stream: %w", dt.Name, err)
	}

	stale, err := dt.Meta.GetStaleIdx(ctx, now)
	if err != nil {
		return fmt.Errorf("catalog: %s: sync stale idx: %w", dt.Name, err)
	}
	if err := dt.Meta.MarkRowsDeleted(ctx, stale, now); err != nil {
		return fmt.Errorf("catalog: %s: sync tombstone: %w", dt.Name, err)
	}
	return nil
}
