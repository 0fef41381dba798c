package filestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
	"github.com/malbeclabs/pipelake/internal/store/filestore"
)

func TestFilestoreWriteReadUpdateDelete(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "{region}", "{id}.json")

	schema := []store.Column{{Name: "region", Type: store.ColumnText}, {Name: "id", Type: store.ColumnText}}
	s, err := filestore.New(pattern, schema, []string{"region", "id", "value"}, nil)
	require.NoError(t, err)
	require.False(t, s.ReadOnly())

	ctx := context.Background()
	in := frame.New([]string{"region", "id", "value"}, 2)
	in.Rows = [][]any{{"us", "1", "one"}}
	require.NoError(t, s.InsertRows(ctx, in))

	idx := frame.New([]string{"region", "id"}, 2)
	idx.Rows = [][]any{{"us", "1"}}
	got, err := s.ReadRows(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	require.Equal(t, "one", got.Rows[0][2])

	upd := frame.New([]string{"region", "id", "value"}, 2)
	upd.Rows = [][]any{{"us", "1", "two"}}
	require.NoError(t, s.UpdateRows(ctx, upd))
	got, err = s.ReadRows(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, "two", got.Rows[0][2])

	require.NoError(t, s.DeleteRows(ctx, idx))
	got, err = s.ReadRows(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Len())
}

func TestFilestoreWildcardPatternIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "*", "{id}.json")

	schema := []store.Column{{Name: "id", Type: store.ColumnText}}
	s, err := filestore.New(pattern, schema, []string{"id", "value"}, nil)
	require.NoError(t, err)
	require.True(t, s.ReadOnly())

	ctx := context.Background()
	in := frame.New([]string{"id", "value"}, 1)
	in.Rows = [][]any{{"1", "one"}}
	require.Error(t, s.InsertRows(ctx, in))
}

func TestFilestoreRejectsPatternWithoutPlaceholders(t *testing.T) {
	_, err := filestore.New("/tmp/flat.json", nil, nil, nil)
	require.Error(t, err)
}
