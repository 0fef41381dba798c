package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
	"github.com/malbeclabs/pipelake/internal/store/pgstore"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `CREATE TABLE items (id text primary key, value text)`)
	require.NoError(t, err)

	return pool
}

func TestPgstoreInsertReadUpdateDelete(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	schema := []store.Column{{Name: "id", Type: store.ColumnText}}
	s := pgstore.New(pool, "items", schema, []string{"id", "value"}, false)

	in := frame.New([]string{"id", "value"}, 1)
	in.Rows = [][]any{{"a", "one"}}
	require.NoError(t, s.InsertRows(ctx, in))

	idx := frame.New([]string{"id"}, 1)
	idx.Rows = [][]any{{"a"}}
	got, err := s.ReadRows(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	require.Equal(t, "one", got.Rows[0][1])

	upd := frame.New([]string{"id", "value"}, 1)
	upd.Rows = [][]any{{"a", "two"}}
	require.NoError(t, s.UpdateRows(ctx, upd))

	got, err = s.ReadRows(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, "two", got.Rows[0][1])

	require.NoError(t, s.DeleteRows(ctx, idx))
	got, err = s.ReadRows(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, 0, got.Len())
}

func TestPgstoreReadOnlyRejectsWrites(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	schema := []store.Column{{Name: "id", Type: store.ColumnText}}
	s := pgstore.New(pool, "items", schema, []string{"id", "value"}, true)

	in := frame.New([]string{"id", "value"}, 1)
	in.Rows = [][]any{{"a", "one"}}
	require.Error(t, s.InsertRows(ctx, in))
}
