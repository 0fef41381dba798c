package chstore_test

import (
	"context"
	"testing"
	"time"

	chgo "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/store"
	"github.com/malbeclabs/pipelake/internal/store/chstore"
)

func newTestConn(t *testing.T) chstore.Connection {
	ctx := context.Background()
	container, err := tcch.Run(ctx, "clickhouse/clickhouse-server:latest",
		tcch.WithDatabase("test"),
		tcch.WithUsername("default"),
		tcch.WithPassword("password"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	conn, err := chgo.Open(&chgo.Options{
		Addr: []string{host + ":" + mappedPort.Port()},
		Auth: chgo.Auth{Database: "test", Username: "default", Password: "password"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.Ping(ctx))

	err = conn.Exec(ctx, `CREATE TABLE items (id String, value String) ENGINE = ReplacingMergeTree ORDER BY id`)
	require.NoError(t, err)

	return conn
}

func TestChstoreInsertAndRead(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	schema := []store.Column{{Name: "id", Type: store.ColumnText}}
	s := chstore.New(conn, "items", schema, []string{"id", "value"}, false)

	in := frame.New([]string{"id", "value"}, 1)
	in.Rows = [][]any{{"a", "one"}, {"b", "two"}}
	require.NoError(t, s.InsertRows(ctx, in))

	idx := frame.New([]string{"id"}, 1)
	idx.Rows = [][]any{{"a"}}
	got, err := s.ReadRows(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	require.Equal(t, "one", got.Rows[0][1])

	all, err := s.ReadRows(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 2, all.Len())
}

func TestChstoreReadOnlyRejectsWrites(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	schema := []store.Column{{Name: "id", Type: store.ColumnText}}
	s := chstore.New(conn, "items", schema, []string{"id", "value"}, true)

	in := frame.New([]string{"id", "value"}, 1)
	in.Rows = [][]any{{"a", "one"}}
	require.Error(t, s.InsertRows(ctx, in))
}
