package pgx

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/acartia/core"
)

func TestMigrations_Embedded(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	b, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), "-- +goose Up")
	assert.Contains(t, string(b), "replica_entries")
}

// newTestAdapter connects to ACARTIA_TEST_DATABASE_URL and skips without it
func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	url := os.Getenv("ACARTIA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ACARTIA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	a := New(pool)
	require.NoError(t, a.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE replica_entries, session_token`)
	require.NoError(t, err)
	return a
}

func TestAdapter_Token(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.GetToken(ctx)
	assert.ErrorIs(t, err, core.ErrTokenNotFound)

	require.NoError(t, a.SetToken(ctx, "one"))
	require.NoError(t, a.SetToken(ctx, "two"))
	got, err := a.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", got)

	require.NoError(t, a.ClearToken(ctx))
	_, err = a.GetToken(ctx)
	assert.ErrorIs(t, err, core.ErrTokenNotFound)
}

func TestAdapter_Entries(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	entries := []*core.Entry{
		{Hash: "bb", Log: "/acartia/r/a", Op: core.OpPut, Key: "k", Value: json.RawMessage(`{"n":2}`), Clock: core.Clock{ID: "p", Time: 2}, Next: []string{"aa"}},
		{Hash: "aa", Log: "/acartia/r/a", Op: core.OpPut, Key: "k", Value: json.RawMessage(`{"n":1}`), Clock: core.Clock{ID: "p", Time: 1}, Next: []string{}},
	}

	require.NoError(t, a.PutEntries(ctx, "/acartia/r/a", entries))
	require.NoError(t, a.PutEntries(ctx, "/acartia/r/a", entries))

	got, err := a.LoadEntries(ctx, "/acartia/r/a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "aa", got[0].Hash, "ordered by clock")
	assert.Equal(t, entries[0].Next, got[1].Next)
}
