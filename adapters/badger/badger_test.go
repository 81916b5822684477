package badger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/acartia/core"
)

func openInMemory(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestStorage_Token(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	_, err := s.GetToken(ctx)
	assert.ErrorIs(t, err, core.ErrTokenNotFound)

	require.NoError(t, s.SetToken(ctx, "tok-1"))
	require.NoError(t, s.SetToken(ctx, "tok-2"))
	got, err := s.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got)

	require.NoError(t, s.ClearToken(ctx))
	require.NoError(t, s.ClearToken(ctx))
	_, err = s.GetToken(ctx)
	assert.ErrorIs(t, err, core.ErrTokenNotFound)
}

func TestStorage_Entries(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	entries := []*core.Entry{
		{Hash: "aa", Log: "/acartia/r/a", Op: core.OpPut, Key: "k1", Value: json.RawMessage(`{"n":1}`), Clock: core.Clock{ID: "p", Time: 1}, Next: []string{}},
		{Hash: "bb", Log: "/acartia/r/a", Op: core.OpDel, Key: "k1", Clock: core.Clock{ID: "p", Time: 2}, Next: []string{"aa"}},
	}

	require.NoError(t, s.PutEntries(ctx, "/acartia/r/a", entries))
	require.NoError(t, s.PutEntries(ctx, "/acartia/r/a", entries[:1]))
	require.NoError(t, s.PutEntries(ctx, "/acartia/r/ab", []*core.Entry{{Hash: "cc", Key: "other", Next: []string{}}}))

	got, err := s.LoadEntries(ctx, "/acartia/r/a")
	require.NoError(t, err)
	assert.Equal(t, entries, got, "prefix must not leak into /acartia/r/ab")

	none, err := s.LoadEntries(ctx, "/acartia/r/missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStorage_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.SetToken(ctx, "tok"))
	require.NoError(t, s.PutEntries(ctx, "/acartia/r/a", []*core.Entry{{Hash: "aa", Key: "k", Next: []string{}}}))
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	token, err := reopened.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	got, err := reopened.LoadEntries(ctx, "/acartia/r/a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
