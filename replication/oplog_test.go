package replication

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/acartia/core"
)

func appendPut(t *testing.T, l *Log, key, value string) *core.Entry {
	t.Helper()
	e, err := l.Append(core.OpPut, key, json.RawMessage(value))
	require.NoError(t, err)
	return e
}

func docValues(docs []core.Document) map[string]string {
	out := make(map[string]string, len(docs))
	for _, d := range docs {
		out[d.Key] = string(d.Value)
	}
	return out
}

func TestLog_Append(t *testing.T) {
	l := NewLog(testLog, "a")

	first := appendPut(t, l, "k1", `1`)
	second := appendPut(t, l, "k2", `2`)

	assert.Equal(t, uint64(1), first.Clock.Time)
	assert.Equal(t, uint64(2), second.Clock.Time)
	assert.Equal(t, []string{first.Hash}, second.Next)
	assert.Equal(t, []string{second.Hash}, l.Heads())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []*core.Entry{first, second}, l.Entries())
}

// Requirement: per key the latest write wins and deletes hide the key.
func TestLog_Documents(t *testing.T) {
	l := NewLog(testLog, "a")
	appendPut(t, l, "b", `"old"`)
	appendPut(t, l, "a", `"x"`)
	appendPut(t, l, "b", `"new"`)
	appendPut(t, l, "c", `"gone"`)
	_, err := l.Append(core.OpDel, "c", nil)
	require.NoError(t, err)

	docs := l.Documents()

	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Key)
	assert.Equal(t, map[string]string{"a": `"x"`, "b": `"new"`}, docValues(docs))
}

// Requirement: joining is commutative; both replicas converge on the same view.
func TestLog_Join_Converges(t *testing.T) {
	a := NewLog(testLog, "peer-a")
	b := NewLog(testLog, "peer-b")
	appendPut(t, a, "shared", `"from a"`)
	appendPut(t, a, "only-a", `1`)
	appendPut(t, b, "shared", `"from b"`)
	appendPut(t, b, "only-b", `2`)

	addedToA, err := a.Join(b.Entries())
	require.NoError(t, err)
	addedToB, err := b.Join(a.Entries())
	require.NoError(t, err)

	assert.Len(t, addedToA, 2)
	assert.Len(t, addedToB, 2)
	assert.Equal(t, a.Heads(), b.Heads())
	assert.Len(t, a.Heads(), 2, "concurrent branches keep two heads")
	assert.Equal(t, docValues(a.Documents()), docValues(b.Documents()))
	// equal clocks: the higher writer id wins
	assert.Equal(t, `"from b"`, docValues(a.Documents())["shared"])
}

func TestLog_Join_AdvancesClock(t *testing.T) {
	a := NewLog(testLog, "peer-a")
	b := NewLog(testLog, "peer-b")
	appendPut(t, b, "k", `1`)
	appendPut(t, b, "k", `2`)
	appendPut(t, b, "k", `3`)

	_, err := a.Join(b.Entries())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), a.Clock(), "join adopts the highest remote time")
	next := appendPut(t, a, "k", `"a wins"`)

	assert.Equal(t, uint64(4), next.Clock.Time)
	assert.Equal(t, uint64(4), a.Clock())
	assert.Equal(t, []string{next.Hash}, a.Heads(), "a local write merges all heads")
	assert.Equal(t, `"a wins"`, docValues(a.Documents())["k"])
}

func TestLog_Join_Idempotent(t *testing.T) {
	a := NewLog(testLog, "peer-a")
	b := NewLog(testLog, "peer-b")
	appendPut(t, b, "k", `1`)

	_, err := a.Join(b.Entries())
	require.NoError(t, err)
	again, err := a.Join(b.Entries())
	require.NoError(t, err)

	assert.Empty(t, again)
	assert.Equal(t, 1, a.Len())
}

// Requirement: a batch with one bad entry changes nothing.
func TestLog_Join_RejectsBatch(t *testing.T) {
	a := NewLog(testLog, "peer-a")
	b := NewLog(testLog, "peer-b")
	appendPut(t, b, "k1", `1`)
	bad := appendPut(t, b, "k2", `2`)
	tampered := *bad
	tampered.Value = json.RawMessage(`3`)

	_, err := a.Join([]*core.Entry{b.Entries()[0], &tampered})

	assert.ErrorIs(t, err, core.ErrHashMismatch)
	assert.Equal(t, 0, a.Len())
}

func TestLog_Join_WrongAddress(t *testing.T) {
	a := NewLog(testLog, "peer-a")
	other := NewLog("/acartia/other/sightings", "peer-b")
	appendPut(t, other, "k", `1`)

	_, err := a.Join(other.Entries())

	assert.ErrorIs(t, err, core.ErrInvalidAddress)
	assert.Equal(t, 0, a.Len())
}

// Heads stay correct when a child arrives before its parent.
func TestLog_Join_OutOfOrder(t *testing.T) {
	a := NewLog(testLog, "peer-a")
	b := NewLog(testLog, "peer-b")
	parent := appendPut(t, b, "k", `1`)
	child := appendPut(t, b, "k", `2`)

	_, err := a.Join([]*core.Entry{child})
	require.NoError(t, err)
	_, err = a.Join([]*core.Entry{parent})
	require.NoError(t, err)

	assert.Equal(t, []string{child.Hash}, a.Heads())
}
