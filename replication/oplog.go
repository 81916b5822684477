package replication

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/lborres/acartia/core"
)

// Log is the local replica of one collection: a grow-only set of entries
// plus the current heads (entries no other entry points back to).
type Log struct {
	mu         sync.RWMutex
	address    string
	writer     string
	entries    map[string]*core.Entry
	referenced map[string]struct{}
	heads      map[string]struct{}
	clock      uint64
}

func NewLog(address, writer string) *Log {
	return &Log{
		address:    address,
		writer:     writer,
		entries:    make(map[string]*core.Entry),
		referenced: make(map[string]struct{}),
		heads:      make(map[string]struct{}),
	}
}

// Append records a local write on top of the current heads
func (l *Log) Append(op core.Op, key string, value json.RawMessage) (*core.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	clock := core.Clock{ID: l.writer, Time: l.clock + 1}
	e, err := NewEntry(l.address, op, key, value, clock, l.headsLocked())
	if err != nil {
		return nil, err
	}
	l.addLocked(e)
	return e, nil
}

// Join merges entries from another replica and returns the ones that were
// new. Every entry is verified before anything is added, so a batch with
// one bad entry changes nothing.
func (l *Log) Join(entries []*core.Entry) ([]*core.Entry, error) {
	for _, e := range entries {
		if err := VerifyEntry(e); err != nil {
			return nil, err
		}
		if e.Log != l.address {
			return nil, fmt.Errorf("%w: entry %s belongs to %q", core.ErrInvalidAddress, e.Hash, e.Log)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var added []*core.Entry
	for _, e := range entries {
		if _, ok := l.entries[e.Hash]; ok {
			continue
		}
		l.addLocked(e)
		added = append(added, e)
	}
	return added, nil
}

func (l *Log) addLocked(e *core.Entry) {
	l.entries[e.Hash] = e
	for _, n := range e.Next {
		l.referenced[n] = struct{}{}
		delete(l.heads, n)
	}
	if _, ok := l.referenced[e.Hash]; !ok {
		l.heads[e.Hash] = struct{}{}
	}
	if e.Clock.Time > l.clock {
		l.clock = e.Clock.Time
	}
}

func (l *Log) headsLocked() []string {
	out := make([]string, 0, len(l.heads))
	for h := range l.heads {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Heads returns the sorted head hashes
func (l *Log) Heads() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headsLocked()
}

func (l *Log) Get(hash string) (*core.Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[hash]
	return e, ok
}

func (l *Log) Has(hash string) bool {
	_, ok := l.Get(hash)
	return ok
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clock is the highest Lamport time seen
func (l *Log) Clock() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.clock
}

// Entries returns every entry in causal order (clock, then hash)
func (l *Log) Entries() []*core.Entry {
	l.mu.RLock()
	out := make([]*core.Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, compareEntries)
	return out
}

// Documents is the merged view: for each key the winning entry, with
// deleted keys left out. Sorted by key.
func (l *Log) Documents() []core.Document {
	l.mu.RLock()
	winners := make(map[string]*core.Entry)
	for _, e := range l.entries {
		if cur, ok := winners[e.Key]; !ok || compareEntries(e, cur) > 0 {
			winners[e.Key] = e
		}
	}
	l.mu.RUnlock()

	docs := make([]core.Document, 0, len(winners))
	for _, e := range winners {
		if e.Op == core.OpDel {
			continue
		}
		docs = append(docs, core.Document{Key: e.Key, Value: e.Value, Clock: e.Clock})
	}
	slices.SortFunc(docs, func(a, b core.Document) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return docs
}

// compareEntries orders by clock and falls back to the hash so the order is total
func compareEntries(a, b *core.Entry) int {
	if c := a.Clock.Compare(b.Clock); c != 0 {
		return c
	}
	return cmp.Compare(a.Hash, b.Hash)
}
