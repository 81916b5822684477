// Package memory keeps tokens and replica entries in process memory.
// Nothing survives a restart; it backs tests and one-shot CLI runs.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/lborres/acartia/core"
)

// Stats are simple counters for diagnostics
type Stats struct {
	Reads     int64 `json:"reads"`
	Writes    int64 `json:"writes"`
	Deletes   int64 `json:"deletes"`
	Entries   int   `json:"entries"`
	Addresses int   `json:"addresses"`
}

// Storage implements core.TokenStorage and core.ReplicaStorage
type Storage struct {
	mu      sync.RWMutex
	token   string
	entries map[string][]*core.Entry // key: collection address
	seen    map[string]struct{}      // key: entry hash

	// counters
	reads   int64
	writes  int64
	deletes int64
}

var (
	_ core.TokenStorage   = (*Storage)(nil)
	_ core.ReplicaStorage = (*Storage)(nil)
)

func New() *Storage {
	return &Storage{
		entries: make(map[string][]*core.Entry),
		seen:    make(map[string]struct{}),
	}
}

func (s *Storage) GetToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	atomic.AddInt64(&s.reads, 1)
	if s.token == "" {
		return "", core.ErrTokenNotFound
	}
	return s.token, nil
}

func (s *Storage) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	atomic.AddInt64(&s.writes, 1)
	return nil
}

func (s *Storage) ClearToken(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		s.token = ""
		atomic.AddInt64(&s.deletes, 1)
	}
	return nil
}

// PutEntries stores entries once per hash; repeats are ignored
func (s *Storage) PutEntries(_ context.Context, address string, entries []*core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.seen[e.Hash]; ok {
			continue
		}
		s.seen[e.Hash] = struct{}{}
		s.entries[address] = append(s.entries[address], e)
		atomic.AddInt64(&s.writes, 1)
	}
	return nil
}

func (s *Storage) LoadEntries(_ context.Context, address string) ([]*core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	atomic.AddInt64(&s.reads, 1)
	return slices.Clone(s.entries[address]), nil
}

// Stats returns storage statistics
func (s *Storage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, es := range s.entries {
		n += len(es)
	}
	return Stats{
		Reads:     atomic.LoadInt64(&s.reads),
		Writes:    atomic.LoadInt64(&s.writes),
		Deletes:   atomic.LoadInt64(&s.deletes),
		Entries:   n,
		Addresses: len(s.entries),
	}
}
