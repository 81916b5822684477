package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/lborres/acartia/core"
)

// memNet is an in-process peer network: urls map straight to hosts
type memNet struct {
	mu    sync.Mutex
	hosts map[string]core.ReplicaHost
}

func newMemNet() *memNet {
	return &memNet{hosts: make(map[string]core.ReplicaHost)}
}

func (n *memNet) host(url string) (core.ReplicaHost, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.hosts[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNetworkUnreachable, url)
	}
	return h, nil
}

func (n *memNet) Hello(_ context.Context, peer string) (*core.PeerInfo, error) {
	h, err := n.host(peer)
	if err != nil {
		return nil, err
	}
	return &core.PeerInfo{ID: h.PeerID(), URL: peer}, nil
}

func (n *memNet) Heads(_ context.Context, peer, address string) ([]string, error) {
	h, err := n.host(peer)
	if err != nil {
		return nil, err
	}
	if h.Address() != address {
		return nil, core.ErrInvalidAddress
	}
	return h.Heads(), nil
}

func (n *memNet) Entry(_ context.Context, peer, address, hash string) (*core.Entry, error) {
	h, err := n.host(peer)
	if err != nil {
		return nil, err
	}
	e, ok := h.Entry(hash)
	if !ok || h.Address() != address {
		return nil, core.ErrEntryNotFound
	}
	return e, nil
}

func (n *memNet) Announce(ctx context.Context, peer, _ string, a core.Announcement) error {
	h, err := n.host(peer)
	if err != nil {
		return err
	}
	h.Announce(ctx, a)
	return nil
}

// memNode registers its host on the network under url
type memNode struct {
	net      *memNet
	url      string
	startErr error
}

func (n *memNode) Start(host core.ReplicaHost) error {
	if n.startErr != nil {
		return n.startErr
	}
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	n.net.hosts[n.url] = host
	return nil
}

func (n *memNode) URL() string { return n.url }

func (n *memNode) Close(context.Context) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	delete(n.net.hosts, n.url)
	return nil
}

// memStorage keeps persisted entries per address
type memStorage struct {
	mu      sync.Mutex
	entries map[string][]*core.Entry
	loadErr error
}

func newMemStorage() *memStorage {
	return &memStorage{entries: make(map[string][]*core.Entry)}
}

func (s *memStorage) PutEntries(_ context.Context, address string, entries []*core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[address] = append(s.entries[address], entries...)
	return nil
}

func (s *memStorage) LoadEntries(_ context.Context, address string) ([]*core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return slices.Clone(s.entries[address]), nil
}

func (s *memStorage) count(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[address])
}

// recordingSink captures snapshots and status reports
type recordingSink struct {
	mu        sync.Mutex
	snapshots [][]json.RawMessage
	statuses  []core.ReplicationStatus
}

func (s *recordingSink) ApplySnapshot(_ context.Context, docs []json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, slices.Clone(docs))
	return nil
}

func (s *recordingSink) ReportReplication(status core.ReplicationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *recordingSink) snapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *recordingSink) lastSnapshot() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil
	}
	return s.snapshots[len(s.snapshots)-1]
}

func (s *recordingSink) states() []core.ReplicationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ReplicationState
	for _, st := range s.statuses {
		if len(out) == 0 || out[len(out)-1] != st.State {
			out = append(out, st.State)
		}
	}
	return out
}
