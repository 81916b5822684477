package core

import (
	"encoding/json"
	"time"
)

// Op is the kind of change recorded by a log entry
type Op string

const (
	OpPut Op = "PUT"
	OpDel Op = "DEL"
)

// Clock is a Lamport timestamp; ID is the writer's peer id
type Clock struct {
	ID   string `json:"id"`
	Time uint64 `json:"time"`
}

// Compare orders clocks by time, then writer id
func (c Clock) Compare(o Clock) int {
	switch {
	case c.Time < o.Time:
		return -1
	case c.Time > o.Time:
		return 1
	case c.ID < o.ID:
		return -1
	case c.ID > o.ID:
		return 1
	}
	return 0
}

// Entry is one immutable, content-addressed record of the replicated log
type Entry struct {
	Hash  string          `json:"hash"`
	Log   string          `json:"log"` // collection address
	Op    Op              `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Clock Clock           `json:"clock"`
	Next  []string        `json:"next"`
}

// Document is the current merged value of a key
type Document struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Clock Clock           `json:"clock"`
}

// PeerInfo is returned by a peer's handshake endpoint
type PeerInfo struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Announcement tells a peer about new heads and where to fetch them
type Announcement struct {
	From  string   `json:"from"`
	Heads []string `json:"heads"`
}

// ReplicationState is the participant's lifecycle state
type ReplicationState string

const (
	StateDisconnected ReplicationState = "disconnected"
	StateConnecting   ReplicationState = "connecting"
	StateLoading      ReplicationState = "loading"
	StateSynced       ReplicationState = "synced"
	StateError        ReplicationState = "error"
)

// ReplicationStatus is the diagnostic view the store keeps of replication
type ReplicationStatus struct {
	State            ReplicationState `json:"state"`
	Address          string           `json:"address,omitempty"`
	LastPeer         string           `json:"lastPeer,omitempty"`
	LastError        string           `json:"lastError,omitempty"`
	LastReplicatedAt time.Time        `json:"lastReplicatedAt,omitzero"`
	Documents        int              `json:"documents"`
}
