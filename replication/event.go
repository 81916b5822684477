package replication

import (
	"github.com/lborres/acartia/core"
)

// EventKind is one of the three observable replication events
type EventKind string

const (
	EventReplicated EventKind = "replicated" // remote entries were merged
	EventWrite      EventKind = "write"      // an entry was appended, locally or from a peer
	EventError      EventKind = "error"      // diagnostic only
)

// Event is delivered to the reconciliation loop
type Event struct {
	Kind  EventKind
	Peer  string
	Entry *core.Entry
	Err   error
}
