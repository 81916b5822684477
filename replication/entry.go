package replication

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
)

// hashedEntry is the part of an entry covered by its hash
type hashedEntry struct {
	Log   string          `json:"log"`
	Op    core.Op         `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Clock core.Clock      `json:"clock"`
	Next  []string        `json:"next"`
}

// NewEntry builds a sealed entry. Next is copied and sorted so the hash
// does not depend on head order.
func NewEntry(log string, op core.Op, key string, value json.RawMessage, clock core.Clock, next []string) (*core.Entry, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: entry key is required", core.ErrValidationFailure)
	}
	if op == core.OpPut && !json.Valid(value) {
		return nil, fmt.Errorf("%w: document for %q is not valid JSON", core.ErrValidationFailure, key)
	}
	if op == core.OpDel {
		value = nil
	}

	next = slices.Clone(next)
	slices.Sort(next)
	if next == nil {
		next = []string{}
	}

	e := &core.Entry{Log: log, Op: op, Key: key, Value: value, Clock: clock, Next: next}
	hash, err := hashEntry(e)
	if err != nil {
		return nil, err
	}
	e.Hash = hash
	return e, nil
}

// VerifyEntry recomputes the hash of e
func VerifyEntry(e *core.Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", core.ErrHashMismatch)
	}
	if e.Op != core.OpPut && e.Op != core.OpDel {
		return fmt.Errorf("%w: unknown op %q", core.ErrValidationFailure, e.Op)
	}
	want, err := hashEntry(e)
	if err != nil {
		return err
	}
	if want != e.Hash {
		return fmt.Errorf("%w: %s", core.ErrHashMismatch, e.Hash)
	}
	return nil
}

func hashEntry(e *core.Entry) (string, error) {
	next := e.Next
	if next == nil {
		next = []string{}
	}
	b, err := json.Marshal(hashedEntry{
		Log:   e.Log,
		Op:    e.Op,
		Key:   e.Key,
		Value: e.Value,
		Clock: e.Clock,
		Next:  next,
	})
	if err != nil {
		return "", fmt.Errorf("encode entry: %w", err)
	}
	return crypto.ContentHash(b), nil
}
