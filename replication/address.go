// Package replication keeps a peer-replicated collection of sighting
// documents and mirrors its merged view into the client store.
//
// A collection is an append-only log of content-addressed entries. Logs
// from different peers are joined as sets, so every peer holding the same
// entries computes the same documents. Per key, the entry with the highest
// Lamport clock wins; ties are broken by writer id.
package replication

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
)

// AddressPrefix is the protocol segment of every collection address
const AddressPrefix = "/acartia/"

// Manifest describes a collection. Its hash is part of the address, so two
// peers opening the same name with the same manifest meet at one address.
type Manifest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Address identifies a collection: /acartia/<manifest hash>/<name>
type Address struct {
	Root string
	Name string
}

// NewAddress derives the address of a document collection named name
func NewAddress(name string) (Address, error) {
	if name == "" || strings.Contains(name, "/") {
		return Address{}, fmt.Errorf("%w: %q", core.ErrCollectionRequired, name)
	}
	manifest, err := json.Marshal(Manifest{Name: name, Type: "docstore"})
	if err != nil {
		return Address{}, err
	}
	return Address{Root: crypto.ContentHash(manifest), Name: name}, nil
}

// ParseAddress is the inverse of Address.String
func ParseAddress(s string) (Address, error) {
	rest, ok := strings.CutPrefix(s, AddressPrefix)
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", core.ErrInvalidAddress, s)
	}
	root, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" || strings.Contains(name, "/") || !crypto.IsContentHash(root) {
		return Address{}, fmt.Errorf("%w: %q", core.ErrInvalidAddress, s)
	}
	return Address{Root: root, Name: name}, nil
}

func (a Address) String() string {
	return AddressPrefix + a.Root + "/" + a.Name
}
