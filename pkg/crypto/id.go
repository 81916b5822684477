package crypto

import (
	"crypto/rand"
	"errors"
	"math/bits"
)

const (
	// PeerAlphabet is URL and path safe so peer ids can appear in routes
	PeerAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	PeerIDSize   = 20 // ~103 bits over 36 symbols
)

var (
	ErrAlphabetSize  = errors.New("alphabet must contain between 2 and 256 characters")
	ErrAlphabetASCII = errors.New("alphabet must contain only ASCII characters")
)

// IDGenerator draws uniformly distributed ids from a fixed alphabet
type IDGenerator struct {
	alphabet []byte
	mask     byte
}

func NewIDGenerator(alphabet string) (*IDGenerator, error) {
	if len(alphabet) < 2 || len(alphabet) > 256 {
		return nil, ErrAlphabetSize
	}
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] > 127 {
			return nil, ErrAlphabetASCII
		}
	}
	// smallest 2^n-1 covering every index; bytes above len are rejected
	mask := byte(1<<bits.Len8(uint8(len(alphabet)-1)) - 1)
	return &IDGenerator{alphabet: []byte(alphabet), mask: mask}, nil
}

// Generate returns an id of size characters
func (g *IDGenerator) Generate(size int) (string, error) {
	if size <= 0 {
		size = PeerIDSize
	}
	id := make([]byte, 0, size)
	buf := make([]byte, size*2)
	for len(id) < size {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if idx := int(b & g.mask); idx < len(g.alphabet) {
				id = append(id, g.alphabet[idx])
				if len(id) == size {
					break
				}
			}
		}
	}
	return string(id), nil
}

var peerIDs, _ = NewIDGenerator(PeerAlphabet)

// NewPeerID returns a random peer identifier
func NewPeerID() (string, error) {
	return peerIDs.Generate(PeerIDSize)
}
