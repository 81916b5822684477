package core

import (
	"context"
	"encoding/json"
)

// Ports define interfaces for external dependencies

// ============================================
// STORAGE PORTS
// ============================================

// TokenStorage persists the bearer token across process restarts.
// Presence of a token means "possibly authenticated", absence "definitely not".
type TokenStorage interface {
	GetToken(ctx context.Context) (string, error) // ErrTokenNotFound when absent
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// ReplicaStorage persists the entries of replicated collections
type ReplicaStorage interface {
	PutEntries(ctx context.Context, address string, entries []*Entry) error
	LoadEntries(ctx context.Context, address string) ([]*Entry, error)
}

// ============================================
// GATEWAY PORT
// ============================================

// SightingSource fetches raw sighting records; an empty token selects the public endpoint
type SightingSource interface {
	FetchSightings(ctx context.Context, token string) ([]json.RawMessage, error)
}

// Backend is every remote call the client makes
type Backend interface {
	SightingSource
	FetchExport(ctx context.Context, token string) ([]byte, error)
	Authenticate(ctx context.Context, email, password string) (*AuthResult, error)
	FetchUsers(ctx context.Context, token string) ([]User, error)
	FetchUserRequests(ctx context.Context, token string) ([]User, error)
	FetchTokens(ctx context.Context, token, userID string) ([]APIToken, error)
	CreateToken(ctx context.Context, token, userID, name string) (*APIToken, error)
	UpdateProfile(ctx context.Context, token, userID string, form map[string]string) (*Profile, error)
}

// ============================================
// RENDER PORT
// ============================================

// RenderSink receives the filtered projection whenever it changes
type RenderSink interface {
	Render(layer string, fc FeatureCollection)
}

// RenderFunc adapts a function to RenderSink
type RenderFunc func(layer string, fc FeatureCollection)

func (f RenderFunc) Render(layer string, fc FeatureCollection) { f(layer, fc) }

// ============================================
// PEER NETWORK PORTS
// ============================================

// ReplicaHost is what a peer node serves to other peers
type ReplicaHost interface {
	PeerID() string
	Address() string
	Heads() []string
	Entry(hash string) (*Entry, bool)
	Announce(ctx context.Context, a Announcement)
}

// PeerNode is the local listening side of the peer network
type PeerNode interface {
	Start(host ReplicaHost) error
	URL() string
	Close(ctx context.Context) error
}

// PeerTransport is the dialing side of the peer network
type PeerTransport interface {
	Hello(ctx context.Context, peer string) (*PeerInfo, error)
	Heads(ctx context.Context, peer, address string) ([]string, error)
	Entry(ctx context.Context, peer, address, hash string) (*Entry, error)
	Announce(ctx context.Context, peer, address string, a Announcement) error
}
