// Package acartia is the client engine of the sightings dashboard: session
// state, the sightings dataset and its filters, and an optional replicated
// peer collection feeding the same store.
package acartia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lborres/acartia/adapters/backend"
	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/logging"
	"github.com/lborres/acartia/replication"
	"github.com/lborres/acartia/services"
	"github.com/lborres/acartia/store"
)

// interfaces
type (
	TokenStorage   = core.TokenStorage
	ReplicaStorage = core.ReplicaStorage
	Backend        = core.Backend
	RenderSink     = core.RenderSink
	PeerNode       = core.PeerNode
	PeerTransport  = core.PeerTransport
)

// structs
type (
	Config            = core.Config
	Sighting          = core.Sighting
	FilterCriteria    = core.FilterCriteria
	FeatureCollection = core.FeatureCollection
	Session           = core.Session
	User              = core.User
	APIToken          = core.APIToken
	Profile           = core.Profile
	Route             = core.Route
	Decision          = core.Decision
	ReplicationStatus = core.ReplicationStatus
)

type RenderFunc = core.RenderFunc

// Constructors & helpers (convenience re-exports)
var (
	DefaultCriteria = core.DefaultCriteria
	UserMessage     = core.UserMessage
	Routes          = core.Routes
)

var (
	ErrNetworkUnreachable     = core.ErrNetworkUnreachable
	ErrAuthenticationRejected = core.ErrAuthenticationRejected
	ErrAuthorizationDenied    = core.ErrAuthorizationDenied
	ErrServerError            = core.ErrServerError
)

var (
	ErrReplicationFailure = core.ErrReplicationFailure
	ErrValidationFailure  = core.ErrValidationFailure
)

var (
	ErrBaseURLRequired      = core.ErrBaseURLRequired
	ErrTokenStorageRequired = core.ErrTokenStorageRequired
)

// Client wires the store to the backend gateway and the session services
type Client struct {
	Store    *store.Store
	Session  *services.SessionManager
	Accounts *services.Accounts

	backend core.Backend
	logger  *slog.Logger
}

func New(config Config) (*Client, error) {
	if config.Tokens == nil {
		return nil, ErrTokenStorageRequired
	}
	if config.Backend == nil && config.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}

	// Set Defaults

	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	api := config.Backend
	if api == nil {
		gw, err := backend.New(backend.Config{
			BaseURL:   config.BaseURL,
			MasterKey: config.MasterKey,
			Timeout:   config.HTTPTimeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		api = gw
	}

	st := store.New(store.Options{
		Source: api,
		Render: config.Render,
		Layer:  config.MapLayer,
		Logger: logger.With("component", "store"),
		Now:    config.Now,
	})

	return &Client{
		Store:    st,
		Session:  services.NewSessionManager(st, api, config.Tokens, logger.With("component", "session")),
		Accounts: services.NewAccounts(st, api, logger.With("component", "accounts")),
		backend:  api,
		logger:   logger,
	}, nil
}

// Start restores a persisted session and loads the first dataset. A failed
// refresh is also recorded in the store.
func (c *Client) Start(ctx context.Context) error {
	restored, err := c.Session.Restore(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("client starting", "session_restored", restored)
	return c.Store.Refresh(ctx)
}

// Login authenticates and, on success, reloads the dataset through the
// privileged endpoint. The returned message is the one to display.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	msg, err := c.Session.Login(ctx, email, password)
	if err != nil {
		return core.UserMessage(err), err
	}
	if err := c.Store.Refresh(ctx); err != nil {
		c.logger.Warn("refresh after login failed", "error", err)
	}
	return msg, nil
}

// Logout clears the session and reloads the public dataset
func (c *Client) Logout(ctx context.Context) string {
	msg := c.Session.Logout(ctx)
	if err := c.Store.Refresh(ctx); err != nil {
		c.logger.Warn("refresh after logout failed", "error", err)
	}
	return msg
}

// Export downloads the bulk export as an opaque payload
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	blob, err := c.backend.FetchExport(ctx, c.Store.Session().Token)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return blob, nil
}

// Records fetches the raw sighting records for the current session, as
// the backend returned them. It picks the same listing as Store.Refresh.
func (c *Client) Records(ctx context.Context) ([]json.RawMessage, error) {
	return c.backend.FetchSightings(ctx, c.Store.FetchToken())
}

type ReplicaConfig struct {
	Collection string
	Bootstrap  []string
	Transport  core.PeerTransport
	Storage    core.ReplicaStorage

	// Optional config
	Node         core.PeerNode
	PeerID       string
	SyncInterval time.Duration
}

// NewReplica builds a participant whose merged documents replace the
// store's dataset on every replication.
func (c *Client) NewReplica(cfg ReplicaConfig) (*replication.Participant, error) {
	return replication.New(replication.Config{
		Collection:   cfg.Collection,
		Bootstrap:    cfg.Bootstrap,
		Transport:    cfg.Transport,
		Storage:      cfg.Storage,
		Node:         cfg.Node,
		Sink:         c.Store,
		PeerID:       cfg.PeerID,
		SyncInterval: cfg.SyncInterval,
		Logger:       c.logger,
	})
}
