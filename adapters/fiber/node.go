// Package fiber serves and dials the peer replication protocol over HTTP.
package fiber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/logging"
)

const DefaultListen = "127.0.0.1:0"

var ErrNodeStarted = errors.New("peer node already started")

type NodeConfig struct {
	Listen string // host:port; port 0 picks a free port

	// AdvertiseURL is the base url other peers use to reach this node.
	// Defaults to http://<bound address>.
	AdvertiseURL string

	// SwarmKey, when set, must be presented as bearer on every
	// non-public route
	SwarmKey string

	RateLimit float64 // requests per second per client ip; 0 disables
	Burst     int
	Logger    *slog.Logger
}

// Node is the listening side of the peer network
type Node struct {
	cfg     NodeConfig
	logger  *slog.Logger
	limiter *ipLimiter

	mu   sync.Mutex
	app  *fiber.App
	url  string
	done chan error
}

var _ core.PeerNode = (*Node)(nil)

func NewNode(cfg NodeConfig) *Node {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	n := &Node{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "peer-node"),
	}
	if cfg.RateLimit > 0 {
		n.limiter = newIPLimiter(cfg.RateLimit, cfg.Burst)
	}
	return n
}

// Start binds the listener and serves host in the background
func (n *Node) Start(host core.ReplicaHost) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.app != nil {
		return ErrNodeStarted
	}

	ln, err := net.Listen("tcp", n.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.cfg.Listen, err)
	}

	n.url = strings.TrimRight(n.cfg.AdvertiseURL, "/")
	if n.url == "" {
		n.url = "http://" + ln.Addr().String()
	}
	n.app = n.newApp(host)
	n.done = make(chan error, 1)

	go func(app *fiber.App, done chan<- error) {
		done <- app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}(n.app, n.done)

	n.logger.Info("peer node started", "listen", ln.Addr().String(), "url", n.url)
	return nil
}

// URL is the advertised base url; empty until started
func (n *Node) URL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.url
}

func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	app, done := n.app, n.done
	n.app = nil
	n.mu.Unlock()
	if app == nil {
		return nil
	}

	if err := app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutdown peer node: %w", err)
	}
	if err := <-done; err != nil && !errors.Is(err, net.ErrClosed) {
		n.logger.Warn("peer node stopped with error", "error", err)
	}
	n.logger.Info("peer node stopped")
	return nil
}

func (n *Node) newApp(host core.ReplicaHost) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "acartia-peer",
		ErrorHandler: n.handleFiberError,
	})
	registerRoutes(app, n, host)
	return app
}
