package fiber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/client"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/logging"
	"github.com/lborres/acartia/replication"
)

const DefaultDialTimeout = 10 * time.Second

type TransportConfig struct {
	SwarmKey string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Transport dials other peer nodes
type Transport struct {
	client   *client.Client
	swarmKey string
	logger   *slog.Logger
}

var _ core.PeerTransport = (*Transport)(nil)

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	cc := client.New()
	cc.SetTimeout(cfg.Timeout)
	return &Transport{
		client:   cc,
		swarmKey: cfg.SwarmKey,
		logger:   cfg.Logger.With("component", "peer-transport"),
	}
}

func (t *Transport) Hello(ctx context.Context, peer string) (*core.PeerInfo, error) {
	var info core.PeerInfo
	if err := t.get(ctx, "hello", peer, "/peer", &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, &core.RequestError{Op: "hello", Status: http.StatusOK, Err: fmt.Errorf("%w: empty peer id", core.ErrServerError)}
	}
	info.URL = strings.TrimRight(peer, "/")
	return &info, nil
}

func (t *Transport) Heads(ctx context.Context, peer, address string) ([]string, error) {
	path, err := logPath(address)
	if err != nil {
		return nil, err
	}
	var resp core.HeadsResponse
	if err := t.get(ctx, "heads", peer, path+"/heads", &resp); err != nil {
		return nil, err
	}
	if resp.Address != address {
		return nil, fmt.Errorf("%w: peer answered for %q", core.ErrInvalidAddress, resp.Address)
	}
	return resp.Heads, nil
}

// Entry fetches one entry. The caller verifies its hash.
func (t *Transport) Entry(ctx context.Context, peer, address, hash string) (*core.Entry, error) {
	path, err := logPath(address)
	if err != nil {
		return nil, err
	}
	var e core.Entry
	if err := t.get(ctx, "entry", peer, path+"/entries/"+hash, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *Transport) Announce(ctx context.Context, peer, address string, a core.Announcement) error {
	path, err := logPath(address)
	if err != nil {
		return err
	}
	_, err = t.do(ctx, "announce", http.MethodPost, peer, path+"/heads", a)
	return err
}

func (t *Transport) get(ctx context.Context, op, peer, path string, out any) error {
	body, err := t.do(ctx, op, http.MethodGet, peer, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &core.RequestError{Op: op, Status: http.StatusOK, Err: fmt.Errorf("%w: %v", core.ErrServerError, err)}
	}
	return nil
}

func (t *Transport) do(ctx context.Context, op, method, peer, path string, payload any) ([]byte, error) {
	cfg := client.Config{Ctx: ctx, Header: map[string]string{}}
	if t.swarmKey != "" {
		cfg.Header[fiber.HeaderAuthorization] = "Bearer " + t.swarmKey
	}
	if payload != nil {
		cfg.Body = payload
	}
	target := strings.TrimRight(peer, "/") + path

	var (
		resp *client.Response
		err  error
	)
	switch method {
	case http.MethodPost:
		resp, err = t.client.Post(target, cfg)
	default:
		resp, err = t.client.Get(target, cfg)
	}
	if err != nil {
		return nil, &core.RequestError{Op: op, Err: fmt.Errorf("%w: %v", core.ErrNetworkUnreachable, err)}
	}
	defer resp.Close()

	status := resp.StatusCode()
	body := append([]byte(nil), resp.Body()...)
	t.logger.Debug("peer request", "op", op, "peer", peer, "status", status, "bytes", len(body))

	switch {
	case status >= 200 && status < 300:
		return body, nil
	case status == http.StatusUnauthorized:
		return nil, &core.RequestError{Op: op, Status: status, Err: core.ErrAuthorizationDenied}
	case status == http.StatusNotFound && op == "entry":
		return nil, &core.RequestError{Op: op, Status: status, Err: core.ErrEntryNotFound}
	case status == http.StatusNotFound:
		return nil, &core.RequestError{Op: op, Status: status, Err: core.ErrInvalidAddress}
	default:
		return nil, &core.RequestError{Op: op, Status: status, Err: core.ErrServerError}
	}
}

func logPath(address string) (string, error) {
	a, err := replication.ParseAddress(address)
	if err != nil {
		return "", err
	}
	return replication.LogPath(a), nil
}
