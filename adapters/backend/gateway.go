// Package backend is the HTTP gateway to the cooperative's backend API.
package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/client"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
	"github.com/lborres/acartia/pkg/logging"
	"github.com/lborres/acartia/pkg/metrics"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	BaseURL string

	// MasterKey is the deployment key sent as bearer on the privileged
	// sightings and export endpoints, and as access_token on login.
	MasterKey string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Gateway implements core.Backend. It never retries; one failure is
// reported once, classified by the core request errors.
type Gateway struct {
	client    *client.Client
	baseURL   string
	masterKey string
	logger    *slog.Logger
}

var _ core.Backend = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, core.ErrBaseURLRequired
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute url", core.ErrBaseURLRequired, cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	cc := client.New()
	cc.SetTimeout(cfg.Timeout)

	return &Gateway{
		client:    cc,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		masterKey: cfg.MasterKey,
		logger:    cfg.Logger.With("component", "gateway"),
	}, nil
}

// ============================================
// SIGHTINGS
// ============================================

// FetchSightings uses the privileged full-history endpoint when token is
// set and the public recent-only endpoint otherwise.
func (g *Gateway) FetchSightings(ctx context.Context, token string) ([]json.RawMessage, error) {
	path := "/v1/sightings/current"
	header := map[string]string{}
	if token != "" {
		path = "/v1/sightings"
		header[fiber.HeaderAuthorization] = "Bearer " + g.privileged(token)
	}

	body, err := g.do(ctx, "fetch sightings", http.MethodGet, path, client.Config{Header: header})
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &core.RequestError{Op: "fetch sightings", Status: http.StatusOK, Err: fmt.Errorf("%w: %v", core.ErrServerError, err)}
	}
	return records, nil
}

// FetchExport returns the export payload untouched
func (g *Gateway) FetchExport(ctx context.Context, token string) ([]byte, error) {
	header := map[string]string{fiber.HeaderAuthorization: "Bearer " + g.privileged(token)}
	return g.do(ctx, "fetch export", http.MethodGet, "/v1/sightings/export", client.Config{Header: header})
}

// ============================================
// AUTH
// ============================================

// Authenticate posts basic credentials. A 400 means the credentials were
// rejected.
func (g *Gateway) Authenticate(ctx context.Context, email, password string) (*core.AuthResult, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(email + ":" + password))
	cfg := client.Config{
		Header: map[string]string{fiber.HeaderAuthorization: "Basic " + basic},
		Body:   map[string]string{"access_token": g.masterKey},
	}

	body, err := g.do(ctx, "authenticate", http.MethodPost, "/v1/auth/", cfg)
	if err != nil {
		return nil, err
	}

	var result core.AuthResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &core.RequestError{Op: "authenticate", Status: http.StatusOK, Err: fmt.Errorf("%w: %v", core.ErrServerError, err)}
	}
	return &result, nil
}

// ============================================
// ACCOUNTS
// ============================================

func (g *Gateway) FetchUsers(ctx context.Context, token string) ([]core.User, error) {
	var users []core.User
	err := g.getJSON(ctx, "fetch users", "/v1/users", token, &users)
	return users, err
}

func (g *Gateway) FetchUserRequests(ctx context.Context, token string) ([]core.User, error) {
	var users []core.User
	err := g.getJSON(ctx, "fetch user requests", "/v1/users/requests", token, &users)
	return users, err
}

func (g *Gateway) FetchTokens(ctx context.Context, token, userID string) ([]core.APIToken, error) {
	var tokens []core.APIToken
	err := g.getJSON(ctx, "fetch tokens", userPath(userID, "tokens"), token, &tokens)
	return tokens, err
}

func (g *Gateway) CreateToken(ctx context.Context, token, userID, name string) (*core.APIToken, error) {
	cfg := client.Config{
		Header: bearer(token),
		Body:   map[string]string{"name": name},
	}
	body, err := g.do(ctx, "create token", http.MethodPost, userPath(userID, "tokens"), cfg)
	if err != nil {
		return nil, err
	}

	var created core.APIToken
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, &core.RequestError{Op: "create token", Status: http.StatusOK, Err: fmt.Errorf("%w: %v", core.ErrServerError, err)}
	}
	return &created, nil
}

func (g *Gateway) UpdateProfile(ctx context.Context, token, userID string, form map[string]string) (*core.Profile, error) {
	cfg := client.Config{
		Header:   bearer(token),
		FormData: form,
	}
	body, err := g.do(ctx, "update profile", http.MethodPost, userPath(userID, "profile"), cfg)
	if err != nil {
		return nil, err
	}

	var profile core.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, &core.RequestError{Op: "update profile", Status: http.StatusOK, Err: fmt.Errorf("%w: %v", core.ErrServerError, err)}
	}
	return &profile, nil
}

// ============================================
// TRANSPORT
// ============================================

func (g *Gateway) getJSON(ctx context.Context, op, path, token string, out any) error {
	body, err := g.do(ctx, op, http.MethodGet, path, client.Config{Header: bearer(token)})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &core.RequestError{Op: op, Status: http.StatusOK, Err: fmt.Errorf("%w: %v", core.ErrServerError, err)}
	}
	return nil
}

// do performs one request and classifies the outcome. The returned body is
// a copy owned by the caller.
func (g *Gateway) do(ctx context.Context, op, method, path string, cfg client.Config) ([]byte, error) {
	cfg.Ctx = ctx
	target := g.baseURL + path

	start := time.Now()
	var (
		resp *client.Response
		err  error
	)
	switch method {
	case http.MethodPost:
		resp, err = g.client.Post(target, cfg)
	default:
		resp, err = g.client.Get(target, cfg)
	}
	if err != nil {
		metrics.GatewayRequest(op, "unreachable")
		g.logger.Warn("request failed", "op", op, "path", path, "error", err)
		return nil, &core.RequestError{Op: op, Err: fmt.Errorf("%w: %v", core.ErrNetworkUnreachable, err)}
	}
	defer resp.Close()

	status := resp.StatusCode()
	body := append([]byte(nil), resp.Body()...)

	g.logger.Debug("request done",
		"op", op,
		"method", method,
		"path", path,
		"status", status,
		"bytes", len(body),
		"token", crypto.Fingerprint(strings.TrimPrefix(cfg.Header[fiber.HeaderAuthorization], "Bearer ")),
		"took", time.Since(start))

	if err := classify(op, status); err != nil {
		metrics.GatewayRequest(op, outcome(err))
		return nil, err
	}
	metrics.GatewayRequest(op, "ok")
	return body, nil
}

// classify maps an HTTP status to the request error taxonomy
func classify(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest && op == "authenticate":
		return &core.RequestError{Op: op, Status: status, Err: core.ErrAuthenticationRejected}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &core.RequestError{Op: op, Status: status, Err: core.ErrAuthorizationDenied}
	default:
		return &core.RequestError{Op: op, Status: status, Err: core.ErrServerError}
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, core.ErrAuthenticationRejected):
		return "rejected"
	case errors.Is(err, core.ErrAuthorizationDenied):
		return "denied"
	default:
		return "server_error"
	}
}

// privileged picks the deployment key over the session token
func (g *Gateway) privileged(token string) string {
	if g.masterKey != "" {
		return g.masterKey
	}
	return token
}

func bearer(token string) map[string]string {
	return map[string]string{fiber.HeaderAuthorization: "Bearer " + token}
}

func userPath(userID, leaf string) string {
	return "/v1/users/" + url.PathEscape(userID) + "/" + leaf
}
