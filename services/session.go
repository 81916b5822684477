package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
	"github.com/lborres/acartia/pkg/logging"
	"github.com/lborres/acartia/store"
)

// SessionManager owns the login lifecycle: the in-memory session lives in
// the store, the bearer token in TokenStorage.
type SessionManager struct {
	store   *store.Store
	backend core.Backend
	tokens  core.TokenStorage
	logger  *slog.Logger
}

func NewSessionManager(st *store.Store, backend core.Backend, tokens core.TokenStorage, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SessionManager{store: st, backend: backend, tokens: tokens, logger: logger}
}

// Restore marks the session authenticated when a token was persisted by an
// earlier login. The token is not re-validated against the backend.
func (sm *SessionManager) Restore(ctx context.Context) (bool, error) {
	token, err := sm.tokens.GetToken(ctx)
	if errors.Is(err, core.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read persisted token: %w", err)
	}

	if err := sm.store.Commit(store.Restore{Token: token}); err != nil {
		return false, err
	}
	sm.logger.Info("session restored", "token", crypto.Fingerprint(token))
	return true, nil
}

// Login authenticates against the backend. On success the session is
// authenticated and the token persisted; on failure any partial session is
// cleared and the classified error returned. core.UserMessage gives the
// text to show.
func (sm *SessionManager) Login(ctx context.Context, email, password string) (string, error) {
	result, err := sm.backend.Authenticate(ctx, email, password)
	if err != nil {
		sm.logger.Warn("login failed", "email", email, "error", err)
		sm.clearCredentials(ctx)
		return "", err
	}

	details := core.UserDetails{Token: result.Token, User: result.User}
	if err := sm.store.Commit(store.Authenticate{Details: details}); err != nil {
		sm.clearCredentials(ctx)
		return "", fmt.Errorf("%w: %v", core.ErrServerError, err)
	}

	// A session without a persisted token fails every guard, so this is fatal
	if err := sm.tokens.SetToken(ctx, result.Token); err != nil {
		sm.clearCredentials(ctx)
		return "", fmt.Errorf("persist token: %w", err)
	}

	sm.logger.Info("login succeeded",
		"user_id", result.User.ID,
		"role", result.User.Role,
		"token", crypto.Fingerprint(result.Token))
	return core.MsgLoginSuccess, nil
}

// Logout clears the session, the dataset and the persisted token. It never
// fails and calling it again is a no-op.
func (sm *SessionManager) Logout(ctx context.Context) string {
	_, err := sm.tokens.GetToken(ctx)
	persisted := err == nil
	if !persisted && !errors.Is(err, core.ErrTokenNotFound) {
		sm.logger.Warn("read persisted token during logout", "error", err)
	}

	if !persisted && !sm.store.Session().Authenticated {
		return core.MsgLoggedOut
	}

	_ = sm.store.Commit(store.ClearSession{})
	if err := sm.tokens.ClearToken(ctx); err != nil {
		sm.logger.Warn("clear persisted token", "error", err)
	}
	sm.logger.Info("logged out")
	return core.MsgLoggedOut
}

// Authorize decides whether route may be entered with the current session
func (sm *SessionManager) Authorize(ctx context.Context, route core.Route) core.Decision {
	return core.Guard(route, sm.store.Session(), sm.hasToken(ctx))
}

func (sm *SessionManager) hasToken(ctx context.Context) bool {
	token, err := sm.tokens.GetToken(ctx)
	return err == nil && token != ""
}

func (sm *SessionManager) clearCredentials(ctx context.Context) {
	_ = sm.store.Commit(store.ClearCredentials{})
	if err := sm.tokens.ClearToken(ctx); err != nil {
		sm.logger.Warn("clear persisted token", "error", err)
	}
}
