package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/logging"
	"github.com/lborres/acartia/store"
)

// Accounts runs the user and token management calls. The admin check
// happens here, before any request is made.
type Accounts struct {
	store   *store.Store
	backend core.Backend
	logger  *slog.Logger
}

func NewAccounts(st *store.Store, backend core.Backend, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Accounts{store: st, backend: backend, logger: logger}
}

// FetchUserList loads every member. Admin only.
func (a *Accounts) FetchUserList(ctx context.Context) ([]core.User, error) {
	token, err := a.bearer(true)
	if err != nil {
		return nil, err
	}

	users, err := a.backend.FetchUsers(ctx, token)
	if err != nil {
		a.logger.Warn("fetch users failed", "error", err)
		return nil, err
	}
	_ = a.store.Commit(store.SetUsers{Users: users})
	return users, nil
}

// FetchUserRequestList loads pending membership requests. Admin only.
func (a *Accounts) FetchUserRequestList(ctx context.Context) ([]core.User, error) {
	token, err := a.bearer(true)
	if err != nil {
		return nil, err
	}

	requests, err := a.backend.FetchUserRequests(ctx, token)
	if err != nil {
		a.logger.Warn("fetch user requests failed", "error", err)
		return nil, err
	}
	_ = a.store.Commit(store.SetUserRequests{Users: requests})
	return requests, nil
}

// FetchUserTokens loads the API tokens of the signed-in user
func (a *Accounts) FetchUserTokens(ctx context.Context) ([]core.APIToken, error) {
	token, userID, err := a.userBearer()
	if err != nil {
		return nil, err
	}

	tokens, err := a.backend.FetchTokens(ctx, token, userID)
	if err != nil {
		a.logger.Warn("fetch tokens failed", "error", err)
		return nil, err
	}
	_ = a.store.Commit(store.SetTokens{Tokens: tokens})
	return tokens, nil
}

// CreateToken issues a named API token and refreshes the token list
func (a *Accounts) CreateToken(ctx context.Context, name string) (*core.APIToken, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: token name is required", core.ErrValidationFailure)
	}
	token, userID, err := a.userBearer()
	if err != nil {
		return nil, err
	}

	created, err := a.backend.CreateToken(ctx, token, userID, name)
	if err != nil {
		a.logger.Warn("create token failed", "name", name, "error", err)
		return nil, err
	}

	// list failures are not the caller's problem, the token exists
	if _, err := a.FetchUserTokens(ctx); err != nil {
		a.logger.Debug("token list refresh after create failed", "error", err)
	}
	return created, nil
}

// UpdateProfile submits the profile form of the signed-in user
func (a *Accounts) UpdateProfile(ctx context.Context, form map[string]string) (*core.Profile, error) {
	token, userID, err := a.userBearer()
	if err != nil {
		return nil, err
	}

	profile, err := a.backend.UpdateProfile(ctx, token, userID, form)
	if err != nil {
		a.logger.Warn("update profile failed", "error", err)
		return nil, err
	}
	_ = a.store.Commit(store.SetProfile{Profile: profile})
	return profile, nil
}

// bearer returns the session token, checking the admin flag first when
// adminOnly is set.
func (a *Accounts) bearer(adminOnly bool) (string, error) {
	session := a.store.Session()
	if adminOnly && !session.IsAdmin {
		if restored(session) {
			return "", fmt.Errorf("%w: role unknown for a restored session, sign in again", core.ErrAuthorizationDenied)
		}
		return "", fmt.Errorf("%w: admin role required", core.ErrAuthorizationDenied)
	}
	if !session.Authenticated || session.Token == "" {
		return "", fmt.Errorf("%w: not signed in", core.ErrAuthorizationDenied)
	}
	return session.Token, nil
}

// userBearer is bearer for calls scoped to the signed-in user. A restored
// session has a token but no user details, so it cannot make them.
func (a *Accounts) userBearer() (token, userID string, err error) {
	if token, err = a.bearer(false); err != nil {
		return "", "", err
	}
	if userID = a.store.Session().UserDetails.User.ID; userID == "" {
		return "", "", fmt.Errorf("%w: user details unavailable, sign in again", core.ErrAuthorizationDenied)
	}
	return token, userID, nil
}

// restored reports a session rebuilt from a persisted token only
func restored(s core.Session) bool {
	return s.Authenticated && s.UserDetails.User.ID == ""
}
