package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/store"
)

type sessionFixture struct {
	store   *store.Store
	backend *FakeBackend
	tokens  *FakeTokenStorage
	manager *SessionManager
}

// Helper function to create a SessionManager over fakes for tests
func newSessionFixture() *sessionFixture {
	backend := NewFakeBackend()
	tokens := NewFakeTokenStorage()
	st := store.New(store.Options{Source: backend})
	return &sessionFixture{
		store:   st,
		backend: backend,
		tokens:  tokens,
		manager: NewSessionManager(st, backend, tokens, nil),
	}
}

func adminResult() *core.AuthResult {
	return &core.AuthResult{
		Token: "tok-admin",
		User:  core.User{ID: "u1", Name: "Ada", Email: "ada@example.org", Role: "admin"},
	}
}

// Requirement: login with valid credentials authenticates, persists the token and derives isAdmin from the role.
func TestSessionManager_Login(t *testing.T) {
	tests := []struct {
		name      string
		role      string
		wantAdmin bool
	}{
		{name: "admin role", role: "admin", wantAdmin: true},
		{name: "member role", role: "user", wantAdmin: false},
		{name: "empty role", role: "", wantAdmin: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			f := newSessionFixture()
			f.backend.authResult = &core.AuthResult{Token: "tok", User: core.User{ID: "u1", Role: test.role}}

			// Act
			msg, err := f.manager.Login(context.Background(), "a@example.org", "secret")

			// Assert
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if msg != core.MsgLoginSuccess {
				t.Errorf("Login() = %q, want %q", msg, core.MsgLoginSuccess)
			}
			s := f.store.Session()
			if !s.Authenticated || s.Token != "tok" || s.UserDetails.Token != "tok" {
				t.Errorf("session not authenticated: %+v", s)
			}
			if s.IsAdmin != test.wantAdmin {
				t.Errorf("IsAdmin = %v, want %v", s.IsAdmin, test.wantAdmin)
			}
			if got, err := f.tokens.GetToken(context.Background()); err != nil || got != "tok" {
				t.Errorf("persisted token = %q, %v", got, err)
			}
		})
	}
}

// Requirement: a failed login leaves no session and no persisted token, and the error is classified.
func TestSessionManager_Login_Failure(t *testing.T) {
	tests := []struct {
		name    string
		authErr error
		wantErr error
		wantMsg string
	}{
		{
			name:    "wrong password",
			authErr: &core.RequestError{Op: "authenticate", Status: 400, Err: core.ErrAuthenticationRejected},
			wantErr: core.ErrAuthenticationRejected,
			wantMsg: core.MsgBadCredential,
		},
		{
			name:    "network down",
			authErr: &core.RequestError{Op: "authenticate", Err: core.ErrNetworkUnreachable},
			wantErr: core.ErrNetworkUnreachable,
			wantMsg: core.MsgNetworkError,
		},
		{
			name:    "server error",
			authErr: &core.RequestError{Op: "authenticate", Status: 500, Err: core.ErrServerError},
			wantErr: core.ErrServerError,
			wantMsg: core.MsgGenericError,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange: a stale token from an earlier session is persisted
			f := newSessionFixture()
			_ = f.tokens.SetToken(context.Background(), "stale")
			_, _ = f.manager.Restore(context.Background())
			f.backend.authErr = test.authErr

			// Act
			msg, err := f.manager.Login(context.Background(), "a@example.org", "wrong")

			// Assert
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, test.wantErr)
			}
			if msg != "" {
				t.Errorf("Login() message = %q on failure", msg)
			}
			if got := core.UserMessage(err); got != test.wantMsg {
				t.Errorf("UserMessage() = %q, want %q", got, test.wantMsg)
			}
			if s := f.store.Session(); s.Authenticated || s.Token != "" || s.IsAdmin {
				t.Errorf("session should be cleared: %+v", s)
			}
			if _, err := f.tokens.GetToken(context.Background()); !errors.Is(err, core.ErrTokenNotFound) {
				t.Errorf("persisted token should be absent, got err %v", err)
			}
		})
	}
}

// Requirement: a token that cannot be persisted fails the login.
func TestSessionManager_Login_PersistFailure(t *testing.T) {
	f := newSessionFixture()
	f.backend.authResult = adminResult()
	f.tokens.setErr = errors.New("disk full")

	_, err := f.manager.Login(context.Background(), "ada@example.org", "pw")

	if err == nil {
		t.Fatal("expected error")
	}
	if f.store.Session().Authenticated {
		t.Error("session should not stay authenticated")
	}
}

// Requirement: a login response without a token is rejected.
func TestSessionManager_Login_EmptyToken(t *testing.T) {
	f := newSessionFixture()
	f.backend.authResult = &core.AuthResult{User: core.User{Role: "admin"}}

	_, err := f.manager.Login(context.Background(), "ada@example.org", "pw")

	if !errors.Is(err, core.ErrServerError) {
		t.Fatalf("Login() error = %v, want ErrServerError", err)
	}
	if f.store.Session().IsAdmin {
		t.Error("admin flag set without a token")
	}
}

// Requirement: Restore authenticates from a persisted token without calling the backend.
func TestSessionManager_Restore(t *testing.T) {
	t.Run("persisted token", func(t *testing.T) {
		f := newSessionFixture()
		_ = f.tokens.SetToken(context.Background(), "persisted")

		ok, err := f.manager.Restore(context.Background())

		if err != nil || !ok {
			t.Fatalf("Restore() = %v, %v", ok, err)
		}
		s := f.store.Session()
		if !s.Authenticated || s.Token != "persisted" || s.IsAdmin {
			t.Errorf("unexpected session %+v", s)
		}
		if calls := f.backend.Calls(); len(calls) != 0 {
			t.Errorf("backend called: %v", calls)
		}
	})

	t.Run("nothing persisted", func(t *testing.T) {
		f := newSessionFixture()

		ok, err := f.manager.Restore(context.Background())

		if err != nil || ok {
			t.Fatalf("Restore() = %v, %v", ok, err)
		}
		if f.store.Session().Authenticated {
			t.Error("session should stay unauthenticated")
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newSessionFixture()
		f.tokens.getErr = errors.New("corrupt")

		if _, err := f.manager.Restore(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

// Requirement: logout twice yields the same cleared state as once, and always reports "Logged out".
func TestSessionManager_Logout_Idempotent(t *testing.T) {
	// Arrange
	f := newSessionFixture()
	f.backend.authResult = adminResult()
	f.backend.sightings = []json.RawMessage{
		json.RawMessage(`{"id":"1","created":"2024-06-01T00:00:00Z","lat":48,"lon":-123}`),
	}
	if _, err := f.manager.Login(context.Background(), "ada@example.org", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	_ = f.store.Refresh(context.Background())

	// Act
	first := f.manager.Logout(context.Background())
	once := f.store.State()
	second := f.manager.Logout(context.Background())
	twice := f.store.State()

	// Assert
	if first != core.MsgLoggedOut || second != core.MsgLoggedOut {
		t.Errorf("Logout() = %q, %q", first, second)
	}
	if once.Session != (core.Session{}) || twice.Session != once.Session {
		t.Errorf("session after logout: %+v then %+v", once.Session, twice.Session)
	}
	if len(once.Sightings) != 0 || len(twice.Sightings) != 0 {
		t.Error("sightings should be cleared")
	}
	if _, err := f.tokens.GetToken(context.Background()); !errors.Is(err, core.ErrTokenNotFound) {
		t.Error("persisted token should be cleared")
	}
}

// Requirement: logout never fails, even when storage does.
func TestSessionManager_Logout_StorageErrors(t *testing.T) {
	f := newSessionFixture()
	f.backend.authResult = adminResult()
	_, _ = f.manager.Login(context.Background(), "ada@example.org", "pw")
	f.tokens.clearErr = errors.New("read-only")

	if got := f.manager.Logout(context.Background()); got != core.MsgLoggedOut {
		t.Errorf("Logout() = %q", got)
	}
	if f.store.Session().Authenticated {
		t.Error("in-memory session should be cleared regardless")
	}
}

func TestSessionManager_Logout_NoSession(t *testing.T) {
	f := newSessionFixture()
	before := f.store.State()

	if got := f.manager.Logout(context.Background()); got != core.MsgLoggedOut {
		t.Errorf("Logout() = %q", got)
	}
	if after := f.store.State(); after.Session != before.Session {
		t.Errorf("state changed: %+v", after.Session)
	}
}

// Requirement: guarded routes need the in-memory session and a persisted token.
func TestSessionManager_Authorize(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()
	dashboard := core.Routes["Dashboard"]
	manage := core.Routes["ManageUsers"]

	if d := f.manager.Authorize(ctx, dashboard); d.RedirectTo != core.LoginPath {
		t.Errorf("guest on dashboard: %+v", d)
	}

	f.backend.authResult = &core.AuthResult{Token: "t", User: core.User{Role: "user"}}
	_, _ = f.manager.Login(ctx, "a@example.org", "pw")
	if d := f.manager.Authorize(ctx, dashboard); !d.Allow {
		t.Errorf("member on dashboard: %+v", d)
	}
	if d := f.manager.Authorize(ctx, manage); d.RedirectTo != core.LandingPath {
		t.Errorf("member on manage users: %+v", d)
	}

	// token wiped out of band
	_ = f.tokens.ClearToken(ctx)
	if d := f.manager.Authorize(ctx, dashboard); d.RedirectTo != core.LoginPath {
		t.Errorf("missing persisted token: %+v", d)
	}
}

type lastRender struct {
	calls    int
	features int
}

func (r *lastRender) Render(_ string, fc core.FeatureCollection) {
	r.calls++
	r.features = len(fc.Features)
}

// Requirement: logout clears the map as well as the dataset.
func TestSessionManager_Logout_ClearsMap(t *testing.T) {
	// Arrange
	backend := NewFakeBackend().WithAuth(adminResult(), nil).WithSightings(
		json.RawMessage(`{"id":"1","created":"2024-06-01T00:00:00Z","lat":48,"lon":-123}`),
		json.RawMessage(`{"id":"2","created":"2024-06-02T00:00:00Z","lat":48,"lon":-123}`),
	)
	sink := &lastRender{}
	now := func() time.Time { return time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC) }
	st := store.New(store.Options{Source: backend, Render: sink, Now: now})
	manager := NewSessionManager(st, backend, NewFakeTokenStorage(), nil)
	if _, err := manager.Login(context.Background(), "ada@example.org", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := st.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if sink.features != 2 {
		t.Fatalf("rendered features before logout = %d, want 2", sink.features)
	}
	calls := sink.calls

	// Act
	manager.Logout(context.Background())

	// Assert
	if sink.calls != calls+1 || sink.features != 0 {
		t.Errorf("after logout: calls %d -> %d, features %d", calls, sink.calls, sink.features)
	}
}
