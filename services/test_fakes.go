package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lborres/acartia/core"
)

// FakeTokenStorage is a test-only fake implementing core.TokenStorage.
// Error fields allow behavior injection.
type FakeTokenStorage struct {
	mu       sync.Mutex
	token    string
	present  bool
	getErr   error
	setErr   error
	clearErr error
}

func NewFakeTokenStorage() *FakeTokenStorage {
	return &FakeTokenStorage{}
}

func (f *FakeTokenStorage) GetToken(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	if !f.present {
		return "", core.ErrTokenNotFound
	}
	return f.token, nil
}

func (f *FakeTokenStorage) SetToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.token, f.present = token, true
	return nil
}

func (f *FakeTokenStorage) ClearToken(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	f.token, f.present = "", false
	return nil
}

// FakeBackend is a test-only fake implementing core.Backend. It records
// every call by operation name.
type FakeBackend struct {
	mu    sync.Mutex
	calls []string

	authResult *core.AuthResult
	authErr    error

	sightings    []json.RawMessage
	sightingsErr error

	users      []core.User
	requests   []core.User
	tokens     []core.APIToken
	created    *core.APIToken
	profile    *core.Profile
	accountErr error

	lastToken  string
	lastUserID string
	lastForm   map[string]string
}

var _ core.Backend = (*FakeBackend)(nil)

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

// WithSightings sets the records returned by FetchSightings
func (f *FakeBackend) WithSightings(records ...json.RawMessage) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sightings = records
	return f
}

// WithAuth sets the outcome of Authenticate
func (f *FakeBackend) WithAuth(result *core.AuthResult, err error) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authResult, f.authErr = result, err
	return f
}

func (f *FakeBackend) record(op, token, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	f.lastToken = token
	f.lastUserID = userID
}

func (f *FakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// LastToken is the bearer of the most recent call
func (f *FakeBackend) LastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastToken
}

func (f *FakeBackend) FetchSightings(_ context.Context, token string) ([]json.RawMessage, error) {
	f.record("sightings", token, "")
	return f.sightings, f.sightingsErr
}

func (f *FakeBackend) FetchExport(_ context.Context, token string) ([]byte, error) {
	f.record("export", token, "")
	return []byte("export"), f.sightingsErr
}

func (f *FakeBackend) Authenticate(_ context.Context, email, _ string) (*core.AuthResult, error) {
	f.record("auth", "", email)
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.authResult, nil
}

func (f *FakeBackend) FetchUsers(_ context.Context, token string) ([]core.User, error) {
	f.record("users", token, "")
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.users, nil
}

func (f *FakeBackend) FetchUserRequests(_ context.Context, token string) ([]core.User, error) {
	f.record("requests", token, "")
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.requests, nil
}

func (f *FakeBackend) FetchTokens(_ context.Context, token, userID string) ([]core.APIToken, error) {
	f.record("tokens", token, userID)
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.tokens, nil
}

func (f *FakeBackend) CreateToken(_ context.Context, token, userID, name string) (*core.APIToken, error) {
	f.record("create-token", token, userID)
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	f.mu.Lock()
	f.tokens = append(f.tokens, *f.created)
	f.mu.Unlock()
	return f.created, nil
}

func (f *FakeBackend) UpdateProfile(_ context.Context, token, userID string, form map[string]string) (*core.Profile, error) {
	f.record("profile", token, userID)
	f.mu.Lock()
	f.lastForm = form
	f.mu.Unlock()
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.profile, nil
}
