package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lborres/acartia/adapters/memory"
	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/replication"
	"github.com/lborres/acartia/store"
)

// execute runs the root command against a memory-backed config
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeAgainst(t, "http://127.0.0.1:1", args...)
}

func TestKeygenCmd(t *testing.T) {
	out, err := execute(t, "keygen")
	if err != nil {
		t.Fatalf("keygen error = %v", err)
	}
	key := strings.TrimSpace(out)
	if key == "" || strings.ContainsAny(key, " \t") {
		t.Errorf("key = %q", out)
	}
}

// Requirement: guarded pages redirect a signed-out user to the login page.
func TestRouteCmd(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{route: "ManageUsers", want: "redirect /login"},
		{route: "Login", want: "allow /login"},
		{route: "DataExplorer", want: "allow /data-explorer"},
	}

	for _, test := range tests {
		t.Run(test.route, func(t *testing.T) {
			out, err := execute(t, "route", test.route)
			if err != nil {
				t.Fatalf("route error = %v", err)
			}
			if strings.TrimSpace(out) != test.want {
				t.Errorf("output = %q, want %q", out, test.want)
			}
		})
	}

	if _, err := execute(t, "route", "Nowhere"); err == nil {
		t.Error("unknown route: error = nil")
	}
}

func TestSightingsOptions_Mutations(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)

	t.Run("no flags only re-applies", func(t *testing.T) {
		m := sightingsOptions{}.mutations(now)
		if len(m) != 1 {
			t.Fatalf("mutations = %d, want 1", len(m))
		}
		if _, ok := m[0].(store.ApplyMapFilters); !ok {
			t.Errorf("mutation = %T", m[0])
		}
	})

	t.Run("every flag", func(t *testing.T) {
		m := sightingsOptions{species: "Orca", contributor: "Ferry", days: 3, verified: true}.mutations(now)
		if len(m) != 6 {
			t.Fatalf("mutations = %d, want 6", len(m))
		}
		begin, ok := m[2].(store.SetMapFilterDateBegin)
		if !ok || !begin.Date.Equal(time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("date begin = %+v", m[2])
		}
		if _, ok := m[len(m)-1].(store.ApplyMapFilters); !ok {
			t.Errorf("last mutation = %T, want ApplyMapFilters", m[len(m)-1])
		}
	})
}

func TestParseForm(t *testing.T) {
	form, err := parseForm([]string{"name=Ada", " email =ada@example.org", "bio=a=b"})
	if err != nil {
		t.Fatalf("parseForm() error = %v", err)
	}
	if form["name"] != "Ada" || form["email"] != "ada@example.org" || form["bio"] != "a=b" {
		t.Errorf("form = %v", form)
	}

	for _, bad := range [][]string{nil, {"novalue"}, {"=x"}} {
		if _, err := parseForm(bad); err == nil {
			t.Errorf("parseForm(%q) error = nil", bad)
		}
	}
}

func TestPrintSightings(t *testing.T) {
	s := core.Sighting{
		ID:          "1",
		Timestamp:   time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC),
		Species:     "Orca",
		Contributor: "Ferry",
		Location:    core.Location{Lat: 48.5, Lon: -123.1},
	}
	var out bytes.Buffer

	if err := printSightings(&out, []core.Sighting{s}, []core.Sighting{s, s}); err != nil {
		t.Fatalf("printSightings() error = %v", err)
	}
	for _, want := range []string{"SPECIES", "2024-06-01 08:30:00", "Orca", "1 of 2 sightings"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

// Requirement: the offline listing shows the merged view of stored entries.
func TestStoredDocuments(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	address, _ := replication.NewAddress("sightings")

	put, _ := replication.NewEntry(address.String(), core.OpPut, "k1", json.RawMessage(`{"v":1}`), core.Clock{ID: "a", Time: 1}, nil)
	update, _ := replication.NewEntry(address.String(), core.OpPut, "k1", json.RawMessage(`{"v":2}`), core.Clock{ID: "a", Time: 2}, []string{put.Hash})
	other, _ := replication.NewEntry(address.String(), core.OpPut, "k2", json.RawMessage(`{"v":3}`), core.Clock{ID: "a", Time: 3}, []string{update.Hash})
	del, _ := replication.NewEntry(address.String(), core.OpDel, "k2", nil, core.Clock{ID: "a", Time: 4}, []string{other.Hash})
	if err := s.PutEntries(ctx, address.String(), []*core.Entry{put, update, other, del}); err != nil {
		t.Fatalf("PutEntries() error = %v", err)
	}

	docs, err := storedDocuments(ctx, s, "sightings")
	if err != nil {
		t.Fatalf("storedDocuments() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "k1" || string(docs[0].Value) != `{"v":2}` {
		t.Errorf("docs = %+v", docs)
	}

	if _, err := storedDocuments(ctx, s, "bad/name"); err == nil {
		t.Error("invalid collection: error = nil")
	}
}

type fixedStatus struct{}

func (fixedStatus) Status() core.ReplicationStatus {
	return core.ReplicationStatus{State: core.StateSynced, Documents: 3}
}

func (fixedStatus) Peers() []core.PeerInfo {
	return []core.PeerInfo{{ID: "p1", URL: "http://10.0.0.2:4801"}}
}

func TestStatusRoutes(t *testing.T) {
	r := routes(fixedStatus{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Replication.State != core.StateSynced || body.Replication.Documents != 3 || len(body.Peers) != 1 {
		t.Errorf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "acartia_replication_entries_joined_total") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

// accountAPI answers sign-in and the account routes, recording request paths
type accountAPI struct {
	mu    sync.Mutex
	paths []string
}

func newAccountAPI(t *testing.T) (*accountAPI, string) {
	t.Helper()
	api := &accountAPI{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			api.mu.Lock()
			api.paths = append(api.paths, r.Method+" "+r.URL.Path)
			api.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/v1/auth/", func(w http.ResponseWriter, r *http.Request) {
		email, pass, ok := r.BasicAuth()
		if !ok || pass != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(core.AuthResult{
			Token: "issued",
			User:  core.User{ID: "u1", Email: email, Role: "admin"},
		})
	})
	r.Get("/v1/users", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"u1","name":"Ada","email":"ada@example.org","role":"admin"}]`))
	})
	r.Get("/v1/users/{id}/tokens", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"t1","name":"ingest","createdAt":"2024-06-01T00:00:00Z"}]`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api, srv.URL
}

func (a *accountAPI) requested(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.paths {
		if p == path {
			return true
		}
	}
	return false
}

// executeAgainst runs the root command with the backend pointed at baseURL
func executeAgainst(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ACARTIA_STORAGE_DRIVER", "memory")
	t.Setenv("ACARTIA_LOG_LEVEL", "error")
	t.Setenv("ACARTIA_API_BASE_URL", baseURL)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// Requirement: account commands sign in within the command before calling
// account routes, so the user ID is known.
func TestAccountCmds_SignIn(t *testing.T) {
	t.Setenv("ACARTIA_EMAIL", "")

	t.Run("users without email", func(t *testing.T) {
		api, url := newAccountAPI(t)
		_, err := executeAgainst(t, url, "users")
		if err == nil || !strings.Contains(err.Error(), "--email") {
			t.Fatalf("error = %v, want missing email", err)
		}
		if api.requested("GET /v1/users") {
			t.Error("users requested without a sign-in")
		}
	})

	t.Run("users with password from env", func(t *testing.T) {
		api, url := newAccountAPI(t)
		t.Setenv("ACARTIA_PASSWORD", "secret")
		out, err := executeAgainst(t, url, "users", "--email", "ada@example.org")
		if err != nil {
			t.Fatalf("users error = %v", err)
		}
		if !api.requested("POST /v1/auth/") || !strings.Contains(out, "ada@example.org") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("tokens list uses the signed-in user", func(t *testing.T) {
		api, url := newAccountAPI(t)
		t.Setenv("ACARTIA_PASSWORD", "secret")
		out, err := executeAgainst(t, url, "tokens", "list", "--email", "ada@example.org")
		if err != nil {
			t.Fatalf("tokens list error = %v", err)
		}
		if !api.requested("GET /v1/users/u1/tokens") || !strings.Contains(out, "ingest") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		api, url := newAccountAPI(t)
		_, err := executeAgainst(t, url, "tokens", "list", "--email", "ada@example.org", "--password", "nope")
		if err == nil {
			t.Fatal("error = nil, want a failed sign-in")
		}
		if api.requested("GET /v1/users/u1/tokens") {
			t.Error("tokens requested after a failed sign-in")
		}
	})
}
