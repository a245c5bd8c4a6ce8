package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/andy6609/chat-relay/internal/identity"
	"github.com/andy6609/chat-relay/internal/presence"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticOnline []presence.Identity

func (s staticOnline) Online() []presence.Identity { return s }

type fixedIssuer struct{}

func (fixedIssuer) Issue(username string) (string, time.Time, error) {
	return "token-" + username, time.Unix(0, 0), nil
}

type brokenStore struct{ identity.Store }

func (brokenStore) SearchUsers(context.Context, string) ([]string, error) {
	return nil, errors.New("db down")
}

func newTestRouter(t *testing.T, users identity.Store) *gin.Engine {
	t.Helper()
	return NewRouter(Deps{
		Users:  users,
		Tokens: fixedIssuer{},
		Online: staticOnline{"alice", "bob"},
	})
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	r := newTestRouter(t, identity.NewMemoryStore(bcrypt.MinCost))

	rec := doJSON(t, r, http.MethodPost, "/register", credentials{Username: "alice", Password: "pw"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", rec.Code, rec.Body)
	}

	rec = doJSON(t, r, http.MethodPost, "/register", credentials{Username: "alice", Password: "pw"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/login", credentials{Username: "alice", Password: "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if resp["username"] != "alice" || resp["token"] != "token-alice" {
		t.Fatalf("unexpected login response: %v", resp)
	}

	rec = doJSON(t, r, http.MethodPost, "/login", credentials{Username: "alice", Password: "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}
}

func TestRegisterMissingFields(t *testing.T) {
	r := newTestRouter(t, identity.NewMemoryStore(bcrypt.MinCost))

	rec := doJSON(t, r, http.MethodPost, "/register", credentials{Username: "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodPost, "/login", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty login, got %d", rec.Code)
	}
}

func TestSearchUsers(t *testing.T) {
	store := identity.NewMemoryStore(bcrypt.MinCost)
	for _, n := range []string{"alice", "alfred", "bob"} {
		if err := store.Register(context.Background(), n, "pw"); err != nil {
			t.Fatal(err)
		}
	}
	r := newTestRouter(t, store)

	rec := doJSON(t, r, http.MethodGet, "/users?search=al", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []userEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Username != "alfred" || got[1].Username != "alice" {
		t.Fatalf("unexpected search result: %+v", got)
	}

	rec = doJSON(t, r, http.MethodGet, "/users", nil)
	got = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 3 {
		t.Fatalf("empty search should list all users, got %+v", got)
	}
}

func TestSearchUsersStoreError(t *testing.T) {
	r := newTestRouter(t, brokenStore{})
	rec := doJSON(t, r, http.MethodGet, "/users?search=a", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestOnlineAndHealth(t *testing.T) {
	r := newTestRouter(t, identity.NewMemoryStore(bcrypt.MinCost))

	rec := doJSON(t, r, http.MethodGet, "/online", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Users []string `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Users) != 2 || body.Users[0] != "alice" {
		t.Fatalf("unexpected online body: %+v", body)
	}

	rec = doJSON(t, r, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	const origin = "http://localhost:5173"
	r := NewRouter(Deps{
		Users:          identity.NewMemoryStore(bcrypt.MinCost),
		Tokens:         fixedIssuer{},
		Online:         staticOnline{"alice"},
		AllowedOrigins: []string{origin},
	})

	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
		t.Fatalf("preflight: unexpected allow-origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", origin)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("users: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
		t.Fatalf("users: unexpected allow-origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign origin: expected 403, got %d", rec.Code)
	}
}

func TestCORSAllowsAnyOriginByDefault(t *testing.T) {
	r := newTestRouter(t, identity.NewMemoryStore(bcrypt.MinCost))

	req := httptest.NewRequest(http.MethodGet, "/online", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow-origin, got %q", got)
	}
}
