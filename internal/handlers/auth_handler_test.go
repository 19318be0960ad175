package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/events"
	"github.com/atelierhub/identity-core/internal/identity"
)

const testCookieName = "idcore_session"

func newAuthFixture(t *testing.T) (*AuthHandler, *memStore, *memSessions) {
	t.Helper()
	store := newMemStore()
	resolver := identity.NewResolver(store, store, nil, "34", zap.NewNop())
	svc := identity.NewConsolidationService(store, store, resolver, nil, events.NopPublisher{}, "34", zap.NewNop())
	sessions := newMemSessions()
	return NewAuthHandler(svc, sessions, testCookieName, false, zap.NewNop()), store, sessions
}

func loginRouter(h *AuthHandler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r.PathPrefix("/api/v1/auth").Subrouter())
	return r
}

func decodeEnvelope(t *testing.T, body string) map[string]any {
	t.Helper()
	var envelope map[string]any
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, body)
	}
	return envelope
}

func TestLoginCreatesUserAndSession(t *testing.T) {
	t.Parallel()

	h, store, sessions := newAuthFixture(t)
	router := loginRouter(h)

	body := `{"provider":"google","provider_id":"g-123","profile":{"email":"ada@example.com","name":"Ada"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	envelope := decodeEnvelope(t, rr.Body.String())
	data := envelope["data"].(map[string]any)
	if data["session_id"] == "" {
		t.Error("no session id returned")
	}

	var foundCookie bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == testCookieName && c.Value != "" && c.HttpOnly {
			foundCookie = true
		}
	}
	if !foundCookie {
		t.Error("session cookie not set")
	}

	if len(store.users) != 1 {
		t.Fatalf("users = %d, want 1", len(store.users))
	}
	if len(sessions.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions.sessions))
	}
}

func TestLoginSecondProviderSameEmailLinks(t *testing.T) {
	t.Parallel()

	h, store, _ := newAuthFixture(t)
	router := loginRouter(h)

	for _, body := range []string{
		`{"provider":"google","provider_id":"g-1","profile":{"email":"ada@example.com"}}`,
		`{"provider":"linkedin","provider_id":"li-1","profile":{"email":"ada@example.com"}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
	}

	if len(store.users) != 1 {
		t.Fatalf("users = %d, want 1 (email should link, not create)", len(store.users))
	}
	if len(store.identities) != 2 {
		t.Fatalf("identities = %d, want 2", len(store.identities))
	}
}

func TestLoginRejectsBadPayloads(t *testing.T) {
	t.Parallel()

	h, _, _ := newAuthFixture(t)
	router := loginRouter(h)

	tests := []struct {
		name string
		body string
	}{
		{"missing provider", `{"provider_id":"g-1"}`},
		{"unknown provider", `{"provider":"github","provider_id":"g-1"}`},
		{"invalid email", `{"provider":"google","provider_id":"g-1","profile":{"email":"not-an-email"}}`},
		{"unknown field", `{"provider":"google","provider_id":"g-1","surprise":true}`},
		{"not json", `provider=google`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestLogoutDeletesSessionAndExpiresCookie(t *testing.T) {
	t.Parallel()

	h, _, sessions := newAuthFixture(t)
	router := loginRouter(h)

	login := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"provider":"google","provider_id":"g-1"}`))
	loginRR := httptest.NewRecorder()
	router.ServeHTTP(loginRR, login)
	if loginRR.Code != http.StatusOK {
		t.Fatalf("login status = %d", loginRR.Code)
	}

	logout := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	for _, c := range loginRR.Result().Cookies() {
		logout.AddCookie(c)
	}
	logoutRR := httptest.NewRecorder()
	router.ServeHTTP(logoutRR, logout)

	if logoutRR.Code != http.StatusOK {
		t.Fatalf("logout status = %d", logoutRR.Code)
	}
	if len(sessions.sessions) != 0 {
		t.Fatalf("sessions = %d, want 0 after logout", len(sessions.sessions))
	}
}
