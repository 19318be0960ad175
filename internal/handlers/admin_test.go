package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/events"
	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/models"
)

func TestAdminGetUserResolvesAnyIdentifier(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	resolver := identity.NewResolver(store, store, nil, "34", zap.NewNop())
	svc := identity.NewConsolidationService(store, store, resolver, nil, events.NopPublisher{}, "34", zap.NewNop())

	user, err := svc.ConsolidateOnLogin(context.Background(), "google", "g-42",
		&models.LoginProfile{Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("seed login failed: %v", err)
	}

	h := NewAdminHandler(resolver, svc, zap.NewNop())
	router := mux.NewRouter()
	h.RegisterRoutes(router.PathPrefix("/api/v1/admin").Subrouter())

	for _, identifier := range []string{user.ID.String(), "g-42", "ada@example.com"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/"+identifier, nil)
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("lookup by %q status = %d: %s", identifier, rr.Code, rr.Body.String())
		}
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/nobody@example.com", nil)
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown identifier status = %d, want 404", rr.Code)
	}
}
