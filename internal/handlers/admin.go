package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/logger"
)

// AdminHandler exposes operator lookups. Routes must sit behind RequireAdmin.
type AdminHandler struct {
	resolver      *identity.Resolver
	consolidation *identity.ConsolidationService
	logger        *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(resolver *identity.Resolver, consolidation *identity.ConsolidationService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{resolver: resolver, consolidation: consolidation, logger: log}
}

// RegisterRoutes registers admin routes on the given router.
// The router should already have the /api/v1/admin prefix.
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
}

// GetUser resolves any identifier (uuid, provider id, email, phone) to the
// canonical user and its linked identities.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["id"]

	user, err := h.resolver.Resolve(r.Context(), identifier)
	if errors.Is(err, identity.ErrNotFound) {
		respondJSONError(w, http.StatusNotFound, "Not Found", "No user matches that identifier", nil)
		return
	}
	if err != nil {
		h.logger.Error("admin_lookup_failed",
			zap.String("identifier", logger.SanitizeIdentifier(identifier)),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Lookup failed", nil)
		return
	}

	identities, err := h.consolidation.ListIdentities(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("admin_identity_list_failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Lookup failed", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"identities": identities,
	})
}
