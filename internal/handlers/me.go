package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/middleware"
	"github.com/atelierhub/identity-core/internal/models"
	"github.com/atelierhub/identity-core/internal/validation"
)

// MeHandler serves the authenticated user's own account and identity links
type MeHandler struct {
	consolidation *identity.ConsolidationService
	logger        *zap.Logger
}

// NewMeHandler creates a new me handler
func NewMeHandler(consolidation *identity.ConsolidationService, log *zap.Logger) *MeHandler {
	return &MeHandler{consolidation: consolidation, logger: log}
}

// RegisterRoutes registers routes on the given router.
// The router should already have the /api/v1/me prefix and sit behind
// RequireAuth.
func (h *MeHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.GetMe).Methods("GET")
	r.HandleFunc("", h.UpdateMe).Methods("PATCH")
	r.HandleFunc("/identities", h.ListIdentities).Methods("GET")
	r.HandleFunc("/identities", h.LinkIdentity).Methods("POST")
	r.HandleFunc("/identities/{provider}", h.UnlinkIdentity).Methods("DELETE")
	r.HandleFunc("/identities/{id}/primary", h.SetPrimaryIdentity).Methods("PUT")
}

// GetMe returns the canonical user for the authenticated request
func (h *MeHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r)
	respondJSON(w, http.StatusOK, map[string]any{
		"user":        ac.User,
		"auth_method": ac.Method,
	})
}

// UpdateMeRequest carries optional profile fields. Absent fields are left
// untouched; the write path drops fields the live schema does not have.
type UpdateMeRequest struct {
	FullName *string `json:"full_name,omitempty" validate:"omitempty,max=255"`
	Rank     *string `json:"rank,omitempty" validate:"omitempty,max=100"`
	City     *string `json:"city,omitempty" validate:"omitempty,max=100"`
	Country  *string `json:"country,omitempty" validate:"omitempty,max=100"`
}

// UpdateMe applies a partial profile update
func (h *MeHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r)

	var req UpdateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body", nil)
		return
	}
	if err := validation.Validate.Struct(req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", validationMessage(err), nil)
		return
	}

	fields := make(map[string]any)
	if req.FullName != nil {
		fields["full_name"] = validation.SanitizeText(*req.FullName)
	}
	if req.Rank != nil {
		fields["rank"] = validation.SanitizeText(*req.Rank)
	}
	if req.City != nil {
		fields["city"] = validation.SanitizeText(*req.City)
	}
	if req.Country != nil {
		fields["country"] = validation.SanitizeText(*req.Country)
	}
	if len(fields) == 0 {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "No fields to update", nil)
		return
	}

	if err := h.consolidation.UpdateUserProfile(r.Context(), ac.User.ID, fields); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			respondJSONError(w, http.StatusNotFound, "Not Found", "User not found", nil)
			return
		}
		h.logger.Error("profile_update_failed", zap.String("user_id", ac.UserID), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to update profile", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// ListIdentities lists the user's linked identities, primary first
func (h *MeHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r)

	identities, err := h.consolidation.ListIdentities(r.Context(), ac.User.ID)
	if err != nil {
		h.logger.Error("identity_list_failed", zap.String("user_id", ac.UserID), zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to list identities", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"identities": identities})
}

// LinkIdentity attaches a provider identity to the authenticated user
func (h *MeHandler) LinkIdentity(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r)

	var link models.IdentityLink
	if err := decodeJSON(r, &link); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body", nil)
		return
	}
	if err := validation.Validate.Struct(link); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", validationMessage(err), nil)
		return
	}

	created, err := h.consolidation.LinkIdentity(r.Context(), ac.User.ID, &link)
	if err != nil {
		var conflict *identity.ConflictError
		if errors.As(err, &conflict) {
			respondJSONError(w, http.StatusConflict, "Conflict", "Identity is already linked to another account", conflictExtra(conflict))
			return
		}
		h.logger.Error("identity_link_failed",
			zap.String("user_id", ac.UserID),
			zap.String("provider", link.Provider),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to link identity", nil)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// UnlinkIdentity removes the identity for the named provider
func (h *MeHandler) UnlinkIdentity(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r)
	provider := mux.Vars(r)["provider"]

	if err := validation.ValidateProvider(provider); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}

	err := h.consolidation.UnlinkIdentity(r.Context(), ac.User.ID, provider)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"unlinked": true})
	case errors.Is(err, identity.ErrLastIdentity):
		respondJSONError(w, http.StatusConflict, "Conflict", "Cannot unlink the last identity", nil)
	case errors.Is(err, identity.ErrNotFound):
		respondJSONError(w, http.StatusNotFound, "Not Found", "No identity for that provider", nil)
	default:
		h.logger.Error("identity_unlink_failed",
			zap.String("user_id", ac.UserID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to unlink identity", nil)
	}
}

// SetPrimaryIdentity marks one linked identity as primary
func (h *MeHandler) SetPrimaryIdentity(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AuthFromContext(r)

	identityID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid identity id", nil)
		return
	}

	err = h.consolidation.SetPrimaryIdentity(r.Context(), ac.User.ID, identityID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"primary": identityID.String()})
	case errors.Is(err, identity.ErrNotFound):
		respondJSONError(w, http.StatusNotFound, "Not Found", "Identity not found for user", nil)
	default:
		h.logger.Error("set_primary_failed",
			zap.String("user_id", ac.UserID),
			zap.String("identity_id", identityID.String()),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to set primary identity", nil)
	}
}
