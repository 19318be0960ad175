package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/models"
	"github.com/atelierhub/identity-core/internal/session"
	"github.com/atelierhub/identity-core/internal/validation"
)

// SessionTTL is the lifetime of server sessions issued at login
const SessionTTL = 30 * 24 * time.Hour

// AuthHandler handles the login entry point. Callers are trusted provider
// adapters that have already completed the provider's own auth flow; this
// endpoint only consolidates the verified identity.
type AuthHandler struct {
	consolidation *identity.ConsolidationService
	sessions      session.Store
	cookieName    string
	secureCookies bool
	logger        *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(consolidation *identity.ConsolidationService, sessions session.Store, cookieName string, secureCookies bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		consolidation: consolidation,
		sessions:      sessions,
		cookieName:    cookieName,
		secureCookies: secureCookies,
		logger:        log,
	}
}

// RegisterRoutes registers auth routes on the given router.
// The router should already have the /api/v1/auth prefix.
func (h *AuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/logout", h.Logout).Methods("POST")
}

// LoginRequest is a provider-verified login event
type LoginRequest struct {
	Provider   string               `json:"provider" validate:"required,auth_provider"`
	ProviderID string               `json:"provider_id" validate:"required,max=255"`
	Profile    *models.LoginProfile `json:"profile,omitempty"`
}

// LoginResponse carries the consolidated user and the issued session
type LoginResponse struct {
	User      *models.CanonicalUser `json:"user"`
	SessionID string                `json:"session_id"`
}

// Login consolidates a provider login into a canonical user and issues a
// server session for it.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body", nil)
		return
	}
	if err := validation.Validate.Struct(req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", validationMessage(err), nil)
		return
	}
	if req.Profile != nil {
		if err := validation.Validate.Struct(req.Profile); err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", validationMessage(err), nil)
			return
		}
	}

	ctx := r.Context()
	user, err := h.consolidation.ConsolidateOnLogin(ctx, req.Provider, req.ProviderID, req.Profile)
	if err != nil {
		var conflict *identity.ConflictError
		if errors.As(err, &conflict) {
			respondJSONError(w, http.StatusConflict, "Conflict", "Identity is already linked to another account", conflictExtra(conflict))
			return
		}
		h.logger.Error("login_consolidation_failed",
			zap.String("provider", strings.ToLower(req.Provider)),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Login failed", nil)
		return
	}

	sess := models.Session{
		SessionID: uuid.NewString(),
		UserID:    user.ID.String(),
		ExpiresAt: time.Now().Add(SessionTTL),
	}
	if err := h.sessions.Create(ctx, sess); err != nil {
		h.logger.Error("session_create_failed", zap.Error(err))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Login failed", nil)
		return
	}

	http.SetCookie(w, h.sessionCookie(sess.SessionID, sess.ExpiresAt))
	respondJSON(w, http.StatusOK, LoginResponse{User: user, SessionID: sess.SessionID})
}

// Logout deletes the server session named by the cookie, if any
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cookieName)
	if err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("session_delete_failed", zap.Error(err))
		}
	}

	expired := h.sessionCookie("", time.Unix(0, 0))
	expired.MaxAge = -1
	http.SetCookie(w, expired)
	respondJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (h *AuthHandler) sessionCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// conflictExtra shapes the machine-readable conflict body
func conflictExtra(c *identity.ConflictError) map[string]any {
	return map[string]any{
		"provider":         c.Provider,
		"provider_id":      c.ProviderID,
		"existing_user_id": c.ExistingUserID.String(),
	}
}

// validationMessage flattens validator errors into a client message
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return "Invalid fields: " + strings.Join(fields, ", ")
	}
	return "Validation failed"
}
