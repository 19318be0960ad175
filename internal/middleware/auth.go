package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/database"
	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/logger"
	"github.com/atelierhub/identity-core/internal/models"
	"github.com/atelierhub/identity-core/internal/request"
	"github.com/atelierhub/identity-core/internal/session"
)

// AuthMethod names the strategy that authenticated a request
type AuthMethod string

const (
	// AuthMethodBearer is a verified JWT in the Authorization header
	AuthMethodBearer AuthMethod = "bearer"
	// AuthMethodSession is a server session resolved from the session cookie
	AuthMethodSession AuthMethod = "session"
	// AuthMethodLegacySession is a pre-migration session row in the store
	AuthMethodLegacySession AuthMethod = "legacy_session"
)

// LegacyCookieName is the cookie the pre-migration stack issued
const LegacyCookieName = "connect.sid"

// AuthContext is the request-scoped result of the authentication chain.
// An unauthenticated request carries the zero AuthContext: absence is a
// valid terminal state, not an error.
type AuthContext struct {
	UserID          string
	User            *models.CanonicalUser
	Method          AuthMethod
	IsAuthenticated bool
}

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthFromContext returns the auth context populated by the middleware, or
// the anonymous zero value when the middleware did not run.
func AuthFromContext(r *http.Request) *AuthContext {
	ac, ok := r.Context().Value(authContextKey).(*AuthContext)
	if !ok {
		return &AuthContext{}
	}
	return ac
}

// WithAuthContext attaches an auth context. Exported for handler tests.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// TokenVerifier validates a bearer token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*models.JWTClaims, error)
}

// UserResolver maps any identifier to a canonical user
type UserResolver interface {
	Resolve(ctx context.Context, identifier string) (*models.CanonicalUser, error)
}

// AuthMiddleware populates the request's AuthContext by trying strategies in
// fixed order, first success wins: bearer JWT, then the session cookie, then
// the legacy session table. It never rejects a request itself; the gates
// below do that.
type AuthMiddleware struct {
	verifier   TokenVerifier
	sessions   session.Store
	legacy     database.LegacySessionStore
	resolver   UserResolver
	cookieName string
	logger     *zap.Logger
}

// NewAuthMiddleware creates the populating middleware
func NewAuthMiddleware(
	verifier TokenVerifier,
	sessions session.Store,
	legacy database.LegacySessionStore,
	resolver UserResolver,
	cookieName string,
	log *zap.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:   verifier,
		sessions:   sessions,
		legacy:     legacy,
		resolver:   resolver,
		cookieName: cookieName,
		logger:     log,
	}
}

// Populate runs the strategy chain and attaches the result
func (a *AuthMiddleware) Populate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ac := a.tryBearer(ctx, r)
		if ac == nil {
			ac = a.trySession(ctx, r)
		}
		if ac == nil {
			ac = a.tryLegacySession(ctx, r)
		}
		if ac == nil {
			ac = &AuthContext{}
		}

		next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, ac)))
	})
}

func (a *AuthMiddleware) tryBearer(ctx context.Context, r *http.Request) *AuthContext {
	tokenString := request.BearerToken(r)
	if tokenString == "" || a.verifier == nil {
		return nil
	}

	claims, err := a.verifier.Verify(ctx, tokenString)
	if err != nil {
		a.logger.Debug("bearer_verification_failed", zap.String("error", logger.SanitizeError(err)))
		return nil
	}

	return a.resolveSubject(ctx, claims.Sub, AuthMethodBearer)
}

func (a *AuthMiddleware) trySession(ctx context.Context, r *http.Request) *AuthContext {
	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" || a.sessions == nil {
		return nil
	}

	sess, err := a.sessions.Get(ctx, cookie.Value)
	if err != nil {
		a.logger.Warn("session_store_unavailable", zap.Error(err))
		return nil
	}
	if sess == nil || sess.Expired(time.Now()) {
		return nil
	}

	return a.resolveSubject(ctx, sess.UserID, AuthMethodSession)
}

func (a *AuthMiddleware) tryLegacySession(ctx context.Context, r *http.Request) *AuthContext {
	cookie, err := r.Cookie(LegacyCookieName)
	if err != nil || cookie.Value == "" || a.legacy == nil {
		return nil
	}

	sess, err := a.legacy.GetByID(ctx, cookie.Value)
	if err != nil {
		a.logger.Warn("legacy_session_lookup_failed", zap.Error(err))
		return nil
	}
	if sess == nil {
		return nil
	}

	return a.resolveSubject(ctx, sess.UserID, AuthMethodLegacySession)
}

// resolveSubject turns a strategy's subject into a populated context. A
// resolution miss fails the strategy quietly; only the subject's absence
// from the store is interesting enough to log.
func (a *AuthMiddleware) resolveSubject(ctx context.Context, subject string, method AuthMethod) *AuthContext {
	user, err := a.resolver.Resolve(ctx, subject)
	if errors.Is(err, identity.ErrNotFound) {
		a.logger.Info("auth_subject_unknown",
			zap.String("method", string(method)),
			zap.String("subject", logger.SanitizeIdentifier(subject)),
		)
		return nil
	}
	if err != nil {
		a.logger.Warn("auth_resolution_failed",
			zap.String("method", string(method)),
			zap.Error(err),
		)
		return nil
	}

	return &AuthContext{
		UserID:          user.ID.String(),
		User:            user,
		Method:          method,
		IsAuthenticated: true,
	}
}

// RequireAuth rejects unauthenticated requests with 401. It layers on top
// of Populate and does not run any strategy itself.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !AuthFromContext(r).IsAuthenticated {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects unauthenticated requests with 401 and authenticated
// non-admins with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := AuthFromContext(r)
		if !ac.IsAuthenticated {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if ac.User == nil || !ac.User.IsAdmin {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success": false,
		"error":   message,
	}
	_ = json.NewEncoder(w).Encode(response)
}
