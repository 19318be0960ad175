package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/database"
	"github.com/atelierhub/identity-core/internal/logger"
	"github.com/atelierhub/identity-core/internal/models"
)

// Resolver resolves any identifier (user id, provider id, email or phone)
// to a canonical user via a fixed precedence chain. It is read-only: repeated
// calls are idempotent and side-effect-free apart from cache fills.
//
// Precedence, first match wins with no fallthrough after a hit:
//  1. direct primary-key match
//  2. identity table by provider id, across all providers
//  3. email, only when the identifier is syntactically an email
//  4. phone variants, only when the identifier is syntactically a phone
type Resolver struct {
	users              database.UserStore
	identities         database.IdentityStore
	cache              *CredentialCache
	defaultCountryCode string
	logger             *zap.Logger
}

// NewResolver creates a resolver. The cache may be nil to run uncached.
func NewResolver(users database.UserStore, identities database.IdentityStore, cache *CredentialCache, defaultCountryCode string, log *zap.Logger) *Resolver {
	return &Resolver{
		users:              users,
		identities:         identities,
		cache:              cache,
		defaultCountryCode: defaultCountryCode,
		logger:             log,
	}
}

// Resolve maps the identifier to a canonical user. A miss is ErrNotFound;
// only store unavailability is a real failure.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*models.CanonicalUser, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}

	if user := r.cache.Get(identifier); user != nil {
		return user, nil
	}

	user, err := r.resolveFromStore(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		r.logger.Debug("resolution_miss",
			zap.String("identifier", logger.SanitizeIdentifier(identifier)),
		)
		return nil, ErrNotFound
	}

	r.cache.Put(identifier, user, 0)
	return user, nil
}

func (r *Resolver) resolveFromStore(ctx context.Context, identifier string) (*models.CanonicalUser, error) {
	// 1. Direct primary-key match.
	if id, err := uuid.Parse(identifier); err == nil {
		user, err := r.users.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve by id: %w", err)
		}
		if user != nil {
			return user, nil
		}
	}

	// 2. Provider id across all providers. The identifier is treated as an
	// opaque external id here; provider-scoped lookups use GetByProvider.
	identity, err := r.identities.GetByProviderIDAnyProvider(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve by provider id: %w", err)
	}
	if identity != nil {
		user, err := r.users.GetByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user for identity: %w", err)
		}
		if user != nil {
			return user, nil
		}
		// Identity row pointing at a missing user is an integrity problem
		// worth surfacing in logs, but for the caller it is still a miss.
		r.logger.Error("identity_without_user",
			zap.String("provider", identity.Provider),
			zap.String("user_id", identity.UserID.String()),
		)
	}

	// 3. Email, only when the identifier can be one.
	if looksLikeEmail(identifier) {
		user, err := r.users.GetByEmail(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve by email: %w", err)
		}
		if user != nil {
			return user, nil
		}
	}

	// 4. Phone variants, only when the identifier can be a number.
	if looksLikePhone(identifier) {
		user, err := r.users.GetByPhoneVariants(ctx, PhoneVariants(identifier, r.defaultCountryCode))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve by phone: %w", err)
		}
		if user != nil {
			return user, nil
		}
	}

	return nil, nil
}

// GetByProvider is the single-provider lookup the consolidation service uses
// to avoid the full precedence chain. It is a pure store read: no cache,
// no side effects. Absence is a normal (nil, nil) return.
func (r *Resolver) GetByProvider(ctx context.Context, provider, providerID string) (*models.CanonicalUser, error) {
	identity, err := r.identities.GetByProvider(ctx, provider, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up provider identity: %w", err)
	}
	if identity == nil {
		return nil, nil
	}
	user, err := r.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for identity: %w", err)
	}
	return user, nil
}
