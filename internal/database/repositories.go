package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhub/identity-core/internal/models"
)

// UserStore is the read/write surface the identity core needs from the user
// table. The interface exists so resolver and consolidation tests can run
// against in-memory fakes.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalUser, error)
	GetByEmail(ctx context.Context, email string) (*models.CanonicalUser, error)
	GetByPhoneVariants(ctx context.Context, variants []string) (*models.CanonicalUser, error)
	Create(ctx context.Context, user *models.CanonicalUser) error
	UpdateLoginStats(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateProfile(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

// IdentityStore is the surface the identity core needs from the identity
// table.
type IdentityStore interface {
	GetByProvider(ctx context.Context, provider, providerID string) (*models.Identity, error)
	GetByProviderIDAnyProvider(ctx context.Context, providerID string) (*models.Identity, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error)
	Insert(ctx context.Context, identity *models.Identity) error
	Delete(ctx context.Context, userID uuid.UUID, provider string) (int64, error)
	SetPrimary(ctx context.Context, userID, identityID uuid.UUID) error
	CreateUserWithIdentity(ctx context.Context, user *models.CanonicalUser, identity *models.Identity) error
}

// LegacySessionStore resolves legacy session ids to session records.
type LegacySessionStore interface {
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
}

// Ensure concrete types implement the interfaces
var (
	_ UserStore          = (*UserRepository)(nil)
	_ IdentityStore      = (*IdentityRepository)(nil)
	_ LegacySessionStore = (*LegacySessionRepository)(nil)
)
