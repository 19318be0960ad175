package session

import (
	"context"

	"github.com/atelierhub/identity-core/internal/models"
)

// Store defines how server sessions are stored and retrieved. A miss is a
// normal (nil, nil) return; implementations must stay opaque about why a
// session is absent (never existed, expired, revoked).
type Store interface {
	Create(ctx context.Context, s models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Delete(ctx context.Context, sessionID string) error
}
