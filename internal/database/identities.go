package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/atelierhub/identity-core/internal/models"
)

const identityColumns = `id, user_id, provider, provider_id, is_primary,
	is_verified, metadata, created_at`

// IdentityRepository handles identity rows: the (provider, provider_id)
// credentials bound to canonical users. The table carries a unique constraint
// on (provider, provider_id); writers detect violations with
// IsUniqueViolation.
type IdentityRepository struct {
	db    *DB
	guard *SchemaGuard
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *DB, guard *SchemaGuard) *IdentityRepository {
	return &IdentityRepository{db: db, guard: guard}
}

func scanIdentity(scanner interface{ Scan(...any) error }) (*models.Identity, error) {
	identity := &models.Identity{}
	var metadata []byte
	err := scanner.Scan(
		&identity.ID,
		&identity.UserID,
		&identity.Provider,
		&identity.ProviderID,
		&identity.IsPrimary,
		&identity.IsVerified,
		&metadata,
		&identity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &identity.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode identity metadata: %w", err)
		}
	}
	return identity, nil
}

// GetByProvider retrieves the identity for a (provider, provider_id) pair.
// A miss is (nil, nil).
func (r *IdentityRepository) GetByProvider(ctx context.Context, provider, providerID string) (*models.Identity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM identities
		WHERE provider = $1 AND provider_id = $2
	`, identityColumns)
	return scanIdentity(r.db.QueryRowContext(ctx, query, provider, providerID))
}

// GetByProviderIDAnyProvider retrieves an identity matching provider_id under
// any provider. Used by the resolver, which treats unprefixed identifiers as
// opaque external ids. Oldest link wins when ids collide across providers.
func (r *IdentityRepository) GetByProviderIDAnyProvider(ctx context.Context, providerID string) (*models.Identity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM identities
		WHERE provider_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, identityColumns)
	return scanIdentity(r.db.QueryRowContext(ctx, query, providerID))
}

// ListByUser retrieves all identities linked to a user, primary first.
func (r *IdentityRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM identities
		WHERE user_id = $1
		ORDER BY is_primary DESC, created_at ASC
	`, identityColumns)

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identities: %w", err)
	}
	return identities, nil
}

// Insert adds an identity row. A unique violation on (provider, provider_id)
// propagates to the caller, which maps it to a conflict or a race retry.
func (r *IdentityRepository) Insert(ctx context.Context, identity *models.Identity) error {
	metadata, err := encodeMetadata(identity.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, provider, provider_id, is_primary, is_verified, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		identity.ID,
		identity.UserID,
		identity.Provider,
		identity.ProviderID,
		identity.IsPrimary,
		identity.IsVerified,
		metadata,
		identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// Delete removes the identity row for (user, provider) and returns how many
// rows were removed.
func (r *IdentityRepository) Delete(ctx context.Context, userID uuid.UUID, provider string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM identities WHERE user_id = $1 AND provider = $2
	`, userID, provider)
	if err != nil {
		return 0, fmt.Errorf("failed to delete identity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// SetPrimary promotes one identity of a user and demotes all siblings in the
// same transaction, so exactly one identity is primary afterwards.
func (r *IdentityRepository) SetPrimary(ctx context.Context, userID, identityID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE identities SET is_primary = false WHERE user_id = $1
	`, userID); err != nil {
		return fmt.Errorf("failed to demote identities: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE identities SET is_primary = true WHERE id = $1 AND user_id = $2
	`, identityID, userID)
	if err != nil {
		return fmt.Errorf("failed to promote identity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identity %s not found for user %s", identityID, userID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CreateUserWithIdentity inserts a new user and its primary identity
// atomically. The user insert goes through the schema guard; a unique
// violation on the identity constraint rolls the user back too, which is what
// lets racing first logins converge on a single account.
func (r *IdentityRepository) CreateUserWithIdentity(ctx context.Context, user *models.CanonicalUser, identity *models.Identity) error {
	query, args, err := r.guard.BuildSafeInsert(ctx, userRecord(user), "users")
	if err != nil {
		return fmt.Errorf("failed to build user insert: %w", err)
	}
	metadata, err := encodeMetadata(identity.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, provider, provider_id, is_primary, is_verified, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		identity.ID,
		identity.UserID,
		identity.Provider,
		identity.ProviderID,
		identity.IsPrimary,
		identity.IsVerified,
		metadata,
		identity.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity metadata: %w", err)
	}
	return data, nil
}
