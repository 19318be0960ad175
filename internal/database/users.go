package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atelierhub/identity-core/internal/models"
)

const userColumns = `id, full_name, email, phone, rank, city, country,
	is_admin, is_premium, primary_auth_provider, login_count, last_login,
	created_at, updated_at`

// UserRepository handles canonical user database operations. Reads assume
// the canonical column set; every write goes through the SchemaGuard so a
// narrower live schema degrades to dropped fields instead of failed inserts.
type UserRepository struct {
	db    *DB
	guard *SchemaGuard
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, guard *SchemaGuard) *UserRepository {
	return &UserRepository{db: db, guard: guard}
}

func scanUser(row *sql.Row) (*models.CanonicalUser, error) {
	user := &models.CanonicalUser{}
	err := row.Scan(
		&user.ID,
		&user.FullName,
		&user.Email,
		&user.Phone,
		&user.Rank,
		&user.City,
		&user.Country,
		&user.IsAdmin,
		&user.IsPremium,
		&user.PrimaryAuthProvider,
		&user.LoginCount,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by primary key. A miss is (nil, nil).
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalUser, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email. Email is a secondary key: not
// guaranteed unique in incoming data, so the oldest account wins.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.CanonicalUser, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE lower(email) = lower($1)
		ORDER BY created_at ASC
		LIMIT 1
	`, userColumns)
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByPhoneVariants retrieves a user whose phone matches any of the given
// normalized variants. The resolver computes the variants; the query stays a
// single round trip.
func (r *UserRepository) GetByPhoneVariants(ctx context.Context, variants []string) (*models.CanonicalUser, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE phone = ANY($1)
		ORDER BY created_at ASC
		LIMIT 1
	`, userColumns)
	return scanUser(r.db.QueryRowContext(ctx, query, pq.Array(variants)))
}

// Create inserts a new user through the schema guard. The user's ID must be
// set by the caller; generated timestamps are injected when missing.
func (r *UserRepository) Create(ctx context.Context, user *models.CanonicalUser) error {
	query, args, err := r.guard.BuildSafeInsert(ctx, userRecord(user), "users")
	if err != nil {
		return fmt.Errorf("failed to build user insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateLoginStats bumps login_count and last_login for a successful login
func (r *UserRepository) UpdateLoginStats(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET login_count = login_count + 1, last_login = $2, updated_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update login stats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

// UpdateProfile applies a partial update through the schema guard. Fields
// that do not name live columns are dropped and logged, not rejected.
func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	query, args, err := r.guard.BuildSafeUpdate(ctx, fields, "users", "id", id)
	if err != nil {
		return fmt.Errorf("failed to build profile update: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

// userRecord flattens a user into the write payload handed to the schema
// guard. Nil optionals are omitted so narrow schemas see fewer fields, not
// explicit NULL writes.
func userRecord(user *models.CanonicalUser) map[string]any {
	record := map[string]any{
		"id":                    user.ID,
		"is_admin":              user.IsAdmin,
		"is_premium":            user.IsPremium,
		"primary_auth_provider": user.PrimaryAuthProvider,
		"login_count":           user.LoginCount,
	}
	if user.FullName != nil {
		record["full_name"] = *user.FullName
	}
	if user.Email != nil {
		record["email"] = *user.Email
	}
	if user.Phone != nil {
		record["phone"] = *user.Phone
	}
	if user.Rank != nil {
		record["rank"] = *user.Rank
	}
	if user.City != nil {
		record["city"] = *user.City
	}
	if user.Country != nil {
		record["country"] = *user.Country
	}
	if user.LastLogin != nil {
		record["last_login"] = *user.LastLogin
	}
	if !user.CreatedAt.IsZero() {
		record["created_at"] = user.CreatedAt
	}
	if !user.UpdatedAt.IsZero() {
		record["updated_at"] = user.UpdatedAt
	}
	return record
}
