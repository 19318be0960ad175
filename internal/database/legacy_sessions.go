package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atelierhub/identity-core/internal/models"
)

// LegacySessionRepository reads the Express-era session table that older
// clients still write to. The table stores the whole session as a JSON blob
// (sid, sess, expire); only the user reference and expiry are extracted.
// New sessions live in Redis; this path exists so logins issued before the
// migration keep working until they expire.
type LegacySessionRepository struct {
	db *DB
}

// NewLegacySessionRepository creates a new legacy session repository
func NewLegacySessionRepository(db *DB) *LegacySessionRepository {
	return &LegacySessionRepository{db: db}
}

// legacySessionPayload mirrors the shape connect-pg-simple persisted.
// The user id historically lived under either "userId" or "passport.user".
type legacySessionPayload struct {
	UserID   string `json:"userId"`
	Passport struct {
		User string `json:"user"`
	} `json:"passport"`
}

// GetByID retrieves a legacy session by its sid. A miss or an expired row is
// (nil, nil); expired rows are left for the store's own reaper.
func (r *LegacySessionRepository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		sess   []byte
		expire time.Time
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT sess, expire FROM user_sessions WHERE sid = $1
	`, sessionID).Scan(&sess, &expire)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get legacy session: %w", err)
	}

	if time.Now().After(expire) {
		return nil, nil
	}

	var payload legacySessionPayload
	if err := json.Unmarshal(sess, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode legacy session: %w", err)
	}

	userID := payload.UserID
	if userID == "" {
		userID = payload.Passport.User
	}
	if userID == "" {
		return nil, nil
	}

	return &models.Session{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: expire,
	}, nil
}
