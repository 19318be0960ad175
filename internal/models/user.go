package models

import (
	"time"

	"github.com/google/uuid"
)

// CanonicalUser is the single authoritative account representing one human
// across every login method. IDs are stable and never reassigned.
type CanonicalUser struct {
	ID                  uuid.UUID  `json:"id"`
	FullName            *string    `json:"full_name,omitempty"`
	Email               *string    `json:"email,omitempty"`
	Phone               *string    `json:"phone,omitempty"`
	Rank                *string    `json:"rank,omitempty"`
	City                *string    `json:"city,omitempty"`
	Country             *string    `json:"country,omitempty"`
	IsAdmin             bool       `json:"is_admin"`
	IsPremium           bool       `json:"is_premium"`
	PrimaryAuthProvider string     `json:"primary_auth_provider"`
	LoginCount          int        `json:"login_count"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Aliases returns the identifiers under which this user could be cached or
// resolved: id, email and phone. Provider ids are appended by callers that
// know the user's linked identities.
func (u *CanonicalUser) Aliases() []string {
	aliases := []string{u.ID.String()}
	if u.Email != nil && *u.Email != "" {
		aliases = append(aliases, *u.Email)
	}
	if u.Phone != nil && *u.Phone != "" {
		aliases = append(aliases, *u.Phone)
	}
	return aliases
}
