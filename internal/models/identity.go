package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity links a canonical user to one external authentication credential.
// The pair (provider, provider_id) is globally unique: it is never owned by
// two different users at the same time. The database enforces this with a
// unique constraint; the consolidation service relies on it as the
// authoritative tie-breaker under racing first logins.
type Identity struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Provider   string         `json:"provider"`
	ProviderID string         `json:"provider_id"`
	IsPrimary  bool           `json:"is_primary"`
	IsVerified bool           `json:"is_verified"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Known provider names. The set is open-ended; these are the ones the
// platform's own adapters emit.
const (
	ProviderGoogle   = "google"
	ProviderLinkedIn = "linkedin"
	ProviderPassword = "password"
	ProviderWhatsApp = "whatsapp"
)

// LoginProfile is the normalized profile a provider adapter hands to the
// consolidation service after it has finished its own token exchange.
// Everything is optional; messaging-channel logins often carry only a
// display name.
type LoginProfile struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Name        string `json:"name,omitempty" validate:"omitempty,max=255"`
	DisplayName string `json:"display_name,omitempty" validate:"omitempty,max=255"`
	AvatarURL   string `json:"avatar_url,omitempty" validate:"omitempty,url"`
	FirstName   string `json:"first_name,omitempty" validate:"omitempty,max=255"`
	LastName    string `json:"last_name,omitempty" validate:"omitempty,max=255"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// BestName picks the most specific name the profile carries.
func (p *LoginProfile) BestName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	if p.FirstName != "" || p.LastName != "" {
		switch {
		case p.FirstName == "":
			return p.LastName
		case p.LastName == "":
			return p.FirstName
		default:
			return p.FirstName + " " + p.LastName
		}
	}
	return p.DisplayName
}

// IdentityLink is the request to attach a credential to an existing user.
type IdentityLink struct {
	Provider   string         `json:"provider" validate:"required,auth_provider"`
	ProviderID string         `json:"provider_id" validate:"required,max=255"`
	IsVerified bool           `json:"is_verified"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
