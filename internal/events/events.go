package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an identity event
type EventType string

const (
	// EventUserCreated fires when consolidation creates a new canonical user
	EventUserCreated EventType = "user.created"
	// EventUserUpdated fires on profile or login-stat mutations
	EventUserUpdated EventType = "user.updated"
	// EventIdentityLinked fires when a credential is attached to a user
	EventIdentityLinked EventType = "identity.linked"
	// EventIdentityUnlinked fires when a credential is removed
	EventIdentityUnlinked EventType = "identity.unlinked"
	// EventPrimaryChanged fires when a user's primary identity changes
	EventPrimaryChanged EventType = "identity.primary_changed"
	// EventCacheInvalidate broadcasts the aliases other processes must drop
	// from their credential caches
	EventCacheInvalidate EventType = "cache.invalidate"
)

// Event describes one identity mutation for external collaborators (booking,
// messaging bot) and for sibling processes of this service.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	UserID     uuid.UUID      `json:"user_id"`
	Provider   string         `json:"provider,omitempty"`
	Aliases    []string       `json:"aliases,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event stamped with a fresh id and the current time
func NewEvent(eventType EventType, userID uuid.UUID) *Event {
	return &Event{
		ID:         uuid.New(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: time.Now(),
	}
}

// Publisher is the interface for identity event publication. Publication is
// best-effort from the caller's point of view: a mutation that committed to
// the store succeeds even when its event cannot be published.
type Publisher interface {
	// Publish sends an event to external collaborators
	Publish(ctx context.Context, event *Event) error

	// Close closes the underlying connection
	Close() error
}
