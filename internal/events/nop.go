package events

import "context"

// NopPublisher drops every event. Used when RABBITMQ_URL is not configured:
// the service then runs with process-local cache invalidation only, bounded
// by the cache TTL.
type NopPublisher struct{}

// Publish discards the event
func (NopPublisher) Publish(ctx context.Context, event *Event) error { return nil }

// Close is a no-op
func (NopPublisher) Close() error { return nil }

var _ Publisher = NopPublisher{}
