package events

import (
	"context"

	"go.uber.org/zap"
)

// CacheInvalidator is the subset of the credential cache the invalidation
// loop needs. Declared here so this package does not import the identity
// package it serves.
type CacheInvalidator interface {
	Invalidate(identifier string)
}

// RunInvalidationLoop consumes cache.invalidate broadcasts and drops the
// carried aliases from the local cache. It returns when the context is
// cancelled or the delivery channel closes; a closed channel is logged and
// left to the caller's reconnect policy (in practice: the TTL covers the
// gap until restart).
func RunInvalidationLoop(ctx context.Context, deliveries <-chan *Event, cache CacheInvalidator, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-deliveries:
			if !ok {
				logger.Warn("invalidation_stream_closed")
				return
			}
			if event.Type != EventCacheInvalidate {
				continue
			}
			for _, alias := range event.Aliases {
				cache.Invalidate(alias)
			}
			logger.Debug("cache_invalidation_applied",
				zap.String("user_id", event.UserID.String()),
				zap.Int("alias_count", len(event.Aliases)),
			)
		}
	}
}
