package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/database"
	"github.com/atelierhub/identity-core/internal/events"
	"github.com/atelierhub/identity-core/internal/models"
)

// loginBumpInterval bounds login write amplification: login_count and
// last_login are only touched when the previous login is older than this.
const loginBumpInterval = time.Hour

// createRaceAttempts is one initial pass plus one retry after losing the
// unique-constraint race on (provider, provider_id).
const createRaceAttempts = 2

// ConsolidationService runs the resolve-or-link-or-create state machine on
// every login event and owns all identity-row writes. Two simultaneous first
// logins for the same new (provider, providerID) can both miss in step 1 and
// race to create; the store's unique constraint is the authoritative
// tie-breaker, and the loser re-runs resolution instead of failing the login.
type ConsolidationService struct {
	users              database.UserStore
	identities         database.IdentityStore
	resolver           *Resolver
	cache              *CredentialCache
	publisher          events.Publisher
	defaultCountryCode string
	logger             *zap.Logger
	now                func() time.Time
}

// NewConsolidationService creates the consolidation service. The cache may
// be nil; the publisher must not be (use events.NopPublisher).
func NewConsolidationService(
	users database.UserStore,
	identities database.IdentityStore,
	resolver *Resolver,
	cache *CredentialCache,
	publisher events.Publisher,
	defaultCountryCode string,
	log *zap.Logger,
) *ConsolidationService {
	return &ConsolidationService{
		users:              users,
		identities:         identities,
		resolver:           resolver,
		cache:              cache,
		publisher:          publisher,
		defaultCountryCode: defaultCountryCode,
		logger:             log,
		now:                time.Now,
	}
}

// ConsolidateOnLogin resolves a login event to exactly one canonical user:
// provider-id hit wins outright, an email match links the new credential to
// the existing account, and only when both miss is a new account created.
func (s *ConsolidationService) ConsolidateOnLogin(ctx context.Context, provider, providerID string, profile *models.LoginProfile) (*models.CanonicalUser, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerID = strings.TrimSpace(providerID)
	if provider == "" || providerID == "" {
		return nil, fmt.Errorf("provider and provider id are required")
	}
	if profile == nil {
		profile = &models.LoginProfile{}
	}

	var lastErr error
	for attempt := 0; attempt < createRaceAttempts; attempt++ {
		user, err := s.consolidateOnce(ctx, provider, providerID, profile)
		if err == nil {
			return user, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, err
		}
		// Lost the race for this (provider, providerID). The winner's row
		// is now in the store, so re-running resolution converges on it.
		lastErr = err
		s.logger.Info("login_race_lost_retrying_resolution",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("login did not converge after creation race: %w", lastErr)
}

func (s *ConsolidationService) consolidateOnce(ctx context.Context, provider, providerID string, profile *models.LoginProfile) (*models.CanonicalUser, error) {
	// Step 1: the credential itself. A hit short-circuits everything,
	// including a different email claimed by the incoming profile.
	user, err := s.resolver.GetByProvider(ctx, provider, providerID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return s.recordLogin(ctx, user)
	}

	// Step 2: secondary key. A known email means this is an existing person
	// logging in through a new provider; link, never duplicate.
	if profile.Email != "" {
		existing, err := s.users.GetByEmail(ctx, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve login email: %w", err)
		}
		if existing != nil {
			identity := s.newIdentity(existing.ID, provider, providerID, false, profile)
			if err := s.identities.Insert(ctx, identity); err != nil {
				// A unique violation here means the pair got linked between
				// step 1 and now; bubble up for the retry pass.
				return nil, err
			}
			s.logger.Info("identity_linked_on_login",
				zap.String("provider", provider),
				zap.String("user_id", existing.ID.String()),
			)
			s.invalidateUser(ctx, existing)
			s.publish(ctx, s.identityEvent(events.EventIdentityLinked, existing.ID, provider))
			return s.recordLogin(ctx, existing)
		}
	}

	// Step 3: a genuinely new person.
	user = s.newUserFromProfile(provider, providerID, profile)
	identity := s.newIdentity(user.ID, provider, providerID, true, profile)
	if err := s.identities.CreateUserWithIdentity(ctx, user, identity); err != nil {
		return nil, err
	}
	s.logger.Info("user_created_on_login",
		zap.String("provider", provider),
		zap.String("user_id", user.ID.String()),
	)
	s.publish(ctx, s.identityEvent(events.EventUserCreated, user.ID, provider))
	return user, nil
}

// LinkIdentity attaches a credential to an existing user. Idempotent when the
// pair already belongs to that user; a typed conflict when it belongs to
// anyone else.
func (s *ConsolidationService) LinkIdentity(ctx context.Context, userID uuid.UUID, link *models.IdentityLink) (*models.Identity, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}

	provider := strings.ToLower(strings.TrimSpace(link.Provider))
	providerID := strings.TrimSpace(link.ProviderID)

	existing, err := s.identities.GetByProvider(ctx, provider, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing link: %w", err)
	}
	if existing != nil {
		if existing.UserID == userID {
			return existing, nil
		}
		return nil, &ConflictError{
			Provider:        provider,
			ProviderID:      providerID,
			ExistingUserID:  existing.UserID,
			AttemptedUserID: userID,
		}
	}

	identity := &models.Identity{
		ID:         uuid.New(),
		UserID:     userID,
		Provider:   provider,
		ProviderID: providerID,
		IsPrimary:  false,
		IsVerified: link.IsVerified,
		Metadata:   link.Metadata,
		CreatedAt:  s.now(),
	}
	if err := s.identities.Insert(ctx, identity); err != nil {
		if database.IsUniqueViolation(err) {
			// Raced with another link for the same pair.
			current, checkErr := s.identities.GetByProvider(ctx, provider, providerID)
			if checkErr == nil && current != nil {
				if current.UserID == userID {
					return current, nil
				}
				return nil, &ConflictError{
					Provider:        provider,
					ProviderID:      providerID,
					ExistingUserID:  current.UserID,
					AttemptedUserID: userID,
				}
			}
		}
		return nil, err
	}

	s.invalidateUser(ctx, user)
	s.publish(ctx, s.identityEvent(events.EventIdentityLinked, userID, provider))
	return identity, nil
}

// UnlinkIdentity removes the credential for (user, provider). Removing the
// last remaining identity is refused: an account with no way to log in is an
// orphan, not a user.
func (s *ConsolidationService) UnlinkIdentity(ctx context.Context, userID uuid.UUID, provider string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	linked, err := s.identities.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	var target *models.Identity
	for _, identity := range linked {
		if identity.Provider == provider {
			target = identity
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}
	if len(linked) <= 1 {
		return ErrLastIdentity
	}

	// Collect aliases before the row disappears so the provider id of the
	// removed credential is invalidated too.
	aliases := s.collectAliases(ctx, user)

	removed, err := s.identities.Delete(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to unlink identity: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}

	// Keep exactly one primary and the user's provider pointer coherent.
	if target.IsPrimary {
		var successor *models.Identity
		for _, identity := range linked {
			if identity.Provider != provider {
				successor = identity
				break
			}
		}
		if successor != nil {
			if err := s.identities.SetPrimary(ctx, userID, successor.ID); err != nil {
				return fmt.Errorf("failed to promote successor identity: %w", err)
			}
			if err := s.users.UpdateProfile(ctx, userID, map[string]any{
				"primary_auth_provider": successor.Provider,
			}); err != nil {
				return fmt.Errorf("failed to update primary provider: %w", err)
			}
		}
	}

	s.invalidateAliases(ctx, user.ID, aliases)
	s.publish(ctx, s.identityEvent(events.EventIdentityUnlinked, userID, provider))
	return nil
}

// SetPrimaryIdentity makes identityID the user's single primary identity,
// demoting every sibling in the same transaction.
func (s *ConsolidationService) SetPrimaryIdentity(ctx context.Context, userID, identityID uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	linked, err := s.identities.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	var target *models.Identity
	for _, identity := range linked {
		if identity.ID == identityID {
			target = identity
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}

	if err := s.identities.SetPrimary(ctx, userID, identityID); err != nil {
		return fmt.Errorf("failed to set primary identity: %w", err)
	}
	if err := s.users.UpdateProfile(ctx, userID, map[string]any{
		"primary_auth_provider": target.Provider,
	}); err != nil {
		return fmt.Errorf("failed to update primary provider: %w", err)
	}

	s.invalidateUser(ctx, user)
	s.publish(ctx, s.identityEvent(events.EventPrimaryChanged, userID, target.Provider))
	return nil
}

// UpdateUserProfile applies a partial profile update through the schema
// guard and invalidates every alias the user could be cached under.
func (s *ConsolidationService) UpdateUserProfile(ctx context.Context, userID uuid.UUID, fields map[string]any) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	// Aliases from before the write, so a changed email or phone gets its
	// old cached identifier dropped too.
	aliases := s.collectAliases(ctx, user)

	if err := s.users.UpdateProfile(ctx, userID, fields); err != nil {
		return err
	}

	s.invalidateAliases(ctx, userID, aliases)
	s.publish(ctx, s.identityEvent(events.EventUserUpdated, userID, ""))
	return nil
}

// ListIdentities returns the user's linked identities, primary first.
func (s *ConsolidationService) ListIdentities(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	return s.identities.ListByUser(ctx, userID)
}

// recordLogin conditionally bumps login_count / last_login. Writes happen at
// most once per loginBumpInterval per user, so a chatty client does not turn
// every request into an UPDATE plus a cache invalidation.
func (s *ConsolidationService) recordLogin(ctx context.Context, user *models.CanonicalUser) (*models.CanonicalUser, error) {
	now := s.now()
	if user.LastLogin != nil && now.Sub(*user.LastLogin) <= loginBumpInterval {
		return user, nil
	}
	if err := s.users.UpdateLoginStats(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LoginCount++
	user.LastLogin = &now
	user.UpdatedAt = now
	s.invalidateUser(ctx, user)
	return user, nil
}

// collectAliases gathers every identifier the user could be cached under:
// id, email, phone with all its normalized variants, and every linked
// provider id.
func (s *ConsolidationService) collectAliases(ctx context.Context, user *models.CanonicalUser) []string {
	aliases := user.Aliases()
	if user.Phone != nil && *user.Phone != "" {
		aliases = append(aliases, PhoneVariants(*user.Phone, s.defaultCountryCode)...)
	}
	linked, err := s.identities.ListByUser(ctx, user.ID)
	if err != nil {
		s.logger.Warn("alias_collection_incomplete",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
	}
	for _, identity := range linked {
		aliases = append(aliases, identity.ProviderID)
	}
	return dedupe(aliases)
}

func (s *ConsolidationService) invalidateUser(ctx context.Context, user *models.CanonicalUser) {
	s.invalidateAliases(ctx, user.ID, s.collectAliases(ctx, user))
}

// invalidateAliases drops the aliases from the local cache and broadcasts
// them so sibling processes do the same. Every mutation funnels through
// here: invalidating only the identifier a caller happened to use would
// leave stale entries under the user's other aliases.
func (s *ConsolidationService) invalidateAliases(ctx context.Context, userID uuid.UUID, aliases []string) {
	for _, alias := range aliases {
		s.cache.Invalidate(alias)
	}
	event := events.NewEvent(events.EventCacheInvalidate, userID)
	event.Aliases = aliases
	s.publish(ctx, event)
}

func (s *ConsolidationService) identityEvent(eventType events.EventType, userID uuid.UUID, provider string) *events.Event {
	event := events.NewEvent(eventType, userID)
	event.Provider = provider
	return event
}

// publish is best-effort: a mutation that committed succeeds even when its
// event cannot be delivered.
func (s *ConsolidationService) publish(ctx context.Context, event *events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event_publish_failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func (s *ConsolidationService) newUserFromProfile(provider, providerID string, profile *models.LoginProfile) *models.CanonicalUser {
	now := s.now()
	user := &models.CanonicalUser{
		ID:                  uuid.New(),
		PrimaryAuthProvider: provider,
		LoginCount:          1,
		LastLogin:           &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if name := profile.BestName(); name != "" {
		user.FullName = &name
	}
	if profile.Email != "" {
		email := profile.Email
		user.Email = &email
	}
	switch {
	case profile.Phone != "":
		phone := profile.Phone
		user.Phone = &phone
	case provider == models.ProviderWhatsApp && looksLikePhone(providerID):
		// Messaging identities are phone numbers; keep the number on the
		// user so phone resolution finds the same account.
		phone := providerID
		user.Phone = &phone
	}
	return user
}

func (s *ConsolidationService) newIdentity(userID uuid.UUID, provider, providerID string, primary bool, profile *models.LoginProfile) *models.Identity {
	identity := &models.Identity{
		ID:         uuid.New(),
		UserID:     userID,
		Provider:   provider,
		ProviderID: providerID,
		IsPrimary:  primary,
		IsVerified: profile.Email != "" || provider == models.ProviderWhatsApp,
		CreatedAt:  s.now(),
	}
	metadata := make(map[string]any)
	if profile.DisplayName != "" {
		metadata["display_name"] = profile.DisplayName
	}
	if profile.AvatarURL != "" {
		metadata["avatar_url"] = profile.AvatarURL
	}
	if len(metadata) > 0 {
		identity.Metadata = metadata
	}
	return identity
}
