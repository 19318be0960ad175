package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atelierhub/identity-core/internal/models"
)

// fakeStore is an in-memory stand-in for the user and identity repositories.
// It enforces the (provider, provider_id) unique constraint the same way
// Postgres does, by returning SQLSTATE 23505, so the race-retry path in
// the consolidation service is exercisable without a database.
type fakeStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*models.CanonicalUser
	identities []*models.Identity
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[uuid.UUID]*models.CanonicalUser)}
}

func uniqueViolation() error {
	return &pq.Error{Code: "23505", Constraint: "identities_provider_provider_id_key"}
}

func copyUser(u *models.CanonicalUser) *models.CanonicalUser {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func copyIdentity(i *models.Identity) *models.Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.CanonicalUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyUser(f.users[id]), nil
}

func (f *fakeStore) GetByEmail(ctx context.Context, email string) (*models.CanonicalUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.CanonicalUser
	for _, u := range f.users {
		if u.Email == nil || !strings.EqualFold(*u.Email, email) {
			continue
		}
		if oldest == nil || u.CreatedAt.Before(oldest.CreatedAt) {
			oldest = u
		}
	}
	return copyUser(oldest), nil
}

func (f *fakeStore) GetByPhoneVariants(ctx context.Context, variants []string) (*models.CanonicalUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Phone == nil {
			continue
		}
		for _, v := range variants {
			if *u.Phone == v {
				return copyUser(u), nil
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) Create(ctx context.Context, user *models.CanonicalUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = copyUser(user)
	return nil
}

func (f *fakeStore) UpdateLoginStats(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return errors.New("user not found")
	}
	u.LoginCount++
	loginAt := at
	u.LastLogin = &loginAt
	u.UpdatedAt = at
	return nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil
	}
	for key, value := range fields {
		switch key {
		case "full_name":
			if s, ok := value.(string); ok {
				u.FullName = &s
			}
		case "email":
			if s, ok := value.(string); ok {
				u.Email = &s
			}
		case "phone":
			if s, ok := value.(string); ok {
				u.Phone = &s
			}
		case "city":
			if s, ok := value.(string); ok {
				u.City = &s
			}
		case "primary_auth_provider":
			if s, ok := value.(string); ok {
				u.PrimaryAuthProvider = s
			}
		}
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) GetByProvider(ctx context.Context, provider, providerID string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.identities {
		if i.Provider == provider && i.ProviderID == providerID {
			return copyIdentity(i), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetByProviderIDAnyProvider(ctx context.Context, providerID string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.Identity
	for _, i := range f.identities {
		if i.ProviderID != providerID {
			continue
		}
		if oldest == nil || i.CreatedAt.Before(oldest.CreatedAt) {
			oldest = i
		}
	}
	return copyIdentity(oldest), nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Identity
	for _, i := range f.identities {
		if i.UserID == userID {
			out = append(out, copyIdentity(i))
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].IsPrimary != out[b].IsPrimary {
			return out[a].IsPrimary
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) insertLocked(identity *models.Identity) error {
	for _, i := range f.identities {
		if i.Provider == identity.Provider && i.ProviderID == identity.ProviderID {
			return uniqueViolation()
		}
	}
	f.identities = append(f.identities, copyIdentity(identity))
	return nil
}

func (f *fakeStore) Insert(ctx context.Context, identity *models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(identity)
}

func (f *fakeStore) Delete(ctx context.Context, userID uuid.UUID, provider string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*models.Identity
	var removed int64
	for _, i := range f.identities {
		if i.UserID == userID && i.Provider == provider {
			removed++
			continue
		}
		kept = append(kept, i)
	}
	f.identities = kept
	return removed, nil
}

func (f *fakeStore) SetPrimary(ctx context.Context, userID, identityID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.identities {
		if i.UserID == userID {
			i.IsPrimary = i.ID == identityID
		}
	}
	return nil
}

func (f *fakeStore) CreateUserWithIdentity(ctx context.Context, user *models.CanonicalUser, identity *models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.insertLocked(identity); err != nil {
		return err
	}
	f.users[user.ID] = copyUser(user)
	return nil
}

func (f *fakeStore) userCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func (f *fakeStore) identityCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.identities)
}
