package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atelierhub/identity-core/internal/models"
)

// memStore backs handler tests with an in-memory user and identity table.
type memStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*models.CanonicalUser
	identities map[uuid.UUID]*models.Identity
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[uuid.UUID]*models.CanonicalUser),
		identities: make(map[uuid.UUID]*models.Identity),
	}
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.CanonicalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetByEmail(_ context.Context, email string) (*models.CanonicalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email != nil && strings.EqualFold(*u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetByPhoneVariants(_ context.Context, variants []string) (*models.CanonicalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Phone == nil {
			continue
		}
		for _, v := range variants {
			if *u.Phone == v {
				cp := *u
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *memStore) Create(_ context.Context, user *models.CanonicalUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *memStore) UpdateLoginStats(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return errors.New("user not found")
	}
	u.LoginCount++
	t := at
	u.LastLogin = &t
	return nil
}

func (s *memStore) UpdateProfile(_ context.Context, id uuid.UUID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return errors.New("user not found")
	}
	if v, ok := fields["full_name"].(string); ok {
		u.FullName = &v
	}
	if v, ok := fields["city"].(string); ok {
		u.City = &v
	}
	return nil
}

func (s *memStore) GetByProvider(_ context.Context, provider, providerID string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.Provider == provider && ident.ProviderID == providerID {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetByProviderIDAnyProvider(_ context.Context, providerID string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.ProviderID == providerID {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Identity
	for _, ident := range s.identities {
		if ident.UserID == userID {
			cp := *ident
			if cp.IsPrimary {
				out = append([]*models.Identity{&cp}, out...)
			} else {
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, ident *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ident)
}

func (s *memStore) insertLocked(ident *models.Identity) error {
	for _, existing := range s.identities {
		if existing.Provider == ident.Provider && existing.ProviderID == ident.ProviderID {
			return &pq.Error{Code: "23505"}
		}
	}
	cp := *ident
	s.identities[ident.ID] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, userID uuid.UUID, provider string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, ident := range s.identities {
		if ident.UserID == userID && ident.Provider == provider {
			delete(s.identities, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) SetPrimary(_ context.Context, userID, identityID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.identities[identityID]
	if !ok || target.UserID != userID {
		return errors.New("identity not found for user")
	}
	for _, ident := range s.identities {
		if ident.UserID == userID {
			ident.IsPrimary = false
		}
	}
	target.IsPrimary = true
	return nil
}

func (s *memStore) CreateUserWithIdentity(_ context.Context, user *models.CanonicalUser, ident *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertLocked(ident); err != nil {
		return err
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// memSessions is an in-memory session.Store.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]models.Session)}
}

func (s *memSessions) Create(_ context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess
	return nil
}

func (s *memSessions) Get(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return &sess, nil
	}
	return nil, nil
}

func (s *memSessions) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
