package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhub/identity-core/internal/models"
)

func cacheUser() *models.CanonicalUser {
	email := "cache@example.com"
	return &models.CanonicalUser{
		ID:        uuid.New(),
		Email:     &email,
		CreatedAt: time.Now(),
	}
}

func TestCacheGetPut(t *testing.T) {
	t.Parallel()

	cache := NewCredentialCache(time.Minute)
	defer cache.Close()

	user := cacheUser()
	cache.Put("k1", user, 0)

	got := cache.Get("k1")
	if got == nil || got.ID != user.ID {
		t.Fatalf("Get(k1) = %+v, want user %s", got, user.ID)
	}
	if cache.Get("k2") != nil {
		t.Error("Get(k2) should miss")
	}
}

func TestCacheSnapshotIsolation(t *testing.T) {
	t.Parallel()

	cache := NewCredentialCache(time.Minute)
	defer cache.Close()

	user := cacheUser()
	cache.Put("k", user, 0)

	first := cache.Get("k")
	first.LoginCount = 99

	second := cache.Get("k")
	if second.LoginCount != 0 {
		t.Errorf("mutating a returned snapshot leaked into the cache: LoginCount = %d", second.LoginCount)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	cache := NewCredentialCache(time.Minute)
	defer cache.Close()

	cache.Put("short", cacheUser(), 10*time.Millisecond)
	if cache.Get("short") == nil {
		t.Fatal("entry should be served before expiry")
	}

	time.Sleep(25 * time.Millisecond)
	if cache.Get("short") != nil {
		t.Error("entry should expire after its TTL")
	}
}

func TestCacheInvalidate(t *testing.T) {
	t.Parallel()

	cache := NewCredentialCache(time.Minute)
	defer cache.Close()

	cache.Put("a", cacheUser(), 0)
	cache.Put("b", cacheUser(), 0)

	cache.Invalidate("a")
	if cache.Get("a") != nil {
		t.Error("invalidated entry still served")
	}
	if cache.Get("b") == nil {
		t.Error("unrelated entry dropped")
	}

	cache.InvalidateAll()
	if cache.Get("b") != nil || cache.Len() != 0 {
		t.Error("InvalidateAll left entries behind")
	}
}

func TestDisabledCacheIsSafe(t *testing.T) {
	t.Parallel()

	var cache *CredentialCache // nil: the disabled cache

	cache.Put("k", cacheUser(), 0)
	if cache.Get("k") != nil {
		t.Error("disabled cache should always miss")
	}
	cache.Invalidate("k")
	cache.InvalidateAll()
	cache.Close()
	if cache.Len() != 0 {
		t.Error("disabled cache should report zero entries")
	}

	if NewCredentialCache(0) != nil {
		t.Error("zero TTL should construct the disabled cache")
	}
}
