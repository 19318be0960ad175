package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Resolve when no canonical user matches the
// identifier. A miss is local control flow for callers, never an
// infrastructure failure: branch on it, do not log it as an error.
var ErrNotFound = errors.New("no user matches identifier")

// ErrConflict is the sentinel for errors.Is checks against *ConflictError.
var ErrConflict = errors.New("identity already linked to another user")

// ErrLastIdentity is returned when an unlink would leave a user with no way
// to log in. Removing the final credential is refused rather than orphaning
// the account.
var ErrLastIdentity = errors.New("cannot unlink the last identity of a user")

// ConflictError reports that a (provider, providerID) pair already belongs
// to a different canonical user. It is a surfaced, machine-readable result:
// callers decide how to present it (error page, merge prompt) and must never
// resolve it by guessing which account to use.
type ConflictError struct {
	Provider        string
	ProviderID      string
	ExistingUserID  uuid.UUID
	AttemptedUserID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity %s/%s already belongs to user %s (attempted for %s)",
		e.Provider, e.ProviderID, e.ExistingUserID, e.AttemptedUserID)
}

// Is lets errors.Is(err, ErrConflict) match without losing the typed detail.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
