package database

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
)

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505). The consolidation service uses this to detect
// the loser of a racing first-login and re-run resolution instead of
// surfacing a failed login.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsTransient reports whether err looks like a temporary infrastructure
// failure (pool exhaustion, dropped connection, timeout) that a caller may
// retry, as opposed to a logic error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08xxx connection exceptions, 53xxx insufficient resources,
		// 57P03 cannot_connect_now.
		class := pqErr.Code.Class()
		return class == "08" || class == "53" || pqErr.Code == "57P03"
	}
	return false
}
