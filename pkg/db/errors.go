package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the constraint must match too.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	matched := pkgerrors.SQLState(err) == sqlStateUniqueViolation ||
		chainContains(err, "duplicate key value", "unique constraint failed")
	if !matched {
		return false
	}
	if constraintName != "" {
		return pkgerrors.Dump(err).PGConstraint == constraintName || chainContains(err, strings.ToLower(constraintName))
	}
	return true
}

// IsRetryable reports whether err is a transient concurrency conflict that is
// safe to resolve by re-running the whole transaction.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch pkgerrors.SQLState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	return chainContains(err, "database is locked", "database table is locked", "sqlite_busy")
}

// chainContains matches substrings against every error in the wrap chain,
// since typed wrappers do not repeat their cause's message.
func chainContains(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	switch wrapped := err.(type) {
	case interface{ Unwrap() error }:
		return chainContains(wrapped.Unwrap(), needles...)
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			if chainContains(inner, needles...) {
				return true
			}
		}
	}
	return false
}
