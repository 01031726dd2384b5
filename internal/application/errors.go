package application

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when an actor modifies an entity it does not own.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAppNotFound is returned when an operation names a GitHub App that is not stored.
	ErrAppNotFound = errors.New("github app not found")

	// ErrGitHubNotLinked is returned for operations that need the user's linked GitHub account.
	ErrGitHubNotLinked = errors.New("user has no linked github account")

	// ErrNoInstallation is returned for installation operations on a user without one.
	ErrNoInstallation = errors.New("user has no app installation")

	// ErrProvisioningTimeout is returned when the cluster never populated a
	// service-account token Secret within the poll budget.
	ErrProvisioningTimeout = errors.New("timed out waiting for service account token")

	// ErrMalformedSecret is returned when a populated token Secret lacks a
	// field needed to use it.
	ErrMalformedSecret = errors.New("service account token secret is malformed")
)

// SelfRepairWarning describes a dangling reference found while loading a
// User and cleared automatically. It is logged, never returned.
type SelfRepairWarning struct {
	UserUID   string
	Reference string // "installation" or "ownsApp".
	ID        int64
	Reason    string
}

func (w *SelfRepairWarning) Error() string {
	return fmt.Sprintf("user %q: cleared %s reference %d: %s", w.UserUID, w.Reference, w.ID, w.Reason)
}
