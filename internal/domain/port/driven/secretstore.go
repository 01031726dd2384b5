package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// Sentinel errors returned by SecretStore implementations.
var (
	// ErrSecretNotFound indicates the named Secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrCorruptSecret indicates the Secret exists but holds no usable data.
	ErrCorruptSecret = errors.New("secret data is empty or corrupt")
)

// StoreError wraps a backing-store failure other than "not found".
type StoreError struct {
	Op   string
	Name string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("secret store %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// CreateOptions carries the metadata written alongside Secret data.
type CreateOptions struct {
	// Type is the Secret type; empty means an opaque Secret.
	Type        string
	Labels      map[string]string
	Annotations map[string]string
}

// SecretStore defines the driven port for the Secret-backed key/value store.
// Values are plain strings at this boundary; encoding for transport is the
// adapter's concern.
type SecretStore interface {
	// Create replaces any existing Secret of that name with a new one holding
	// data. There is no merge: fields absent from data are gone afterwards.
	// Replacement is delete-then-create and is not atomic.
	Create(ctx context.Context, name string, data map[string]string, opts CreateOptions) error

	// Patch merges data into an existing Secret and bumps its updated
	// timestamp. Returns ErrSecretNotFound if the Secret does not exist.
	Patch(ctx context.Context, name string, data map[string]string) error

	// Load returns the Secret, or (nil, nil) if it does not exist.
	// Returns ErrCorruptSecret (wrapped) if the Secret has an empty data map.
	Load(ctx context.Context, name string) (*model.Secret, error)

	// Delete removes the Secret. It returns false with a nil error when the
	// Secret was already absent.
	Delete(ctx context.Context, name string) (bool, error)

	// List returns every Secret whose labels match all of selector.
	List(ctx context.Context, selector map[string]string) ([]model.Secret, error)
}
