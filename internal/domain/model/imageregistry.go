package model

import (
	"errors"
	"slices"

	"github.com/google/uuid"
)

// ErrRegistryNotFound is returned when an image registry ID is not in the list.
var ErrRegistryNotFound = errors.New("image registry not found")

// ImageRegistry is one container image registry a user pushes to.
type ImageRegistry struct {
	ID        string `json:"id"`
	Hostname  string `json:"hostname"`
	Namespace string `json:"namespace"`
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`

	// UsePlatformToken selects the cluster's built-in registry token instead
	// of Username/Password.
	UsePlatformToken bool `json:"usePlatformToken"`
}

// FullPath returns hostname/namespace.
func (r ImageRegistry) FullPath() string {
	return r.Hostname + "/" + r.Namespace
}

// ImageRegistryList is the ordered list of registries owned by one User.
type ImageRegistryList []ImageRegistry

// Add appends a registry with a freshly generated ID and returns the stored entry.
func (l *ImageRegistryList) Add(r ImageRegistry) ImageRegistry {
	r.ID = uuid.NewString()
	*l = append(*l, r)
	return r
}

// Remove deletes the registry with the given ID.
func (l *ImageRegistryList) Remove(id string) error {
	for i, r := range *l {
		if r.ID == id {
			*l = slices.Concat((*l)[:i], (*l)[i+1:])
			return nil
		}
	}
	return ErrRegistryNotFound
}

// Get returns the registry with the given ID.
func (l ImageRegistryList) Get(id string) (ImageRegistry, bool) {
	for _, r := range l {
		if r.ID == id {
			return r, true
		}
	}
	return ImageRegistry{}, false
}
