package model

import "time"

// Secret is the storage unit of the backing store: a named, labelled,
// string-keyed record. Values are plain strings here; transport encoding is
// the store adapter's concern.
type Secret struct {
	Name        string
	Type        string
	Data        map[string]string
	Labels      map[string]string
	Annotations map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
