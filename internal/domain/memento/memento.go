// Package memento converts domain entities to and from the flat
// string-to-string form stored in Secret data.
//
// Every memento carries a version key. Each entity kind declares one Schema
// per version listing the keys it persists and which of them are required, so
// a missing field fails decoding with a FieldError instead of producing a
// half-built entity.
package memento

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// VersionKey is present in every memento.
const VersionKey = "mementoVersion"

// ErrUnknownVersion is returned when a memento carries a version no decoder handles.
var ErrUnknownVersion = errors.New("unknown memento version")

// Memento is the flattened form of one entity instance.
type Memento map[string]string

// Version returns the memento's version tag, or "" when absent.
func (m Memento) Version() string {
	return m[VersionKey]
}

// Field declares one persisted key.
type Field struct {
	Key      string
	Required bool
}

// Schema is the declared key set of one entity kind at one version.
type Schema struct {
	Kind    string
	Version string
	Fields  []Field
}

// FieldError reports a missing or malformed memento field.
type FieldError struct {
	Kind   string
	Key    string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s memento field %q: %s", e.Kind, e.Key, e.Reason)
}

// Validate checks the version tag and that every required key is present and
// non-empty.
func (s Schema) Validate(m Memento) error {
	if v := m.Version(); v != s.Version {
		return fmt.Errorf("%s memento version %q: %w", s.Kind, v, ErrUnknownVersion)
	}
	for _, f := range s.Fields {
		if f.Required && m[f.Key] == "" {
			return &FieldError{Kind: s.Kind, Key: f.Key, Reason: "required field missing"}
		}
	}
	return nil
}

// Strip returns a copy of m holding only the declared keys and the version tag.
func (s Schema) Strip(m Memento) Memento {
	out := make(Memento, len(s.Fields)+1)
	out[VersionKey] = s.Version
	for _, f := range s.Fields {
		if v, ok := m[f.Key]; ok && v != "" {
			out[f.Key] = v
		}
	}
	return out
}

func (s Schema) parseInt(m Memento, key string) (int64, error) {
	raw, ok := m[key]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &FieldError{Kind: s.Kind, Key: key, Reason: "not an integer"}
	}
	return n, nil
}

func (s Schema) parseBool(m Memento, key string) (bool, error) {
	raw, ok := m[key]
	if !ok || raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &FieldError{Kind: s.Kind, Key: key, Reason: "not a boolean"}
	}
	return b, nil
}

func (s Schema) parseTime(m Memento, key string) (time.Time, error) {
	raw, ok := m[key]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &FieldError{Kind: s.Kind, Key: key, Reason: "not an RFC 3339 timestamp"}
	}
	return t.UTC(), nil
}

func putInt(m Memento, key string, n int64) {
	if n != 0 {
		m[key] = strconv.FormatInt(n, 10)
	}
}

func putString(m Memento, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putTime(m Memento, key string, t time.Time) {
	if !t.IsZero() {
		m[key] = t.UTC().Format(time.RFC3339Nano)
	}
}
