package application

import (
	"strconv"
	"strings"
)

// Labels written on every Secret this service creates.
const (
	LabelSubtype       = "ghconnector.io/subtype"
	LabelCreatedByApp  = "ghconnector.io/created-by-app"
	LabelCreatedByUser = "ghconnector.io/created-by-user"
	LabelRepositoryID  = "ghconnector.io/repository-id"

	SubtypeApp     = "app"
	SubtypeUser    = "user"
	SubtypeSAToken = "sa-token"
)

// DefaultSecretPrefix prefixes every Secret name unless configured otherwise.
const DefaultSecretPrefix = "ghconnector"

const maxSecretNameLength = 253

// SecretNamer derives deterministic Secret names from entity kind and ID.
type SecretNamer struct {
	prefix string
}

// NewSecretNamer returns a namer using prefix, or DefaultSecretPrefix if empty.
func NewSecretNamer(prefix string) SecretNamer {
	if prefix == "" {
		prefix = DefaultSecretPrefix
	}
	return SecretNamer{prefix: prefix}
}

// App returns the Secret name of a GitHubApp.
func (n SecretNamer) App(id int64) string {
	return n.name("app", strconv.FormatInt(id, 10))
}

// User returns the Secret name of a User.
func (n SecretNamer) User(uid string) string {
	return n.name("user", uid)
}

// SAToken returns the Secret name of the service-account token for a repository.
func (n SecretNamer) SAToken(repositoryID int64) string {
	return n.name("sa-token", strconv.FormatInt(repositoryID, 10))
}

func (n SecretNamer) name(kind, id string) string {
	return sanitizeName(n.prefix + "-" + kind + "-" + id)
}

// sanitizeName maps s onto a DNS-1123 subdomain: lower case alphanumerics,
// '-' and '.', starting and ending with an alphanumeric.
func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	name := b.String()
	if len(name) > maxSecretNameLength {
		name = name[:maxSecretNameLength]
	}
	return strings.Trim(name, "-.")
}
