package model

import (
	"strings"
	"time"
)

// DefaultGitHubWebURL is the web root used to build App URLs when no
// GitHub Enterprise host is configured.
const DefaultGitHubWebURL = "https://github.com"

// GitHubApp is a GitHub App registered through the manifest flow. Exactly one
// live instance exists per ID per process; the application layer enforces this
// through its entity cache.
type GitHubApp struct {
	ID            int64
	Name          string
	Slug          string
	OwnerID       int64  // GitHub user or organization ID owning the App.
	OwnerLogin    string // GitHub login owning the App.
	ClientID      string
	ClientSecret  string
	PrivateKeyPEM string
	WebhookSecret string // Empty when the App was created without a webhook.
	CreatedAt     time.Time

	// OwnerUserUID is the platform user that created the App. Only this user
	// may delete it.
	OwnerUserUID string
}

// HTMLURL returns the public GitHub page of the App. It is derived from the
// slug and is never persisted.
func (a *GitHubApp) HTMLURL(webURL string) string {
	if webURL == "" {
		webURL = DefaultGitHubWebURL
	}
	return strings.TrimSuffix(webURL, "/") + "/apps/" + a.Slug
}

// InstallURL returns the page a user visits to install the App.
func (a *GitHubApp) InstallURL(webURL string) string {
	return a.HTMLURL(webURL) + "/installations/new"
}
