package model

import (
	"slices"
	"time"
)

// OAuthToken holds the cluster OAuth access token of a user and an estimate
// of its validity window.
type OAuthToken struct {
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the token is past its estimated expiry. A zero
// ExpiresAt never expires.
func (t OAuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// GitHubIdentity is the GitHub account a platform user has linked.
type GitHubIdentity struct {
	ID    int64
	Login string
	Type  string // "User" or "Organization".
}

// ClusterIdentity is what the cluster's identity API reports for a token.
type ClusterIdentity struct {
	UID    string
	Name   string
	Groups []string
}

// User is a platform user, identified by the cluster-assigned UID.
type User struct {
	UID     string
	Name    string
	IsAdmin bool
	Token   OAuthToken

	// GitHub is nil until the user links a GitHub account.
	GitHub *GitHubIdentity

	// Installation is nil until the user installs a GitHub App. It is rebuilt
	// on every load and is never shared between users.
	Installation *UserInstallation

	// OwnsAppID is the ID of the GitHubApp whose owner matches GitHub.ID, or
	// zero. It is an ID rather than a pointer so that loading a user never
	// needs to load an App that in turn refers back to the user.
	OwnsAppID int64

	ImageRegistries ImageRegistryList
}

// HasGitHub reports whether the user has linked a GitHub account.
func (u *User) HasGitHub() bool {
	return u.GitHub != nil && u.GitHub.ID != 0
}

// Clone returns a copy of u sharing no mutable state with it. The
// installation's App is shared; Apps are never modified once saved.
func (u *User) Clone() *User {
	c := *u
	if u.GitHub != nil {
		g := *u.GitHub
		c.GitHub = &g
	}
	if u.Installation != nil {
		i := *u.Installation
		c.Installation = &i
	}
	c.ImageRegistries = slices.Clone(u.ImageRegistries)
	return &c
}
