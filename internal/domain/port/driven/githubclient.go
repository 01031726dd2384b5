package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// ErrInstallationNotFound is returned when GitHub reports that an App
// installation does not exist (uninstalled, or never existed for this App).
var ErrInstallationNotFound = errors.New("github app installation not found")

// GitHubClient defines the driven port for the GitHub REST API.
type GitHubClient interface {
	// CompleteAppManifest converts a manifest-flow code into a registered App.
	// The returned App carries credentials but no OwnerUserUID.
	CompleteAppManifest(ctx context.Context, code string) (*model.GitHubApp, error)

	// ExchangeUserCode trades an OAuth code issued for app's client ID for a
	// GitHub user access token.
	ExchangeUserCode(ctx context.Context, app *model.GitHubApp, code string) (string, error)

	// GetUser returns the GitHub identity that owns userToken.
	GetUser(ctx context.Context, userToken string) (*model.GitHubIdentity, error)

	// GetInstallation authenticates as app and fetches one of its installations.
	// Returns ErrInstallationNotFound when GitHub answers 404.
	GetInstallation(ctx context.Context, app *model.GitHubApp, installationID int64) (*model.InstallationAccount, error)

	// ListUserInstallations lists the installations reachable with userToken,
	// a user access token issued for an App.
	ListUserInstallations(ctx context.Context, userToken string) ([]model.AccessibleInstallation, error)

	// ListInstallationRepositories lists repositories the installation can access.
	ListInstallationRepositories(ctx context.Context, app *model.GitHubApp, installationID int64) ([]model.Repository, error)
}
