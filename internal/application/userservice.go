package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ericfisherdev/ghconnector/internal/domain/memento"
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

// UserCache is the entity cache of Users, keyed by cluster UID.
type UserCache = EntityCache[string, *model.User]

// UserService persists Users as Secrets, rebuilds their references to Apps
// and installations on load, and applies every user mutation followed by a
// save.
type UserService struct {
	// mu serializes mutate-then-save sequences on users.
	mu sync.Mutex

	store      driven.SecretStore
	github     driven.GitHubClient
	apps       *AppService
	cache      *UserCache
	names      SecretNamer
	adminGroup string
	logger     *slog.Logger
}

// NewUserService creates a new UserService. Members of adminGroup are flagged
// as administrators when they log in.
func NewUserService(
	store driven.SecretStore,
	github driven.GitHubClient,
	apps *AppService,
	cache *UserCache,
	names SecretNamer,
	adminGroup string,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		store:      store,
		github:     github,
		apps:       apps,
		cache:      cache,
		names:      names,
		adminGroup: adminGroup,
		logger:     logger,
	}
}

// Save writes u through to the store, replacing any previous Secret, and
// then makes u the cached instance for its UID.
func (s *UserService) Save(ctx context.Context, u *model.User) error {
	m, err := memento.EncodeUser(u)
	if err != nil {
		return fmt.Errorf("encoding user %q: %w", u.UID, err)
	}
	if err := memento.UserV1.Validate(m); err != nil {
		return fmt.Errorf("saving user %q: %w", u.UID, err)
	}

	err = s.store.Create(ctx, s.names.User(u.UID), m, driven.CreateOptions{
		Labels: map[string]string{LabelSubtype: SubtypeUser},
	})
	if err != nil {
		return fmt.Errorf("saving user %q: %w", u.UID, err)
	}

	s.cache.Put(u.UID, u)
	return nil
}

// Load returns the User with the given UID, or nil if it is not stored.
//
// On a cache miss the installation and owned App references are resolved.
// References to Apps or installations that no longer exist are cleared and
// the repaired User is saved before it is returned.
func (s *UserService) Load(ctx context.Context, uid string) (*model.User, error) {
	if u, ok := s.cache.Get(uid); ok {
		return u, nil
	}

	name := s.names.User(uid)
	secret, err := s.store.Load(ctx, name)
	if errors.Is(err, driven.ErrCorruptSecret) {
		s.logger.Warn("ignoring corrupt user secret", "name", name, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %q: %w", uid, err)
	}
	if secret == nil {
		return nil, nil
	}

	in, err := memento.DecodeUser(secret.Data)
	if err != nil {
		s.logger.Warn("ignoring undecodable user secret", "name", name, "error", err)
		return nil, nil
	}
	u := in.User

	var repaired bool
	if in.HasInstallation() {
		inst, warning, err := s.resolveInstallation(ctx, u.UID, in.InstallationAppID, in.InstallationID)
		if err != nil {
			return nil, err
		}
		if warning != nil {
			s.warnRepair(warning)
			repaired = true
		}
		u.Installation = inst
	}

	changed, err := s.resolveOwnedApp(ctx, u)
	if err != nil {
		return nil, err
	}

	if repaired || changed {
		if err := s.Save(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	}

	s.cache.Put(uid, u)
	return u, nil
}

// resolveInstallation rebuilds an installation from its stored IDs. A
// missing App, or an installation GitHub no longer knows, yields a warning
// and no installation.
func (s *UserService) resolveInstallation(ctx context.Context, uid string, appID, installationID int64) (*model.UserInstallation, *SelfRepairWarning, error) {
	app, err := s.apps.Load(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		return nil, &SelfRepairWarning{UserUID: uid, Reference: "installation", ID: installationID, Reason: fmt.Sprintf("app %d not found", appID)}, nil
	}

	account, err := s.github.GetInstallation(ctx, app, installationID)
	if errors.Is(err, driven.ErrInstallationNotFound) {
		return nil, &SelfRepairWarning{UserUID: uid, Reference: "installation", ID: installationID, Reason: "installation removed on github"}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolving installation %d of user %q: %w", installationID, uid, err)
	}

	return &model.UserInstallation{ID: installationID, App: app, Account: *account}, nil, nil
}

// resolveOwnedApp checks u.OwnsAppID against the stored Apps and reports
// whether it changed. A stale ID is cleared; a missing one is looked up by
// the user's GitHub identity.
func (s *UserService) resolveOwnedApp(ctx context.Context, u *model.User) (bool, error) {
	stored := u.OwnsAppID

	if stored != 0 {
		app, err := s.apps.Load(ctx, stored)
		if err != nil {
			return false, err
		}
		if app != nil && u.HasGitHub() && app.OwnerID == u.GitHub.ID {
			return false, nil
		}

		reason := "app not found"
		if app != nil {
			reason = "app owned by another github account"
		}
		s.warnRepair(&SelfRepairWarning{UserUID: u.UID, Reference: "ownsApp", ID: stored, Reason: reason})
		u.OwnsAppID = 0
	}

	if u.HasGitHub() {
		app, err := s.apps.FindByOwner(ctx, u.GitHub.ID)
		if err != nil {
			return false, err
		}
		if app != nil {
			u.OwnsAppID = app.ID
		}
	}

	return u.OwnsAppID != stored, nil
}

func (s *UserService) warnRepair(w *SelfRepairWarning) {
	s.logger.Warn("cleared dangling user reference",
		"uid", w.UserUID,
		"reference", w.Reference,
		"id", w.ID,
		"reason", w.Reason,
	)
}

// LoadOrCreate returns the User for identity, creating it on first login.
// For an existing user only the token fields are patched unless the display
// name or admin flag changed.
func (s *UserService) LoadOrCreate(ctx context.Context, identity *model.ClusterIdentity, token model.OAuthToken) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	isAdmin := slices.Contains(identity.Groups, s.adminGroup)

	existing, err := s.Load(ctx, identity.UID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		u := &model.User{
			UID:     identity.UID,
			Name:    identity.Name,
			IsAdmin: isAdmin,
			Token:   token,
		}
		if err := s.Save(ctx, u); err != nil {
			return nil, err
		}
		s.logger.Info("user created", "uid", u.UID, "name", u.Name)
		return u, nil
	}

	u := existing.Clone()
	u.Name = identity.Name
	u.IsAdmin = isAdmin
	u.Token = token

	if u.Name != existing.Name || u.IsAdmin != existing.IsAdmin {
		if err := s.Save(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	}

	err = s.store.Patch(ctx, s.names.User(u.UID), memento.EncodeToken(u))
	if errors.Is(err, driven.ErrSecretNotFound) {
		if err := s.Save(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("updating token of user %q: %w", u.UID, err)
	}

	s.cache.Put(u.UID, u)
	return u, nil
}

// mutate applies fn to a copy of the latest instance of u and saves the
// copy, which becomes the cached instance only once the write succeeded.
// Neither u nor the previously cached instance is modified.
func (s *UserService) mutate(ctx context.Context, u *model.User, fn func(u *model.User) error) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := u
	if cached, ok := s.cache.Get(u.UID); ok {
		base = cached
	}

	next := base.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *UserService) loadApp(ctx context.Context, appID int64) (*model.GitHubApp, error) {
	app, err := s.apps.Load(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, fmt.Errorf("app %d: %w", appID, ErrAppNotFound)
	}
	return app, nil
}

// LinkGitHub exchanges an OAuth code issued for the App appID, records the
// GitHub account it belongs to on u, and resolves the App that account owns.
// It returns the updated user.
func (s *UserService) LinkGitHub(ctx context.Context, u *model.User, appID int64, code string) (*model.User, error) {
	app, err := s.loadApp(ctx, appID)
	if err != nil {
		return nil, err
	}

	userToken, err := s.github.ExchangeUserCode(ctx, app, code)
	if err != nil {
		return nil, err
	}
	identity, err := s.github.GetUser(ctx, userToken)
	if err != nil {
		return nil, err
	}
	owned, err := s.apps.FindByOwner(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, u, func(u *model.User) error {
		u.GitHub = identity
		u.OwnsAppID = 0
		if owned != nil {
			u.OwnsAppID = owned.ID
		}
		return nil
	})
}

// UnlinkGitHub forgets the GitHub identity of u along with everything
// derived from it.
func (s *UserService) UnlinkGitHub(ctx context.Context, u *model.User) (*model.User, error) {
	return s.mutate(ctx, u, func(u *model.User) error {
		u.GitHub = nil
		u.OwnsAppID = 0
		u.Installation = nil
		return nil
	})
}

// SetInstallation records installationID of App appID as the installation
// of u. code is an OAuth code issued for the App to the GitHub account u has
// linked; the installation must be one GitHub reports as reachable by that
// account.
func (s *UserService) SetInstallation(ctx context.Context, u *model.User, appID, installationID int64, code string) (*model.User, error) {
	if !u.HasGitHub() {
		return nil, ErrGitHubNotLinked
	}

	app, err := s.loadApp(ctx, appID)
	if err != nil {
		return nil, err
	}

	userToken, err := s.github.ExchangeUserCode(ctx, app, code)
	if err != nil {
		return nil, err
	}
	identity, err := s.github.GetUser(ctx, userToken)
	if err != nil {
		return nil, err
	}
	if identity.ID != u.GitHub.ID {
		return nil, fmt.Errorf("code was issued to github user %s, not %s: %w", identity.Login, u.GitHub.Login, ErrPermissionDenied)
	}

	reachable, err := s.github.ListUserInstallations(ctx, userToken)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(reachable, func(inst model.AccessibleInstallation) bool {
		return inst.ID == installationID && inst.AppID == app.ID
	})
	if idx < 0 {
		return nil, fmt.Errorf("installation %d of app %d is not reachable by github user %s: %w",
			installationID, app.ID, u.GitHub.Login, ErrPermissionDenied)
	}
	account := reachable[idx].Account

	return s.mutate(ctx, u, func(u *model.User) error {
		u.Installation = &model.UserInstallation{ID: installationID, App: app, Account: account}
		return nil
	})
}

// RemoveInstallation clears the installation of u.
func (s *UserService) RemoveInstallation(ctx context.Context, u *model.User) (*model.User, error) {
	return s.mutate(ctx, u, func(u *model.User) error {
		u.Installation = nil
		return nil
	})
}

// InstallationRepositories lists the repositories the installation of u can access.
func (s *UserService) InstallationRepositories(ctx context.Context, u *model.User) ([]model.Repository, error) {
	inst := u.Installation
	if inst == nil || inst.App == nil {
		return nil, ErrNoInstallation
	}
	return s.github.ListInstallationRepositories(ctx, inst.App, inst.ID)
}

// CreateApp creates a GitHub App from a manifest code on behalf of u. When
// the App is owned by the linked GitHub account of u it becomes the App u owns.
func (s *UserService) CreateApp(ctx context.Context, u *model.User, code string) (*model.GitHubApp, error) {
	app, err := s.apps.CreateFromManifest(ctx, code, u)
	if err != nil {
		return nil, err
	}

	if !u.HasGitHub() || app.OwnerID != u.GitHub.ID {
		return app, nil
	}

	_, err = s.mutate(ctx, u, func(u *model.User) error {
		u.OwnsAppID = app.ID
		return nil
	})
	return app, err
}

// DeleteApp deletes the App appID on behalf of u and clears the references
// u holds to it.
func (s *UserService) DeleteApp(ctx context.Context, u *model.User, appID int64) error {
	app, err := s.loadApp(ctx, appID)
	if err != nil {
		return err
	}
	if err := s.apps.Delete(ctx, app, u); err != nil {
		return err
	}

	if u.OwnsAppID != appID && u.Installation.AppID() != appID {
		return nil
	}
	_, err = s.mutate(ctx, u, func(u *model.User) error {
		if u.OwnsAppID == appID {
			u.OwnsAppID = 0
		}
		if u.Installation.AppID() == appID {
			u.Installation = nil
		}
		return nil
	})
	return err
}

// AddImageRegistry appends r to the registries of u and returns the stored
// entry with its generated ID.
func (s *UserService) AddImageRegistry(ctx context.Context, u *model.User, r model.ImageRegistry) (model.ImageRegistry, error) {
	var added model.ImageRegistry
	_, err := s.mutate(ctx, u, func(u *model.User) error {
		added = u.ImageRegistries.Add(r)
		return nil
	})
	return added, err
}

// RemoveImageRegistry removes the registry id from u.
func (s *UserService) RemoveImageRegistry(ctx context.Context, u *model.User, id string) error {
	_, err := s.mutate(ctx, u, func(u *model.User) error {
		return u.ImageRegistries.Remove(id)
	})
	return err
}
