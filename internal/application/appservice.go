package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ericfisherdev/ghconnector/internal/domain/memento"
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

// AppCache is the entity cache of GitHub Apps, keyed by App ID.
type AppCache = EntityCache[int64, *model.GitHubApp]

// AppService persists GitHub Apps as Secrets and keeps exactly one live
// instance per App ID in its cache.
type AppService struct {
	store  driven.SecretStore
	github driven.GitHubClient
	cache  *AppCache
	names  SecretNamer
	logger *slog.Logger
	now    func() time.Time
}

// NewAppService creates a new AppService with the required dependencies.
func NewAppService(store driven.SecretStore, github driven.GitHubClient, cache *AppCache, names SecretNamer, logger *slog.Logger) *AppService {
	return &AppService{
		store:  store,
		github: github,
		cache:  cache,
		names:  names,
		logger: logger,
		now:    time.Now,
	}
}

// Save writes app through to the store, replacing any previous Secret, and
// then makes app the cached instance for its ID. An App missing a required
// field is rejected before anything is written.
func (s *AppService) Save(ctx context.Context, app *model.GitHubApp) error {
	labels := map[string]string{LabelSubtype: SubtypeApp}
	if app.OwnerUserUID != "" {
		labels[LabelCreatedByUser] = app.OwnerUserUID
	}

	m := memento.EncodeApp(app)
	if err := memento.AppV1.Validate(m); err != nil {
		return fmt.Errorf("saving app %d: %w", app.ID, err)
	}

	err := s.store.Create(ctx, s.names.App(app.ID), m, driven.CreateOptions{Labels: labels})
	if err != nil {
		return fmt.Errorf("saving app %d: %w", app.ID, err)
	}

	s.cache.Put(app.ID, app)
	return nil
}

// Load returns the App with the given ID, or nil if it is not stored.
// A cached instance is returned as is. Corrupt Secrets are logged and
// treated as absent.
func (s *AppService) Load(ctx context.Context, id int64) (*model.GitHubApp, error) {
	if app, ok := s.cache.Get(id); ok {
		return app, nil
	}

	name := s.names.App(id)
	secret, err := s.store.Load(ctx, name)
	if errors.Is(err, driven.ErrCorruptSecret) {
		s.logger.Warn("ignoring corrupt app secret", "name", name, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading app %d: %w", id, err)
	}
	if secret == nil {
		return nil, nil
	}

	app, err := memento.DecodeApp(secret.Data)
	if err != nil {
		s.logger.Warn("ignoring undecodable app secret", "name", name, "error", err)
		return nil, nil
	}

	s.cache.Put(id, app)
	return app, nil
}

// LoadAll returns every stored App ordered by ID. Secrets that cannot be
// identified or loaded are logged and skipped.
func (s *AppService) LoadAll(ctx context.Context) ([]*model.GitHubApp, error) {
	secrets, err := s.store.List(ctx, map[string]string{LabelSubtype: SubtypeApp})
	if err != nil {
		return nil, fmt.Errorf("listing apps: %w", err)
	}

	apps := make([]*model.GitHubApp, 0, len(secrets))
	for _, secret := range secrets {
		id, err := memento.AppID(secret.Data)
		if err != nil {
			s.logger.Warn("skipping app secret without id", "name", secret.Name, "error", err)
			continue
		}

		app, err := s.Load(ctx, id)
		if err != nil {
			s.logger.Warn("skipping app that failed to load", "app_id", id, "error", err)
			continue
		}
		if app != nil {
			apps = append(apps, app)
		}
	}

	slices.SortFunc(apps, func(a, b *model.GitHubApp) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return apps, nil
}

// FindByOwner returns the App owned by the GitHub account githubID, or nil.
func (s *AppService) FindByOwner(ctx context.Context, githubID int64) (*model.GitHubApp, error) {
	if githubID == 0 {
		return nil, nil
	}

	apps, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		if app.OwnerID == githubID {
			return app, nil
		}
	}
	return nil, nil
}

// CreateFromManifest completes the GitHub App manifest flow for code, records
// actor as the owning user, and saves the new App.
func (s *AppService) CreateFromManifest(ctx context.Context, code string, actor *model.User) (*model.GitHubApp, error) {
	app, err := s.github.CompleteAppManifest(ctx, code)
	if err != nil {
		return nil, err
	}

	app.OwnerUserUID = actor.UID
	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now().UTC()
	}

	if err := s.Save(ctx, app); err != nil {
		return nil, err
	}

	s.logger.Info("github app created", "app_id", app.ID, "slug", app.Slug, "owner_uid", actor.UID)
	return app, nil
}

// Delete removes app on behalf of actor, who must be the user that created
// it. Installations referring to app are not touched; they clear themselves
// the next time their user is loaded from the store.
func (s *AppService) Delete(ctx context.Context, app *model.GitHubApp, actor *model.User) error {
	if actor == nil || actor.UID == "" || actor.UID != app.OwnerUserUID {
		return fmt.Errorf("deleting app %d: %w", app.ID, ErrPermissionDenied)
	}

	s.cache.Evict(app.ID)
	if _, err := s.store.Delete(ctx, s.names.App(app.ID)); err != nil {
		return fmt.Errorf("deleting app %d: %w", app.ID, err)
	}

	s.logger.Info("github app deleted", "app_id", app.ID, "actor_uid", actor.UID)
	return nil
}
