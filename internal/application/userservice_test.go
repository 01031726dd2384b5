package application_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/ghconnector/internal/application"
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

func linkedUser(uid string, githubID int64) *model.User {
	return &model.User{
		UID:    uid,
		Name:   "alice",
		GitHub: &model.GitHubIdentity{ID: githubID, Login: "alice", Type: "User"},
	}
}

func TestUserService_SaveThenLoadReturnsSameInstance(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})
	ctx := context.Background()
	u := &model.User{UID: "uid-1", Name: "alice"}

	require.NoError(t, svc.users.Save(ctx, u))

	loaded, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Same(t, u, loaded)
}

func TestUserService_LoadMissingReturnsNil(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})

	u, err := svc.users.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserService_LoadResolvesOwnedApp(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	seed := newServices(t, store, &mockGitHubClient{})
	require.NoError(t, seed.apps.Save(ctx, sampleApp(123, 55, "uid-1")))
	require.NoError(t, seed.users.Save(ctx, linkedUser("uid-1", 55)))

	fresh := newServices(t, store, &mockGitHubClient{})
	u, err := fresh.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(123), u.OwnsAppID)
	assert.Equal(t, "123", store.data(testNames.User("uid-1"))["ownsAppId"])
}

func TestUserService_LoadClearsStaleOwnedApp(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	seed := newServices(t, store, &mockGitHubClient{})
	require.NoError(t, seed.apps.Save(ctx, sampleApp(123, 99, "someone-else")))
	u := linkedUser("uid-1", 55)
	u.OwnsAppID = 123
	require.NoError(t, seed.users.Save(ctx, u))

	loaded, err := newServices(t, store, &mockGitHubClient{}).users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Zero(t, loaded.OwnsAppID)
	assert.NotContains(t, store.data(testNames.User("uid-1")), "ownsAppId")
}

func TestUserService_LoadRepairsDanglingInstallation(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	store.put(testNames.User("uid-1"), map[string]string{
		"mementoVersion":    "1",
		"uid":               "uid-1",
		"name":              "alice",
		"isAdmin":           "false",
		"installationId":    "4242",
		"installationAppId": "999",
	}, map[string]string{application.LabelSubtype: application.SubtypeUser})

	svc := newServices(t, store, &mockGitHubClient{})
	u, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Nil(t, u.Installation)

	persisted := store.data(testNames.User("uid-1"))
	assert.NotContains(t, persisted, "installationId")
	assert.NotContains(t, persisted, "installationAppId")
	assert.Equal(t, 1, store.creates)
}

func TestUserService_LoadRebuildsInstallation(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	github := &mockGitHubClient{
		getInstallation: func(_ context.Context, app *model.GitHubApp, id int64) (*model.InstallationAccount, error) {
			assert.Equal(t, int64(123), app.ID)
			assert.Equal(t, int64(4242), id)
			return &model.InstallationAccount{ID: 9, Login: "acme", Type: "Organization"}, nil
		},
	}

	seed := newServices(t, store, github)
	app := sampleApp(123, 55, "uid-owner")
	require.NoError(t, seed.apps.Save(ctx, app))
	u := &model.User{UID: "uid-1", Name: "alice", Installation: &model.UserInstallation{ID: 4242, App: app}}
	require.NoError(t, seed.users.Save(ctx, u))

	fresh := newServices(t, store, github)
	loaded, err := fresh.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Installation)
	assert.Equal(t, int64(4242), loaded.Installation.ID)
	assert.Equal(t, "acme", loaded.Installation.Account.Login)

	cachedApp, err := fresh.apps.Load(ctx, 123)
	require.NoError(t, err)
	assert.Same(t, cachedApp, loaded.Installation.App, "installation must share the cached app instance")
}

func TestUserService_LoadRepairsInstallationRemovedOnGitHub(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	github := &mockGitHubClient{
		getInstallation: func(context.Context, *model.GitHubApp, int64) (*model.InstallationAccount, error) {
			return nil, driven.ErrInstallationNotFound
		},
	}

	seed := newServices(t, store, github)
	app := sampleApp(123, 55, "uid-owner")
	require.NoError(t, seed.apps.Save(ctx, app))
	require.NoError(t, seed.users.Save(ctx, &model.User{UID: "uid-1", Name: "alice", Installation: &model.UserInstallation{ID: 4242, App: app}}))

	loaded, err := newServices(t, store, github).users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Nil(t, loaded.Installation)
	assert.NotContains(t, store.data(testNames.User("uid-1")), "installationId")
}

func TestUserService_LoadPropagatesGitHubFailure(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	github := &mockGitHubClient{
		getInstallation: func(context.Context, *model.GitHubApp, int64) (*model.InstallationAccount, error) {
			return nil, errors.New("github unavailable")
		},
	}

	seed := newServices(t, store, github)
	app := sampleApp(123, 55, "uid-owner")
	require.NoError(t, seed.apps.Save(ctx, app))
	require.NoError(t, seed.users.Save(ctx, &model.User{UID: "uid-1", Name: "alice", Installation: &model.UserInstallation{ID: 4242, App: app}}))

	_, err := newServices(t, store, github).users.Load(ctx, "uid-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github unavailable")
	assert.Equal(t, "4242", store.data(testNames.User("uid-1"))["installationId"])
}

func TestUserService_SaveRejectsIncompleteUser(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})

	err := svc.users.Save(context.Background(), &model.User{UID: "uid-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Zero(t, svc.store.creates)

	cached, err := svc.users.Load(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestUserService_LoadOrCreate(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	identity := &model.ClusterIdentity{UID: "uid-1", Name: "alice", Groups: []string{"dev", "cluster-admins"}}

	u, err := svc.users.LoadOrCreate(ctx, identity, model.OAuthToken{AccessToken: "sha256~one", IssuedAt: issued})
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
	assert.Equal(t, 1, svc.store.creates)

	again, err := svc.users.LoadOrCreate(ctx, identity, model.OAuthToken{AccessToken: "sha256~two", IssuedAt: issued.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "sha256~two", again.Token.AccessToken)
	assert.Equal(t, "sha256~one", u.Token.AccessToken, "earlier snapshots are not modified")
	assert.Equal(t, 1, svc.store.creates, "token refresh must patch, not recreate")
	assert.Equal(t, 1, svc.store.patches)
	assert.Equal(t, "sha256~two", svc.store.data(testNames.User("uid-1"))["accessToken"])

	cached, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Same(t, again, cached)
}

func TestUserService_LoadOrCreatePatchClearsExpiry(t *testing.T) {
	store := newMemStore()
	svc := newServices(t, store, &mockGitHubClient{})
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	identity := &model.ClusterIdentity{UID: "uid-1", Name: "alice"}

	_, err := svc.users.LoadOrCreate(ctx, identity, model.OAuthToken{
		AccessToken: "sha256~one",
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = svc.users.LoadOrCreate(ctx, identity, model.OAuthToken{AccessToken: "sha256~two", IssuedAt: issued.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, 1, store.patches)

	reloaded, err := newServices(t, store, &mockGitHubClient{}).users.Load(ctx, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, "sha256~two", reloaded.Token.AccessToken)
	assert.True(t, reloaded.Token.ExpiresAt.IsZero(), "stale expiry survived the token patch")
	assert.False(t, reloaded.Token.Expired(issued.Add(48*time.Hour)))
}

func TestUserService_LoadOrCreateSavesProfileChanges(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})
	ctx := context.Background()

	_, err := svc.users.LoadOrCreate(ctx, &model.ClusterIdentity{UID: "uid-1", Name: "alice", Groups: []string{"cluster-admins"}}, model.OAuthToken{AccessToken: "a"})
	require.NoError(t, err)

	u, err := svc.users.LoadOrCreate(ctx, &model.ClusterIdentity{UID: "uid-1", Name: "alice"}, model.OAuthToken{AccessToken: "b"})
	require.NoError(t, err)
	assert.False(t, u.IsAdmin)
	assert.Equal(t, 2, svc.store.creates)
	assert.Equal(t, "false", svc.store.data(testNames.User("uid-1"))["isAdmin"])
}

func TestUserService_LoadOrCreateFailedSaveKeepsCache(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})
	ctx := context.Background()

	first, err := svc.users.LoadOrCreate(ctx, &model.ClusterIdentity{UID: "uid-1", Name: "alice", Groups: []string{"cluster-admins"}}, model.OAuthToken{AccessToken: "a"})
	require.NoError(t, err)

	svc.store.failCreates(errors.New("apiserver unavailable"))
	_, err = svc.users.LoadOrCreate(ctx, &model.ClusterIdentity{UID: "uid-1", Name: "alice"}, model.OAuthToken{AccessToken: "b"})
	require.Error(t, err)

	cached, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Same(t, first, cached)
	assert.True(t, cached.IsAdmin)
	assert.Equal(t, "a", cached.Token.AccessToken)
}

// githubFor returns a client that hands out gho_user for any code and
// reports account as its owner and installs as reachable with it.
func githubFor(account *model.GitHubIdentity, installs ...model.AccessibleInstallation) *mockGitHubClient {
	return &mockGitHubClient{
		exchangeCode: func(context.Context, *model.GitHubApp, string) (string, error) {
			return "gho_user", nil
		},
		getUser: func(context.Context, string) (*model.GitHubIdentity, error) {
			identity := *account
			return &identity, nil
		},
		listUserInsts: func(_ context.Context, token string) ([]model.AccessibleInstallation, error) {
			if token != "gho_user" {
				return nil, errors.New("bad credentials")
			}
			return installs, nil
		},
	}
}

func TestUserService_LinkGitHub(t *testing.T) {
	github := &mockGitHubClient{
		exchangeCode: func(_ context.Context, app *model.GitHubApp, code string) (string, error) {
			assert.Equal(t, int64(123), app.ID)
			assert.Equal(t, "oauth-code", code)
			return "gho_user", nil
		},
		getUser: func(_ context.Context, token string) (*model.GitHubIdentity, error) {
			assert.Equal(t, "gho_user", token)
			return &model.GitHubIdentity{ID: 55, Login: "alice", Type: "User"}, nil
		},
	}
	svc := newServices(t, newMemStore(), github)
	ctx := context.Background()
	require.NoError(t, svc.apps.Save(ctx, sampleApp(123, 55, "uid-1")))
	u := &model.User{UID: "uid-1", Name: "alice"}

	linked, err := svc.users.LinkGitHub(ctx, u, 123, "oauth-code")
	require.NoError(t, err)
	assert.Equal(t, "alice", linked.GitHub.Login)
	assert.Equal(t, int64(123), linked.OwnsAppID)
	assert.Nil(t, u.GitHub)
	assert.Equal(t, "55", svc.store.data(testNames.User("uid-1"))["githubId"])

	unlinked, err := svc.users.UnlinkGitHub(ctx, linked)
	require.NoError(t, err)
	assert.Nil(t, unlinked.GitHub)
	assert.Zero(t, unlinked.OwnsAppID)
	assert.NotContains(t, svc.store.data(testNames.User("uid-1")), "githubId")
}

func TestUserService_LinkGitHubUnknownApp(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})

	_, err := svc.users.LinkGitHub(context.Background(), &model.User{UID: "uid-1"}, 5, "code")
	require.ErrorIs(t, err, application.ErrAppNotFound)
}

func TestUserService_SetAndRemoveInstallation(t *testing.T) {
	github := githubFor(&model.GitHubIdentity{ID: 55, Login: "alice", Type: "User"},
		model.AccessibleInstallation{ID: 4242, AppID: 123, Account: model.InstallationAccount{ID: 9, Login: "acme", Type: "Organization"}},
	)
	svc := newServices(t, newMemStore(), github)
	ctx := context.Background()
	require.NoError(t, svc.apps.Save(ctx, sampleApp(123, 99, "uid-owner")))
	u := linkedUser("uid-1", 55)
	require.NoError(t, svc.users.Save(ctx, u))

	installed, err := svc.users.SetInstallation(ctx, u, 123, 4242, "install-code")
	require.NoError(t, err)
	require.NotNil(t, installed.Installation)
	assert.Equal(t, int64(123), installed.Installation.AppID())
	assert.Equal(t, "acme", installed.Installation.Account.Login)
	assert.Nil(t, u.Installation)
	assert.Equal(t, "4242", svc.store.data(testNames.User("uid-1"))["installationId"])

	removed, err := svc.users.RemoveInstallation(ctx, installed)
	require.NoError(t, err)
	assert.Nil(t, removed.Installation)
	assert.NotContains(t, svc.store.data(testNames.User("uid-1")), "installationId")
}

func TestUserService_SetInstallationRequiresLinkedGitHub(t *testing.T) {
	github := githubFor(&model.GitHubIdentity{ID: 55, Login: "alice"},
		model.AccessibleInstallation{ID: 4242, AppID: 123},
	)
	svc := newServices(t, newMemStore(), github)
	ctx := context.Background()
	require.NoError(t, svc.apps.Save(ctx, sampleApp(123, 99, "uid-owner")))

	_, err := svc.users.SetInstallation(ctx, &model.User{UID: "uid-1", Name: "alice"}, 123, 4242, "install-code")
	require.ErrorIs(t, err, application.ErrGitHubNotLinked)
	assert.NotContains(t, svc.store.data(testNames.User("uid-1")), "installationId")
}

func TestUserService_SetInstallationRejectsUnreachableInstallation(t *testing.T) {
	tests := []struct {
		name     string
		owner    *model.GitHubIdentity
		installs []model.AccessibleInstallation
	}{
		{
			name:  "code issued to another github account",
			owner: &model.GitHubIdentity{ID: 77, Login: "mallory"},
			installs: []model.AccessibleInstallation{
				{ID: 4242, AppID: 123},
			},
		},
		{
			name:  "installation not reachable by the account",
			owner: &model.GitHubIdentity{ID: 55, Login: "alice"},
			installs: []model.AccessibleInstallation{
				{ID: 1, AppID: 123},
			},
		},
		{
			name:  "installation belongs to another app",
			owner: &model.GitHubIdentity{ID: 55, Login: "alice"},
			installs: []model.AccessibleInstallation{
				{ID: 4242, AppID: 999},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newServices(t, newMemStore(), githubFor(tt.owner, tt.installs...))
			ctx := context.Background()
			require.NoError(t, svc.apps.Save(ctx, sampleApp(123, 99, "uid-owner")))
			u := linkedUser("uid-1", 55)
			require.NoError(t, svc.users.Save(ctx, u))

			_, err := svc.users.SetInstallation(ctx, u, 123, 4242, "install-code")
			require.ErrorIs(t, err, application.ErrPermissionDenied)

			cached, err := svc.users.Load(ctx, "uid-1")
			require.NoError(t, err)
			assert.Nil(t, cached.Installation)
			assert.NotContains(t, svc.store.data(testNames.User("uid-1")), "installationId")
		})
	}
}

func TestUserService_InstallationRepositories(t *testing.T) {
	github := &mockGitHubClient{
		listRepos: func(_ context.Context, app *model.GitHubApp, id int64) ([]model.Repository, error) {
			return []model.Repository{{ID: 1, FullName: "acme/web"}}, nil
		},
	}
	svc := newServices(t, newMemStore(), github)
	ctx := context.Background()

	_, err := svc.users.InstallationRepositories(ctx, &model.User{UID: "uid-1"})
	require.ErrorIs(t, err, application.ErrNoInstallation)

	u := &model.User{UID: "uid-1", Installation: &model.UserInstallation{ID: 1, App: sampleApp(1, 1, "x")}}
	repos, err := svc.users.InstallationRepositories(ctx, u)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestUserService_CreateAppSetsOwnsAppID(t *testing.T) {
	github := &mockGitHubClient{
		completeManifest: func(context.Context, string) (*model.GitHubApp, error) {
			return sampleApp(123, 55, ""), nil
		},
	}
	svc := newServices(t, newMemStore(), github)
	ctx := context.Background()
	u := linkedUser("uid-1", 55)

	app, err := svc.users.CreateApp(ctx, u, "code")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", app.OwnerUserUID)
	assert.Equal(t, "123", svc.store.data(testNames.User("uid-1"))["ownsAppId"])

	cached, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(123), cached.OwnsAppID)
}

func TestUserService_DeleteAppClearsReferences(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})
	ctx := context.Background()
	app := sampleApp(123, 55, "uid-1")
	require.NoError(t, svc.apps.Save(ctx, app))
	u := linkedUser("uid-1", 55)
	u.OwnsAppID = 123
	u.Installation = &model.UserInstallation{ID: 4242, App: app}
	require.NoError(t, svc.users.Save(ctx, u))

	require.NoError(t, svc.users.DeleteApp(ctx, u, 123))

	cached, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Zero(t, cached.OwnsAppID)
	assert.Nil(t, cached.Installation)

	loaded, err := svc.apps.Load(ctx, 123)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestUserService_DeleteAppByNonOwner(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})
	ctx := context.Background()
	require.NoError(t, svc.apps.Save(ctx, sampleApp(123, 55, "uid-1")))

	err := svc.users.DeleteApp(ctx, &model.User{UID: "uid-2"}, 123)
	require.ErrorIs(t, err, application.ErrPermissionDenied)
}

func TestUserService_ImageRegistries(t *testing.T) {
	store := newMemStore()
	svc := newServices(t, store, &mockGitHubClient{})
	ctx := context.Background()
	u := &model.User{UID: "uid-1", Name: "alice"}

	quay, err := svc.users.AddImageRegistry(ctx, u, model.ImageRegistry{Hostname: "quay.io", Namespace: "x"})
	require.NoError(t, err)
	ghcr, err := svc.users.AddImageRegistry(ctx, u, model.ImageRegistry{Hostname: "ghcr.io", Namespace: "y"})
	require.NoError(t, err)
	assert.Empty(t, u.ImageRegistries)

	cached, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	require.Len(t, cached.ImageRegistries, 2)
	assert.NotEqual(t, quay.ID, ghcr.ID)
	assert.Equal(t, "quay.io/x", cached.ImageRegistries[0].FullPath())
	assert.Equal(t, "ghcr.io/y", cached.ImageRegistries[1].FullPath())

	reloaded, err := newServices(t, store, &mockGitHubClient{}).users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, cached.ImageRegistries, reloaded.ImageRegistries)

	require.NoError(t, svc.users.RemoveImageRegistry(ctx, cached, quay.ID))
	assert.Len(t, cached.ImageRegistries, 2)

	current, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Len(t, current.ImageRegistries, 1)
	require.ErrorIs(t, svc.users.RemoveImageRegistry(ctx, current, quay.ID), model.ErrRegistryNotFound)
}

func TestUserService_FailedSaveLeavesCacheUntouched(t *testing.T) {
	store := newMemStore()
	svc := newServices(t, store, &mockGitHubClient{})
	ctx := context.Background()
	u := &model.User{UID: "uid-1", Name: "alice"}
	require.NoError(t, svc.users.Save(ctx, u))

	store.failCreates(errors.New("apiserver unavailable"))
	_, err := svc.users.AddImageRegistry(ctx, u, model.ImageRegistry{Hostname: "quay.io", Namespace: "x"})
	require.Error(t, err)

	cached, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Empty(t, cached.ImageRegistries)
	assert.Same(t, u, cached)

	reloaded, err := newServices(t, store, &mockGitHubClient{}).users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Empty(t, reloaded.ImageRegistries)
}

func TestUserService_ConcurrentMutationAndRead(t *testing.T) {
	svc := newServices(t, newMemStore(), &mockGitHubClient{})
	ctx := context.Background()
	u := &model.User{UID: "uid-1", Name: "alice"}
	require.NoError(t, svc.users.Save(ctx, u))

	const writers = 20
	var wg sync.WaitGroup

	for i := range writers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.users.AddImageRegistry(ctx, u, model.ImageRegistry{
				Hostname:  "quay.io",
				Namespace: strconv.Itoa(i),
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			snapshot, err := svc.users.Load(ctx, "uid-1")
			if !assert.NoError(t, err) {
				return
			}
			for _, r := range snapshot.ImageRegistries {
				assert.NotEmpty(t, r.ID)
			}
			_ = snapshot.Installation.AppID()
		}()
	}
	wg.Wait()

	final, err := svc.users.Load(ctx, "uid-1")
	require.NoError(t, err)
	assert.Len(t, final.ImageRegistries, writers)
}
