package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

func TestImageRegistryList_AddGeneratesDistinctIDs(t *testing.T) {
	var list model.ImageRegistryList

	quay := list.Add(model.ImageRegistry{Hostname: "quay.io", Namespace: "x"})
	ghcr := list.Add(model.ImageRegistry{Hostname: "ghcr.io", Namespace: "y"})

	require.Len(t, list, 2)
	assert.NotEmpty(t, quay.ID)
	assert.NotEmpty(t, ghcr.ID)
	assert.NotEqual(t, quay.ID, ghcr.ID)
	assert.Equal(t, "quay.io/x", list[0].FullPath())
	assert.Equal(t, "ghcr.io/y", list[1].FullPath())
}

func TestImageRegistryList_Remove(t *testing.T) {
	var list model.ImageRegistryList
	first := list.Add(model.ImageRegistry{Hostname: "quay.io", Namespace: "x"})
	second := list.Add(model.ImageRegistry{Hostname: "ghcr.io", Namespace: "y"})

	require.NoError(t, list.Remove(first.ID))
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	err := list.Remove("missing")
	assert.ErrorIs(t, err, model.ErrRegistryNotFound)
}

func TestImageRegistryList_Get(t *testing.T) {
	var list model.ImageRegistryList
	added := list.Add(model.ImageRegistry{Hostname: "quay.io", Namespace: "x", Username: "robot"})

	got, ok := list.Get(added.ID)
	require.True(t, ok)
	assert.Equal(t, "robot", got.Username)

	_, ok = list.Get("missing")
	assert.False(t, ok)
}

func TestGitHubApp_HTMLURL(t *testing.T) {
	app := &model.GitHubApp{Slug: "my-connector"}

	assert.Equal(t, "https://github.com/apps/my-connector", app.HTMLURL(""))
	assert.Equal(t, "https://ghe.example.com/apps/my-connector", app.HTMLURL("https://ghe.example.com/"))
	assert.Equal(t, "https://github.com/apps/my-connector/installations/new", app.InstallURL(""))
}

func TestImageRegistryList_RemoveLeavesOriginalIntact(t *testing.T) {
	var list model.ImageRegistryList
	first := list.Add(model.ImageRegistry{Hostname: "quay.io", Namespace: "x"})
	list.Add(model.ImageRegistry{Hostname: "ghcr.io", Namespace: "y"})

	snapshot := list
	require.NoError(t, list.Remove(first.ID))

	assert.Len(t, list, 1)
	require.Len(t, snapshot, 2)
	assert.Equal(t, first.ID, snapshot[0].ID)
}
