package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/registry"
)

func TestSpawnIsIdempotentByName(t *testing.T) {
	r := registry.New()
	ctx := context.Background()

	a1, err := r.Spawn(ctx, registry.RoleAnalyst, "Baccio", "")
	require.NoError(t, err)

	a2, err := r.Spawn(ctx, registry.RoleCoder, "  baccio  ", "different context")
	require.NoError(t, err)

	require.Equal(t, a1.ID, a2.ID, "second spawn with the same canonical name returns the first instance")
	require.Equal(t, registry.RoleAnalyst, a2.Role, "role from the first spawn is preserved")
}

func TestFindByNameIsCaseInsensitive(t *testing.T) {
	r := registry.New()
	ctx := context.Background()
	_, err := r.Spawn(ctx, registry.RoleWriter, "Luca", "")
	require.NoError(t, err)

	found, err := r.FindByName(ctx, "LUCA")
	require.NoError(t, err)
	require.Equal(t, "luca", found.Name)
}

func TestFindByNameNotFound(t *testing.T) {
	r := registry.New()
	_, err := r.FindByName(context.Background(), "nobody")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestFindByRoleReturnsFirstActive(t *testing.T) {
	r := registry.New()
	ctx := context.Background()
	first, _ := r.Spawn(ctx, registry.RoleCritic, "alpha", "")
	_, _ = r.Spawn(ctx, registry.RoleCritic, "beta", "")

	found, err := r.FindByRole(ctx, registry.RoleCritic)
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
}

func TestDespawnDeactivatesAgent(t *testing.T) {
	r := registry.New()
	ctx := context.Background()
	a, _ := r.Spawn(ctx, registry.RoleExecutor, "gamma", "")

	require.NoError(t, r.Despawn(ctx, a.ID))

	_, err := r.FindByRole(ctx, registry.RoleExecutor)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestLoadDefinitionsSkipsCoordinatorByConvention(t *testing.T) {
	r := registry.New()
	defs, err := r.LoadDefinitions(map[string]string{
		"chief": "---\nname: chief\nrole: orchestrator\n---\nYou are the chief.",
		"coder": "---\nname: coder\nrole: coder\nkeywords: [\"implement\", \"bug\"]\n---\nYou write code.",
	})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "coder", defs[0].Name)
}

func TestLoadDefinitionsRegistersKeywordRouting(t *testing.T) {
	r := registry.New()
	ctx := context.Background()
	_, err := r.LoadDefinitions(map[string]string{
		"coder": "---\nname: coder\nrole: coder\nkeywords: [\"implement\"]\n---\nYou write code.",
	})
	require.NoError(t, err)

	selected, err := r.SelectForTask(ctx, "please implement the parser", registry.RoleExecutor)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, "coder", selected[0].Name)
	require.Equal(t, registry.RoleCoder, selected[0].Role, "built-in role override applies on spawn")
}

func TestSelectForTaskDeduplicates(t *testing.T) {
	r := registry.New()
	ctx := context.Background()
	r.RegisterKeywords("bug", "coder")
	r.RegisterKeywords("implement", "coder")

	selected, err := r.SelectForTask(ctx, "implement a fix for this bug", registry.RoleExecutor)
	require.NoError(t, err)
	require.Len(t, selected, 1)
}

func TestActiveIDsExcludesDespawned(t *testing.T) {
	r := registry.New()
	ctx := context.Background()
	a1, _ := r.Spawn(ctx, registry.RoleAnalyst, "one", "")
	a2, _ := r.Spawn(ctx, registry.RoleAnalyst, "two", "")
	require.NoError(t, r.Despawn(ctx, a2.ID))

	ids := r.ActiveIDs()
	require.Contains(t, ids, uint64(a1.ID))
	require.NotContains(t, ids, uint64(a2.ID))
}

func TestParseDefinitionRejectsMissingDelimiter(t *testing.T) {
	_, err := registry.ParseDefinition("no front matter here")
	require.Error(t, err)
}
