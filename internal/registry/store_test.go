package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/convergio/internal/registry"
)

// fakeDefinitionStore is an in-memory registry.DefinitionStore stand-in for
// the redis/mongo implementations, enough to exercise Registry.LoadFromStore
// without a live server.
type fakeDefinitionStore struct {
	defs map[string]registry.Definition
}

func newFakeDefinitionStore(defs ...registry.Definition) *fakeDefinitionStore {
	s := &fakeDefinitionStore{defs: make(map[string]registry.Definition)}
	for _, d := range defs {
		s.defs[d.Name] = d
	}
	return s
}

func (s *fakeDefinitionStore) Save(_ context.Context, def registry.Definition) error {
	s.defs[def.Name] = def
	return nil
}

func (s *fakeDefinitionStore) FindByName(_ context.Context, name string) (registry.Definition, error) {
	d, ok := s.defs[name]
	if !ok {
		return registry.Definition{}, registry.ErrNotFound
	}
	return d, nil
}

func (s *fakeDefinitionStore) Delete(_ context.Context, name string) error {
	delete(s.defs, name)
	return nil
}

func (s *fakeDefinitionStore) List(_ context.Context) ([]registry.Definition, error) {
	out := make([]registry.Definition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	return out, nil
}

var _ registry.DefinitionStore = (*fakeDefinitionStore)(nil)

func TestLoadFromStoreRegistersBuiltinsAndKeywordRouting(t *testing.T) {
	store := newFakeDefinitionStore(registry.Definition{
		Name:     "baccio",
		Role:     registry.RoleAnalyst,
		Keywords: []string{"architecture"},
	})
	r := registry.New()
	ctx := context.Background()

	loaded, err := r.LoadFromStore(ctx, store)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	agents, err := r.SelectForTask(ctx, "needs an architecture review", registry.RoleAnalyst)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "baccio", agents[0].Name)
	require.Equal(t, registry.RoleAnalyst, agents[0].Role)
}

func TestLoadFromStoreSkipsConventionallyReservedNames(t *testing.T) {
	store := newFakeDefinitionStore(
		registry.Definition{Name: "coordinator", Role: registry.RoleOrchestrator},
		registry.Definition{Name: "luca", Role: registry.RoleCritic},
	)
	r := registry.New()

	loaded, err := r.LoadFromStore(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "luca", loaded[0].Name)
}
