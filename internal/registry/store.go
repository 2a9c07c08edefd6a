package registry

import "context"

// DefinitionStore persists parsed agent Definitions for multi-process
// registry deployments, so every process in a cluster sees the same built-in
// roles and keyword routing instead of relying on each process loading the
// same descriptor files from local disk. registry/store/redis and
// registry/store/mongo implement it.
type DefinitionStore interface {
	Save(ctx context.Context, def Definition) error
	FindByName(ctx context.Context, name string) (Definition, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Definition, error)
}

// LoadFromStore lists every Definition in store and registers it as a
// built-in (role override + keyword routing) on r, the DefinitionStore
// equivalent of LoadDefinitions's descriptor-parsing path. Definitions named
// by skippedDefinitionNames are skipped for consistency with LoadDefinitions.
func (r *Registry) LoadFromStore(ctx context.Context, store DefinitionStore) ([]Definition, error) {
	defs, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	var loaded []Definition
	for _, def := range defs {
		if skippedDefinitionNames[canonical(def.Name)] {
			continue
		}
		r.RegisterBuiltin(def.Name, def.Role)
		for _, kw := range def.Keywords {
			r.RegisterKeywords(kw, def.Name)
		}
		loaded = append(loaded, def)
	}
	return loaded, nil
}
