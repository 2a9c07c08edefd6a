// Package redis persists agent definitions to Redis, for multi-node registry
// deployments that need definitions visible across processes without a full
// database, mirroring registry/store/replicated's key-prefix-and-JSON pattern
// (rewritten against go-redis/v9 directly rather than a Pulse replicated map).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"goa.design/convergio/internal/registry"
)

// ErrNotFound mirrors registry.ErrNotFound for store-level lookups.
var ErrNotFound = errors.New("registry/store/redis: definition not found")

const keyPrefix = "convergio:agent-definition:"

// Store is a Redis-backed definition store, safe for concurrent use since
// every operation is a single round trip to the server.
type Store struct {
	client *redis.Client
}

var _ registry.DefinitionStore = (*Store)(nil)

// New creates a Store using the provided client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// definitionDocument is the JSON wire representation of a registry.Definition.
type definitionDocument struct {
	Name               string   `json:"name"`
	Role               string   `json:"role"`
	Keywords           []string `json:"keywords,omitempty"`
	SpecializedContext string   `json:"specialized_context,omitempty"`
	SystemPrompt       string   `json:"system_prompt"`
}

// Save upserts a definition by name.
func (s *Store) Save(ctx context.Context, def registry.Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := definitionDocument{
		Name:               def.Name,
		Role:               string(def.Role),
		Keywords:           def.Keywords,
		SpecializedContext: def.SpecializedContext,
		SystemPrompt:       def.SystemPrompt,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: marshal definition %q: %w", def.Name, err)
	}
	if err := s.client.Set(ctx, key(def.Name), b, 0).Err(); err != nil {
		return fmt.Errorf("redis: save definition %q: %w", def.Name, err)
	}
	return nil
}

// FindByName retrieves a definition by name.
func (s *Store) FindByName(ctx context.Context, name string) (registry.Definition, error) {
	if err := ctx.Err(); err != nil {
		return registry.Definition{}, err
	}
	val, err := s.client.Get(ctx, key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return registry.Definition{}, ErrNotFound
	}
	if err != nil {
		return registry.Definition{}, fmt.Errorf("redis: get definition %q: %w", name, err)
	}
	var doc definitionDocument
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return registry.Definition{}, fmt.Errorf("redis: unmarshal definition %q: %w", name, err)
	}
	return fromDocument(doc), nil
}

// Delete removes a definition by name. It is not an error to delete a name
// that does not exist.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, key(name)).Err(); err != nil {
		return fmt.Errorf("redis: delete definition %q: %w", name, err)
	}
	return nil
}

// List returns every stored definition. It scans keys rather than relying on
// a secondary index, acceptable at the scale of a project's agent roster.
func (s *Store) List(ctx context.Context) ([]registry.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		defs   []registry.Definition
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan definitions: %w", err)
		}
		for _, k := range keys {
			name := strings.TrimPrefix(k, keyPrefix)
			def, err := s.FindByName(ctx, name)
			if errors.Is(err, ErrNotFound) {
				continue // deleted between SCAN and GET
			}
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return defs, nil
}

func key(name string) string {
	return keyPrefix + name
}

func fromDocument(doc definitionDocument) registry.Definition {
	return registry.Definition{
		Name:               doc.Name,
		Role:               registry.Role(doc.Role),
		Keywords:           doc.Keywords,
		SpecializedContext: doc.SpecializedContext,
		SystemPrompt:       doc.SystemPrompt,
	}
}
