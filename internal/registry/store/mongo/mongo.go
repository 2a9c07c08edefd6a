// Package mongo persists agent definitions to MongoDB for multi-process
// registry deployments, mirroring registry/store/mongo's document-conversion
// and upsert pattern (updated to the mongo-driver/v2 import paths and package
// API this module depends on).
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"goa.design/convergio/internal/registry"
)

// ErrNotFound mirrors registry.ErrNotFound for store-level lookups.
var ErrNotFound = errors.New("registry/store/mongo: definition not found")

// Store is a MongoDB-backed definition store.
type Store struct {
	collection *mongo.Collection
}

var _ registry.DefinitionStore = (*Store)(nil)

// definitionDocument is the MongoDB document representation of a
// registry.Definition.
type definitionDocument struct {
	Name               string   `bson:"_id"`
	Role               string   `bson:"role"`
	Keywords           []string `bson:"keywords,omitempty"`
	SpecializedContext string   `bson:"specialized_context,omitempty"`
	SystemPrompt       string   `bson:"system_prompt"`
}

// New creates a Store using the provided collection, typically
// `db.Collection("agent_definitions")`.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Save upserts a definition by name.
func (s *Store) Save(ctx context.Context, def registry.Definition) error {
	doc := toDocument(def)
	opts := mongo.ReplaceOptions{}
	opts.SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": def.Name}, doc, &opts)
	if err != nil {
		return fmt.Errorf("mongodb save definition %q: %w", def.Name, err)
	}
	return nil
}

// FindByName retrieves a definition by name.
func (s *Store) FindByName(ctx context.Context, name string) (registry.Definition, error) {
	var doc definitionDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return registry.Definition{}, ErrNotFound
		}
		return registry.Definition{}, fmt.Errorf("mongodb get definition %q: %w", name, err)
	}
	return fromDocument(&doc), nil
}

// Delete removes a definition by name.
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("mongodb delete definition %q: %w", name, err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every stored definition, used to repopulate a Registry's
// built-ins and keyword routing on process start via Registry.LoadFromStore.
func (s *Store) List(ctx context.Context) ([]registry.Definition, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb list definitions: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []definitionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list definitions decode: %w", err)
	}
	out := make([]registry.Definition, len(docs))
	for i, doc := range docs {
		out[i] = fromDocument(&doc)
	}
	return out, nil
}

func toDocument(def registry.Definition) definitionDocument {
	return definitionDocument{
		Name:               def.Name,
		Role:               string(def.Role),
		Keywords:           def.Keywords,
		SpecializedContext: def.SpecializedContext,
		SystemPrompt:       def.SystemPrompt,
	}
}

func fromDocument(doc *definitionDocument) registry.Definition {
	return registry.Definition{
		Name:               doc.Name,
		Role:               registry.Role(doc.Role),
		Keywords:           doc.Keywords,
		SpecializedContext: doc.SpecializedContext,
		SystemPrompt:       doc.SystemPrompt,
	}
}
