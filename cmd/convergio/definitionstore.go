package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/convergio/internal/registry"
	mongostore "goa.design/convergio/internal/registry/store/mongo"
	redisstore "goa.design/convergio/internal/registry/store/redis"
)

// configureDefinitionStore selects the registry.DefinitionStore backend from
// DEFINITION_STORE_BACKEND (empty/"memory" default: no shared store, every
// process loads its own descriptor files), "redis" (REDIS_ADDR, default
// "localhost:6379"), or "mongo" (MONGO_URI, default
// "mongodb://localhost:27017"), following the teacher's
// registry/cmd/registry envOr-driven backend selection. The returned close
// func releases the underlying client; it is a no-op for the memory default.
func configureDefinitionStore(ctx context.Context) (registry.DefinitionStore, func(), error) {
	switch envOr("DEFINITION_STORE_BACKEND", "memory") {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     envOr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redisstore.New(client), func() { _ = client.Close() }, nil

	case "mongo":
		uri := envOr("MONGO_URI", "mongodb://localhost:27017")
		client, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("ping mongodb: %w", err)
		}
		collection := client.Database(envOr("MONGO_DATABASE", "convergio")).Collection("agent_definitions")
		return mongostore.New(collection), func() { _ = client.Disconnect(ctx) }, nil

	default:
		return nil, func() {}, nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
