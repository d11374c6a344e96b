package redis

// Package redis provides Redis-based adapters for the gather system.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatherhq/gather-ui-api/internal/ports"
	"github.com/redis/go-redis/v9"
)

var _ ports.IntentScope = (*IntentScope)(nil)

// IntentScope is the durable storage scope for pending intents and provider
// auth artifacts. It survives browsing-context closes, which is why OAuth
// flows that bounce through an intermediate context still find their values.
type IntentScope struct {
	client redis.UniversalClient
	prefix string
}

// NewIntentScope creates a Redis-backed durable scope.
func NewIntentScope(client redis.UniversalClient) *IntentScope {
	return &IntentScope{
		client: client,
		prefix: "gather:intent:",
	}
}

// NewIntentScopeWithPrefix creates a durable scope with a custom key prefix.
func NewIntentScopeWithPrefix(client redis.UniversalClient, prefix string) *IntentScope {
	return &IntentScope{
		client: client,
		prefix: prefix,
	}
}

func (s *IntentScope) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (s *IntentScope) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if ttl < 0 {
		return errors.New("ttl cannot be negative")
	}

	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *IntentScope) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil // Nothing to delete
	}

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ClearPrefix removes every key under prefix using cursor-based SCAN so it
// stays safe against large keyspaces.
func (s *IntentScope) ClearPrefix(ctx context.Context, prefix string) error {
	pattern := s.prefix + prefix + "*"

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err = s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
