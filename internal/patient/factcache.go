// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FactCache persists atomic-fact decompositions in Redis, keyed by case id,
// so repeated runs over the same corpus pay the decomposition prompt only
// once. A nil *FactCache is a valid no-op cache.
type FactCache struct {
	client *redis.Client
	ttl    time.Duration
}

// FactCacheConfig holds configuration for FactCache.
type FactCacheConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string
	// Password for Redis authentication (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// TTL is the decomposition expiration time (default: 7 days).
	TTL time.Duration
}

// NewFactCache connects to Redis and verifies the connection.
func NewFactCache(cfg FactCacheConfig) (*FactCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}

	return &FactCache{client: client, ttl: ttl}, nil
}

func (c *FactCache) key(caseID string) string {
	return fmt.Sprintf("facts:%s", caseID)
}

// Get returns the cached decomposition for the case, or nil when absent.
func (c *FactCache) Get(ctx context.Context, caseID string) ([]string, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, c.key(caseID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get facts: %w", err)
	}
	var facts []string
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal facts: %w", err)
	}
	return facts, nil
}

// Put stores the decomposition for the case.
func (c *FactCache) Put(ctx context.Context, caseID string, facts []string) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to marshal facts: %w", err)
	}
	if err := c.client.Set(ctx, c.key(caseID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store facts: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *FactCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
