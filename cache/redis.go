/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "questproof:stats:"

// RedisBackend shares cached stats between instances
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend returns a redis-backed cache backend
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{
		client: client,
	}
}

// Get implements Backend
func (b *RedisBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached stats %s; %s", key, err.Error())
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached stats %s; %s", key, err.Error())
	}
	return &entry, true, nil
}

// Set implements Backend
func (b *RedisBackend) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err()
}
