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

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/provideplatform/questproof/common"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "questproof:ratelimit:"

// slidingWindowScript prunes, counts and records in one atomic step so racing callers
// cannot overshoot the limit; returns {allowed, count, oldest_ms}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local oldestScore = now
	if oldest[2] then
		oldestScore = tonumber(oldest[2])
	end
	return {0, count, oldestScore}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisLimiter is a Limiter shared by every instance pointed at the same redis
type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisLimiter returns a redis-backed limiter
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		now:    time.Now,
	}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := l.now()
	member, err := common.NewID()
	if err != nil {
		return nil, err
	}

	vals, err := slidingWindowScript.Run(
		ctx,
		l.client,
		[]string{redisKeyPrefix + key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate rate window for key %s; %s", key, err.Error())
	}

	if len(vals) != 3 {
		return nil, fmt.Errorf("unexpected rate window reply for key %s", key)
	}

	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldestMillis, _ := vals[2].(int64)

	result := &Result{
		Allowed: allowed == 1,
		Count:   int(count),
	}
	if !result.Allowed {
		result.RetryAfter = retryAfter(time.UnixMilli(oldestMillis), now, window)
	}

	return result, nil
}
