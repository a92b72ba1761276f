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
	"strings"
	"time"
)

// Result of a rate limit check
type Result struct {
	Allowed    bool
	Count      int           // timestamps in the window after this check
	RetryAfter time.Duration // zero when allowed
}

// Limiter is a sliding-window request gate; a single key never admits more than limit
// requests within any trailing window even when callers race
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// UserGameKey returns the rate window key for verification attempts by a user for a game
func UserGameKey(game, userID string) string {
	return fmt.Sprintf("verify:%s:%s", strings.ToLower(game), userID)
}

// IPKey returns the rate window key for inbound requests from a client address
func IPKey(ip string) string {
	return fmt.Sprintf("ip:%s", ip)
}

// retryAfter returns the wait until the oldest timestamp leaves the window
func retryAfter(oldest, now time.Time, window time.Duration) time.Duration {
	wait := oldest.Add(window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
