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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/stats"
	"golang.org/x/sync/singleflight"
)

// Entry is a memoized provider result
type Entry struct {
	Stats     *stats.RawStats `json:"stats"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Backend stores entries with a time-to-live
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
}

// FetchFunc produces a fresh value on a cache miss
type FetchFunc func(ctx context.Context) (*stats.RawStats, error)

// StatsCache is a read-through cache in front of rate-limited upstream stats providers;
// concurrent misses for the same key collapse into a single fetch and failures are never stored
type StatsCache struct {
	backend Backend
	group   singleflight.Group
	now     func() time.Time
}

// New returns a stats cache over the given backend
func New(backend Backend) *StatsCache {
	return &StatsCache{
		backend: backend,
		now:     time.Now,
	}
}

// Key returns the cache key for a game account; the account itself is not stored in the key
func Key(game, account string) string {
	digest := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(account))))
	return fmt.Sprintf("%s:%s", strings.ToLower(game), hex.EncodeToString(digest[:]))
}

// GetOrFetch returns the cached stats for key when younger than ttl, otherwise fetches once
// on behalf of every concurrent requester of the same key
func (c *StatsCache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (*stats.RawStats, bool, error) {
	if entry, ok := c.lookup(ctx, key, ttl); ok {
		return entry.Stats, true, nil
	}

	raw, err := c.flight(ctx, key, ttl, fetch)
	if err != nil && isCancellation(err) && ctx.Err() == nil {
		// the flight belonged to a caller which gave up; fetch again under our own context
		common.Log.Debugf("stats cache flight for %s was canceled by another caller; retrying", key)
		raw, err = c.flight(ctx, key, ttl, fetch)
	}
	if err != nil {
		return nil, false, err
	}

	return raw, false, nil
}

func (c *StatsCache) flight(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (*stats.RawStats, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if entry, ok := c.lookup(ctx, key, ttl); ok {
			return entry.Stats, nil
		}

		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, errors.New("stats fetch returned no value")
		}

		entry := &Entry{
			Stats:     raw,
			FetchedAt: c.now(),
		}
		if err := c.backend.Set(ctx, key, entry, ttl); err != nil {
			common.Log.Warningf("failed to store stats cache entry %s; %s", key, err.Error())
		}
		return raw, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*stats.RawStats), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *StatsCache) lookup(ctx context.Context, key string, ttl time.Duration) (*Entry, bool) {
	entry, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		common.Log.Warningf("failed to read stats cache entry %s; %s", key, err.Error())
		return nil, false
	}
	if !ok || entry == nil || entry.Stats == nil {
		return nil, false
	}
	if c.now().Sub(entry.FetchedAt) >= ttl {
		return nil, false
	}
	return entry, true
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
