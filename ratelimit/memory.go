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
	"sync"
	"time"
)

const defaultJanitorInterval = time.Minute

// MemoryLimiter is a process-local Limiter
type MemoryLimiter struct {
	mutex   sync.Mutex
	windows map[string][]time.Time
	longest map[string]time.Duration
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryLimiter returns a memory limiter and starts its janitor; call Close at shutdown
func NewMemoryLimiter() *MemoryLimiter {
	l := newMemoryLimiter(time.Now)
	go l.janitor(defaultJanitorInterval)
	return l
}

func newMemoryLimiter(now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		windows: map[string][]time.Time{},
		longest: map[string]time.Duration{},
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Allow implements Limiter
func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	timestamps := prune(l.windows[key], now.Add(-window))

	if window > l.longest[key] {
		l.longest[key] = window
	}

	if len(timestamps) >= limit {
		l.windows[key] = timestamps
		wait := time.Duration(0)
		if len(timestamps) > 0 {
			wait = retryAfter(timestamps[0], now, window)
		}
		return &Result{
			Allowed:    false,
			Count:      len(timestamps),
			RetryAfter: wait,
		}, nil
	}

	timestamps = append(timestamps, now)
	l.windows[key] = timestamps

	return &Result{
		Allowed: true,
		Count:   len(timestamps),
	}, nil
}

// Close stops the janitor
func (l *MemoryLimiter) Close() error {
	l.once.Do(func() {
		close(l.stop)
	})
	return nil
}

func (l *MemoryLimiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops keys whose timestamps have all left their longest observed window
func (l *MemoryLimiter) sweep() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	for key, timestamps := range l.windows {
		remaining := prune(timestamps, now.Add(-l.longest[key]))
		if len(remaining) == 0 {
			delete(l.windows, key)
			delete(l.longest, key)
			continue
		}
		l.windows[key] = remaining
	}
}

// prune returns the timestamps strictly newer than cutoff; input is ordered oldest first
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return timestamps
	}
	return append([]time.Time(nil), timestamps[i:]...)
}
