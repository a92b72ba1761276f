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
	"sync"
	"time"
)

type memoryItem struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryBackend is a process-local Backend with TTL eviction
type MemoryBackend struct {
	mutex sync.RWMutex
	items map[string]*memoryItem
	now   func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryBackend returns a memory backend and starts its janitor; call Close at shutdown
func NewMemoryBackend() *MemoryBackend {
	b := newMemoryBackend(time.Now)
	go b.janitor(time.Minute)
	return b
}

func newMemoryBackend(now func() time.Time) *MemoryBackend {
	return &MemoryBackend{
		items: map[string]*memoryItem{},
		now:   now,
		stop:  make(chan struct{}),
	}
}

// Get implements Backend
func (b *MemoryBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	item, ok := b.items[key]
	if !ok || !b.now().Before(item.expiresAt) {
		return nil, false, nil
	}
	return item.entry, true, nil
}

// Set implements Backend
func (b *MemoryBackend) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.items[key] = &memoryItem{
		entry:     entry,
		expiresAt: b.now().Add(ttl),
	}
	return nil
}

// Len returns the number of live entries
func (b *MemoryBackend) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.items)
}

// Close stops the janitor
func (b *MemoryBackend) Close() error {
	b.once.Do(func() {
		close(b.stop)
	})
	return nil
}

func (b *MemoryBackend) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.evict()
		case <-b.stop:
			return
		}
	}
}

func (b *MemoryBackend) evict() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	now := b.now()
	for key, item := range b.items {
		if !now.Before(item.expiresAt) {
			delete(b.items, key)
		}
	}
}
