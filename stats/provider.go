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

package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupportedGame is returned when no provider is registered for a game
var ErrUnsupportedGame = errors.New("unsupported game")

// Provider is the per-game boundary toward an external statistics source
type Provider interface {
	ValidateAccountFormat(account string) bool
	FetchStats(ctx context.Context, account string) (*RawStats, error)
}

// Sourced is implemented by providers that name their upstream
type Sourced interface {
	Source() string
}

// SourceOf returns the provider's upstream name, falling back to the game id
func SourceOf(provider Provider, game string) string {
	if s, ok := provider.(Sourced); ok {
		return s.Source()
	}
	return game
}

// Registry resolves the stats provider for a game
type Registry struct {
	mutex     sync.RWMutex
	providers map[string]Provider
}

// NewRegistry initializes an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: map[string]Provider{},
	}
}

// Register installs the provider for the given game, replacing any previous registration
func (r *Registry) Register(game string, provider Provider) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.providers[game] = provider
}

// Provider returns the provider registered for the given game
func (r *Registry) Provider(game string) (Provider, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	provider, ok := r.providers[game]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGame, game)
	}
	return provider, nil
}

// Games lists the registered game identifiers
func (r *Registry) Games() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	games := make([]string, 0, len(r.providers))
	for game := range r.providers {
		games = append(games, game)
	}
	sort.Strings(games)
	return games
}
