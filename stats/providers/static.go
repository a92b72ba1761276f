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

package providers

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/provideplatform/questproof/stats"
)

// StaticProvider serves fixed stats per account; it backs local development and tests
type StaticProvider struct {
	mutex    sync.RWMutex
	accounts map[string]*stats.RawStats
	errors   map[string]error
	validate func(string) bool

	calls int64

	// Hook, when set, runs before every fetch
	Hook func(ctx context.Context, account string) error
}

// NewStaticProvider returns an empty static provider using the given format check
func NewStaticProvider(validate func(string) bool) *StaticProvider {
	return &StaticProvider{
		accounts: map[string]*stats.RawStats{},
		errors:   map[string]error{},
		validate: validate,
	}
}

// Set registers the stats served for an account
func (p *StaticProvider) Set(account string, raw *stats.RawStats) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.accounts[strings.ToLower(account)] = raw
	delete(p.errors, strings.ToLower(account))
}

// Fail registers the error returned for an account
func (p *StaticProvider) Fail(account string, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.errors[strings.ToLower(account)] = err
}

// Calls returns the number of fetches served
func (p *StaticProvider) Calls() int {
	return int(atomic.LoadInt64(&p.calls))
}

// ValidateAccountFormat implements stats.Provider
func (p *StaticProvider) ValidateAccountFormat(account string) bool {
	if p.validate == nil {
		return account != ""
	}
	return p.validate(account)
}

// Source names the upstream recorded on proofs
func (p *StaticProvider) Source() string {
	return "static"
}

// FetchStats implements stats.Provider
func (p *StaticProvider) FetchStats(ctx context.Context, account string) (*stats.RawStats, error) {
	atomic.AddInt64(&p.calls, 1)

	if p.Hook != nil {
		if err := p.Hook(ctx, account); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	key := strings.ToLower(account)
	if err, ok := p.errors[key]; ok {
		return nil, err
	}

	raw, ok := p.accounts[key]
	if !ok {
		return nil, stats.NewFetchError(stats.FetchErrorNotFound, nil)
	}

	// copy so callers cannot mutate the fixture
	dup := *raw
	dup.RecentMatches = append([]stats.MatchSummary(nil), raw.RecentMatches...)
	return &dup, nil
}
