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

package game

import (
	"fmt"
	"sort"
	"strings"

	"github.com/provideplatform/questproof/fraud"
	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/stats"
)

// Definition is everything the verification flow needs to know about one game
type Definition interface {
	fraud.Profile
	skill.Rubric

	ID() string
	ValidateAccountFormat(account string) bool
}

// Registry resolves game definitions by identifier
type Registry struct {
	definitions map[string]Definition
}

// NewRegistry indexes the given definitions by ID
func NewRegistry(definitions ...Definition) *Registry {
	r := &Registry{
		definitions: map[string]Definition{},
	}
	for _, d := range definitions {
		r.definitions[d.ID()] = d
	}
	return r
}

// DefaultRegistry returns a registry of every supported game
func DefaultRegistry() *Registry {
	return NewRegistry(
		&LeagueOfLegends{},
		&Valorant{},
		&CounterStrike{},
	)
}

// Definition returns the definition for the game
func (r *Registry) Definition(game string) (Definition, error) {
	d, ok := r.definitions[game]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stats.ErrUnsupportedGame, game)
	}
	return d, nil
}

// Profile returns the fraud profile for the game
func (r *Registry) Profile(game string) (fraud.Profile, error) {
	return r.Definition(game)
}

// Rubric returns the skill rubric for the game
func (r *Registry) Rubric(game string) (skill.Rubric, error) {
	return r.Definition(game)
}

// Games lists the supported game identifiers
func (r *Registry) Games() []string {
	games := make([]string, 0, len(r.definitions))
	for game := range r.definitions {
		games = append(games, game)
	}
	sort.Strings(games)
	return games
}

// rank is one step of a game's competitive ladder
type rank struct {
	name string
	base float64
}

type ladder []rank

// index returns the ladder position of the rank, or -1 when unknown
func (l ladder) index(name string) int {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, r := range l {
		if r.name == name {
			return i
		}
	}
	return -1
}

// base returns the skill base of the rank; unranked accounts sit at zero
func (l ladder) base(name string) (float64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, nil
	}
	i := l.index(name)
	if i == -1 {
		return 0, fmt.Errorf("%w: %s", skill.ErrUnknownRank, name)
	}
	return l[i].base, nil
}

// atLeast reports whether rank is known and at or above floor
func (l ladder) atLeast(name, floor string) bool {
	i := l.index(name)
	return i != -1 && i >= l.index(floor)
}

// below reports whether rank is known and strictly below ceiling
func (l ladder) below(name, ceiling string) bool {
	i := l.index(name)
	return i != -1 && i < l.index(ceiling)
}

// winRateSignals checks a ranked record over a meaningful sample. Matchmaking pairs players with
// equals, so a record at or above 80% must still be climbing out of a tier below the high tier,
// and a record above 95% does not fit any rank, including apex tiers and no rank at all
func winRateSignals(raw *stats.RawStats, belowHighTier bool) []fraud.Signal {
	signals := make([]fraud.Signal, 0, 2)
	if raw.RankedGames() < minRankedGamesSample {
		return signals
	}

	winRate := raw.WinRate()
	if winRate > implausibleWinRate {
		signals = append(signals, signal(fraud.CategoryImplausiblePerformance, 50, FlagWinRateImplausible))
	}
	if winRate > implausibleWinRate || (winRate >= sustainedWinRate && belowHighTier) {
		signals = append(signals, signal(fraud.CategoryInternalConsistency, 30, FlagWinRateRankMismatch))
	}
	return signals
}

func signal(category string, weight int, flag string) fraud.Signal {
	return fraud.Signal{
		Category: category,
		Weight:   weight,
		Flag:     flag,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
