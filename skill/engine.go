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

package skill

import (
	"errors"
	"fmt"

	"github.com/provideplatform/questproof/stats"
)

// Bounds on each component of the numeric skill score; every modifier stays under one
// tier width so no single signal can move a player more than one tier
const (
	MaxWithinTierBonus     = 12.0
	MaxWinRateModifier     = 10.0
	MaxPerformanceModifier = 10.0

	// MinRankedGamesForWinRate is the sample below which win rate is ignored
	MinRankedGamesForWinRate = 20
	// MinMatchesForPerformance is the sample below which recent performance is ignored
	MinMatchesForPerformance = 5
)

// ErrUnknownRank is returned by rubrics for a rank missing from their lookup table
var ErrUnknownRank = errors.New("unknown competitive rank")

// Assessment is the game-specific reading of raw stats fed into the shared score
type Assessment struct {
	Base        float64 // rank lookup value
	Subdivision float64 // progress through the rank's subdivisions in [0,1]
	Points      float64 // normalized competitive points in [0,1]
	WinRate     float64
	RankedGames int
	Performance float64 // recent per-match performance relative to the game's norm; 1.0 is typical
	Matches     int
}

// Rubric reads one game's stats
type Rubric interface {
	Assess(raw *stats.RawStats) (Assessment, error)
}

// RubricSource resolves the rubric for a game
type RubricSource interface {
	Rubric(game string) (Rubric, error)
}

// Classification is the tier decision plus the score it was derived from
type Classification struct {
	Tier                Tier    `json:"tier"`
	Score               float64 `json:"score"`
	Base                float64 `json:"base"`
	WithinTierBonus     float64 `json:"within_tier_bonus"`
	WinRateModifier     float64 `json:"win_rate_modifier"`
	PerformanceModifier float64 `json:"performance_modifier"`
}

// Engine classifies player skill per game
type Engine struct {
	rubrics RubricSource
}

// NewEngine returns a skill engine over the given rubrics
func NewEngine(rubrics RubricSource) *Engine {
	return &Engine{
		rubrics: rubrics,
	}
}

// Classify maps raw stats for a game onto a tier
func (e *Engine) Classify(game string, raw *stats.RawStats) (*Classification, error) {
	if raw == nil {
		return nil, errors.New("no stats to classify")
	}

	rubric, err := e.rubrics.Rubric(game)
	if err != nil {
		return nil, err
	}

	assessment, err := rubric.Assess(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to assess %s stats; %w", game, err)
	}

	return Score(assessment), nil
}

// Score combines an assessment into a bounded numeric score and tier
func Score(a Assessment) *Classification {
	c := &Classification{
		Base:            clamp(a.Base, 0, MaxScore),
		WithinTierBonus: (clamp(a.Subdivision, 0, 1) + clamp(a.Points, 0, 1)) / 2 * MaxWithinTierBonus,
	}

	if a.RankedGames >= MinRankedGamesForWinRate {
		c.WinRateModifier = clamp((a.WinRate-0.5)*50, -MaxWinRateModifier, MaxWinRateModifier)
	}

	if a.Matches >= MinMatchesForPerformance && a.Performance > 0 {
		c.PerformanceModifier = clamp((a.Performance-1.0)*20, -MaxPerformanceModifier, MaxPerformanceModifier)
	}

	c.Score = clamp(c.Base+c.WithinTierBonus+c.WinRateModifier+c.PerformanceModifier, 0, MaxScore)
	c.Tier = TierForScore(c.Score)
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
