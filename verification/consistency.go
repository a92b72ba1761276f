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

package verification

import (
	"math"

	"github.com/provideplatform/questproof/stats"
)

const (
	// win rate drift at which the win rate component reaches zero
	winRateDriftTolerance = 0.25
	// skill score drift at which the rank component reaches zero; two tiers
	skillDriftTolerance = 30.0
)

// Consistency rates how plausibly fresh stats follow from the stats a proof was built on, in [0,1].
// Lifetime counters may only grow, win rate and lifetime K/D should drift slowly, and the skill
// score should not jump across tiers
func Consistency(original, fresh *stats.RawStats, originalSkill, freshSkill float64) float64 {
	if original == nil || fresh == nil {
		return 0
	}

	components := []float64{
		monotonicCounters(original, fresh),
		similarity(math.Abs(original.WinRate()-fresh.WinRate()), winRateDriftTolerance, original.RankedGames() > 0 && fresh.RankedGames() > 0),
		similarity(math.Abs(originalSkill-freshSkill), skillDriftTolerance, true),
		killDeathSimilarity(original, fresh),
	}

	total := 0.0
	for _, c := range components {
		total += c
	}
	return total / float64(len(components))
}

func monotonicCounters(original, fresh *stats.RawStats) float64 {
	counters := [][2]int{
		{original.RankedWins, fresh.RankedWins},
		{original.RankedLosses, fresh.RankedLosses},
		{original.Kills, fresh.Kills},
		{original.Deaths, fresh.Deaths},
		{original.Assists, fresh.Assists},
		{original.Headshots, fresh.Headshots},
		{original.MatchesPlayed, fresh.MatchesPlayed},
		{original.AccountLevel, fresh.AccountLevel},
		{original.AccountAgeDays, fresh.AccountAgeDays},
	}

	held := 0
	for _, c := range counters {
		if c[1] >= c[0] {
			held++
		}
	}
	return float64(held) / float64(len(counters))
}

func similarity(drift, tolerance float64, applicable bool) float64 {
	if !applicable {
		return 1
	}
	return 1 - math.Min(1, drift/tolerance)
}

func killDeathSimilarity(original, fresh *stats.RawStats) float64 {
	if original.Kills == 0 && fresh.Kills == 0 {
		return 1
	}
	a, b := original.KillDeathRatio(), fresh.KillDeathRatio()
	if a == 0 || b == 0 {
		return 0
	}
	return math.Min(a, b) / math.Max(a, b)
}
