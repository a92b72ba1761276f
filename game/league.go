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
	"github.com/provideplatform/questproof/fraud"
	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/stats"
)

var leagueLadder = ladder{
	{"IRON", 0},
	{"BRONZE", 8},
	{"SILVER", 18},
	{"GOLD", 30},
	{"PLATINUM", 42},
	{"EMERALD", 52},
	{"DIAMOND", 62},
	{"MASTER", 75},
	{"GRANDMASTER", 82},
	{"CHALLENGER", 90},
}

const (
	// divisional tiers run IV (4) up to I (1)
	leagueLowestDivision = 4
	leagueMaxLP          = 100
	// apex tiers have no divisions; LP is unbounded
	leagueApexLPCeiling = 1000
	leagueApexTier      = "MASTER"

	// a typical recent KDA
	leagueTypicalKDA = 3.0
)

// LeagueOfLegends verifies League of Legends accounts by Riot ID
type LeagueOfLegends struct{}

// ID returns the game identifier
func (g *LeagueOfLegends) ID() string {
	return stats.GameLeagueOfLegends
}

// ValidateAccountFormat requires a Riot ID (name#tag)
func (g *LeagueOfLegends) ValidateAccountFormat(account string) bool {
	return validRiotID(account)
}

// Assess reads rank, division and LP into a skill assessment
func (g *LeagueOfLegends) Assess(raw *stats.RawStats) (skill.Assessment, error) {
	base, err := leagueLadder.base(raw.Rank)
	if err != nil {
		return skill.Assessment{}, err
	}

	a := skill.Assessment{
		Base:        base,
		WinRate:     raw.WinRate(),
		RankedGames: raw.RankedGames(),
		Matches:     len(raw.RecentMatches),
	}

	if leagueLadder.atLeast(raw.Rank, leagueApexTier) {
		a.Points = clamp01(float64(raw.RankPoints) / leagueApexLPCeiling)
	} else if raw.Rank != "" {
		a.Subdivision = clamp01(float64(leagueLowestDivision-raw.Division) / float64(leagueLowestDivision-1))
		a.Points = clamp01(float64(raw.RankPoints) / leagueMaxLP)
	}

	if a.Matches > 0 {
		a.Performance = raw.RecentKDA() / leagueTypicalKDA
	}

	return a, nil
}

// Signals returns the deterministic fraud signals for League of Legends stats
func (g *LeagueOfLegends) Signals(raw *stats.RawStats) []fraud.Signal {
	signals := make([]fraud.Signal, 0)

	recent := len(raw.RecentMatches)

	signals = append(signals, winRateSignals(raw, raw.Rank == "" || leagueLadder.below(raw.Rank, "DIAMOND"))...)

	if recent >= minRecentMatchesSample && raw.RecentKDA() > 10 {
		signals = append(signals, signal(fraud.CategoryImplausiblePerformance, 30, FlagRecentKDAImplausible))
	}

	if recent >= minRecentMatchesSample && leagueLadder.atLeast(raw.Rank, leagueApexTier) && raw.RecentKDA() < 1.0 {
		signals = append(signals, signal(fraud.CategoryInternalConsistency, 30, FlagRankPerformanceMismatch))
	}

	if raw.AccountLevel < 30 && leagueLadder.atLeast(raw.Rank, "DIAMOND") {
		signals = append(signals, signal(fraud.CategoryAccountCredibility, 25, FlagLowLevelHighRank))
	}

	return signals
}
