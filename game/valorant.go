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

var valorantLadder = ladder{
	{"IRON", 0},
	{"BRONZE", 8},
	{"SILVER", 18},
	{"GOLD", 30},
	{"PLATINUM", 42},
	{"DIAMOND", 52},
	{"ASCENDANT", 62},
	{"IMMORTAL", 75},
	{"RADIANT", 90},
}

const (
	// divisional tiers run 1 up to 3
	valorantHighestDivision = 3
	valorantMaxRR           = 100
	valorantRadiantCeiling  = 1000

	// a typical average combat score
	valorantTypicalACS = 220.0
)

// Valorant verifies Valorant accounts by Riot ID
type Valorant struct{}

// ID returns the game identifier
func (g *Valorant) ID() string {
	return stats.GameValorant
}

// ValidateAccountFormat requires a Riot ID (name#tag)
func (g *Valorant) ValidateAccountFormat(account string) bool {
	return validRiotID(account)
}

// Assess reads rank, division and RR into a skill assessment
func (g *Valorant) Assess(raw *stats.RawStats) (skill.Assessment, error) {
	base, err := valorantLadder.base(raw.Rank)
	if err != nil {
		return skill.Assessment{}, err
	}

	a := skill.Assessment{
		Base:        base,
		WinRate:     raw.WinRate(),
		RankedGames: raw.RankedGames(),
		Matches:     len(raw.RecentMatches),
	}

	if valorantLadder.atLeast(raw.Rank, "RADIANT") {
		a.Points = clamp01(float64(raw.RankPoints) / valorantRadiantCeiling)
	} else if raw.Rank != "" {
		a.Subdivision = clamp01(float64(raw.Division-1) / float64(valorantHighestDivision-1))
		a.Points = clamp01(float64(raw.RankPoints) / valorantMaxRR)
	}

	if a.Matches > 0 {
		a.Performance = raw.RecentAverageScore() / valorantTypicalACS
	}

	return a, nil
}

// Signals returns the deterministic fraud signals for Valorant stats
func (g *Valorant) Signals(raw *stats.RawStats) []fraud.Signal {
	signals := make([]fraud.Signal, 0)

	headshotRate := raw.HeadshotRate()
	recent := len(raw.RecentMatches)

	if raw.Kills >= minKillSample && headshotRate > 0.60 {
		signals = append(signals, signal(fraud.CategoryImplausiblePerformance, 40, FlagHeadshotRateImplausible))
	}

	signals = append(signals, winRateSignals(raw, raw.Rank == "" || valorantLadder.below(raw.Rank, "ASCENDANT"))...)

	if raw.Kills >= minKillSample && raw.KillDeathRatio() > 3 && headshotRate > 0.45 {
		signals = append(signals, signal(fraud.CategoryImplausiblePerformance, 30, FlagProfessionalAimProfile))
	}

	if raw.Headshots > raw.Kills {
		signals = append(signals, signal(fraud.CategoryInternalConsistency, 30, FlagHeadshotsExceedKills))
	}

	if recent >= minRecentMatchesSample && valorantLadder.atLeast(raw.Rank, "IMMORTAL") && raw.RecentKillDeathRatio() < 0.7 {
		signals = append(signals, signal(fraud.CategoryInternalConsistency, 30, FlagRankPerformanceMismatch))
	}

	if raw.AccountLevel < 20 && valorantLadder.atLeast(raw.Rank, "ASCENDANT") {
		signals = append(signals, signal(fraud.CategoryAccountCredibility, 25, FlagLowLevelHighRank))
	}

	return signals
}
