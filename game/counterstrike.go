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
	"regexp"
	"strings"

	"github.com/provideplatform/questproof/fraud"
	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/stats"
)

// steamID64Pattern matches an individual-account SteamID64
var steamID64Pattern = regexp.MustCompile(`^7656119[0-9]{10}$`)

// premierBand is a CS Premier rating band; the ladder is keyed by rating rather than rank name
type premierBand struct {
	floor int
	base  float64
}

var premierBands = []premierBand{
	{0, 0},
	{5000, 10},
	{10000, 25},
	{15000, 40},
	{20000, 55},
	{25000, 68},
	{30000, 80},
}

const (
	premierRatingCeiling = 35000
	premierHighRating    = 25000
	premierCredibleFloor = 20000

	minAccountAgeDays = 30
	minSteamLevel     = 5
)

// CounterStrike verifies Counter-Strike accounts by SteamID64
type CounterStrike struct{}

// ID returns the game identifier
func (g *CounterStrike) ID() string {
	return stats.GameCounterStrike
}

// ValidateAccountFormat requires a 17 digit SteamID64
func (g *CounterStrike) ValidateAccountFormat(account string) bool {
	return steamID64Pattern.MatchString(strings.TrimSpace(account))
}

// Assess reads the premier rating into a skill assessment
func (g *CounterStrike) Assess(raw *stats.RawStats) (skill.Assessment, error) {
	rating := raw.RankPoints

	a := skill.Assessment{
		WinRate:     raw.WinRate(),
		RankedGames: raw.RankedGames(),
		Matches:     len(raw.RecentMatches),
	}

	if rating > 0 {
		for i, band := range premierBands {
			if rating < band.floor {
				break
			}
			a.Base = band.base
			ceiling := premierRatingCeiling
			if i+1 < len(premierBands) {
				ceiling = premierBands[i+1].floor
			}
			a.Subdivision = clamp01(float64(rating-band.floor) / float64(ceiling-band.floor))
		}
		a.Points = clamp01(float64(rating) / premierRatingCeiling)
	}

	if a.Matches > 0 {
		a.Performance = raw.RecentKillDeathRatio()
	}

	return a, nil
}

// Signals returns the deterministic fraud signals for Counter-Strike stats
func (g *CounterStrike) Signals(raw *stats.RawStats) []fraud.Signal {
	signals := make([]fraud.Signal, 0)

	headshotRate := raw.HeadshotRate()
	kd := raw.KillDeathRatio()
	recent := len(raw.RecentMatches)

	if raw.Kills >= minKillSample && headshotRate > 0.60 {
		signals = append(signals, signal(fraud.CategoryImplausiblePerformance, 40, FlagHeadshotRateImplausible))
	}

	if raw.Kills >= minKillSample && kd > 3 && headshotRate > 0.50 {
		signals = append(signals, signal(fraud.CategoryImplausiblePerformance, 30, FlagProfessionalAimProfile))
	}

	signals = append(signals, winRateSignals(raw, raw.RankPoints < premierCredibleFloor)...)

	if raw.Headshots > raw.Kills {
		signals = append(signals, signal(fraud.CategoryInternalConsistency, 30, FlagHeadshotsExceedKills))
	}

	if recent >= minRecentMatchesSample && raw.RankPoints >= premierHighRating && raw.RecentKillDeathRatio() < 0.7 {
		signals = append(signals, signal(fraud.CategoryInternalConsistency, 30, FlagRankPerformanceMismatch))
	}

	if recent >= minRecentMatchesSample && raw.Kills >= minKillSample && raw.Deaths > 0 {
		recentKD := raw.RecentKillDeathRatio()
		if recentKD > kd*3 || recentKD*3 < kd {
			signals = append(signals, signal(fraud.CategoryInternalConsistency, 30, FlagRecentLifetimeDivergence))
		}
	}

	if raw.RankPoints >= premierCredibleFloor {
		if raw.AccountAgeDays < minAccountAgeDays {
			signals = append(signals, signal(fraud.CategoryAccountCredibility, 25, FlagNewAccountHighRank))
		} else if raw.AccountLevel < minSteamLevel {
			signals = append(signals, signal(fraud.CategoryAccountCredibility, 25, FlagLowLevelHighRank))
		}
	}

	return signals
}
