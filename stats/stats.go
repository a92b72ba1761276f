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

// Supported game identifiers
const (
	GameLeagueOfLegends = "league_of_legends"
	GameValorant        = "valorant"
	GameCounterStrike   = "counter_strike"
)

// MatchSummary is a single recent match as reported upstream
type MatchSummary struct {
	Kills     int  `json:"kills"`
	Deaths    int  `json:"deaths"`
	Assists   int  `json:"assists"`
	Headshots int  `json:"headshots"`
	Score     int  `json:"score"` // combat score / creep score; game-specific
	Won       bool `json:"won"`
}

// RawStats is the normalized statistics payload returned by a game stats provider.
// Field order is part of the commitment serialization; append new fields at the end.
type RawStats struct {
	Rank           string         `json:"rank"`
	Division       int            `json:"division"`
	RankPoints     int            `json:"rank_points"`
	AccountLevel   int            `json:"account_level"`
	AccountAgeDays int            `json:"account_age_days"`
	RankedWins     int            `json:"ranked_wins"`
	RankedLosses   int            `json:"ranked_losses"`
	Kills          int            `json:"kills"`
	Deaths         int            `json:"deaths"`
	Assists        int            `json:"assists"`
	Headshots      int            `json:"headshots"`
	MatchesPlayed  int            `json:"matches_played"`
	RecentMatches  []MatchSummary `json:"recent_matches"`
}

// RankedGames returns the ranked sample size
func (s *RawStats) RankedGames() int {
	return s.RankedWins + s.RankedLosses
}

// WinRate returns the ranked win rate in [0,1]; zero without a sample
func (s *RawStats) WinRate() float64 {
	games := s.RankedGames()
	if games <= 0 {
		return 0
	}
	return float64(s.RankedWins) / float64(games)
}

// KillDeathRatio returns lifetime kills per death; deaths are floored at one
func (s *RawStats) KillDeathRatio() float64 {
	return ratio(s.Kills, s.Deaths)
}

// HeadshotRate returns the lifetime share of kills that were headshots
func (s *RawStats) HeadshotRate() float64 {
	if s.Kills <= 0 {
		return 0
	}
	return float64(s.Headshots) / float64(s.Kills)
}

// RecentKillDeathRatio returns kills per death across recent matches
func (s *RawStats) RecentKillDeathRatio() float64 {
	kills, deaths := 0, 0
	for _, m := range s.RecentMatches {
		kills += m.Kills
		deaths += m.Deaths
	}
	return ratio(kills, deaths)
}

// RecentKDA returns (kills + assists) per death across recent matches
func (s *RawStats) RecentKDA() float64 {
	ka, deaths := 0, 0
	for _, m := range s.RecentMatches {
		ka += m.Kills + m.Assists
		deaths += m.Deaths
	}
	return ratio(ka, deaths)
}

// RecentWinRate returns the win rate across recent matches
func (s *RawStats) RecentWinRate() float64 {
	if len(s.RecentMatches) == 0 {
		return 0
	}
	wins := 0
	for _, m := range s.RecentMatches {
		if m.Won {
			wins++
		}
	}
	return float64(wins) / float64(len(s.RecentMatches))
}

// RecentAverageScore returns the mean per-match score across recent matches
func (s *RawStats) RecentAverageScore() float64 {
	if len(s.RecentMatches) == 0 {
		return 0
	}
	total := 0
	for _, m := range s.RecentMatches {
		total += m.Score
	}
	return float64(total) / float64(len(s.RecentMatches))
}

func ratio(num, denom int) float64 {
	if denom < 1 {
		denom = 1
	}
	return float64(num) / float64(denom)
}
