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

// Fraud flags raised by game profiles
const (
	FlagWinRateImplausible       = "win_rate_implausible"
	FlagHeadshotRateImplausible  = "headshot_rate_implausible"
	FlagProfessionalAimProfile   = "professional_aim_profile"
	FlagRecentKDAImplausible     = "recent_kda_implausible"
	FlagHeadshotsExceedKills     = "headshots_exceed_kills"
	FlagWinRateRankMismatch      = "win_rate_rank_mismatch"
	FlagRankPerformanceMismatch  = "rank_performance_mismatch"
	FlagRecentLifetimeDivergence = "recent_lifetime_kd_divergence"
	FlagLowLevelHighRank         = "low_level_high_rank"
	FlagNewAccountHighRank       = "new_account_high_rank"
)

// Shared sample thresholds
const (
	minRankedGamesSample   = 50
	minKillSample          = 500
	minRecentMatchesSample = 10
)

// Ranked win rate bands
const (
	implausibleWinRate = 0.95
	sustainedWinRate   = 0.80
)
