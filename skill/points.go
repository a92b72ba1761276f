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
	"fmt"
)

// PointsTable converts a tier into the fixed point value credited to progress and leaderboards
type PointsTable map[Tier]int

// DefaultPointsTable is the stock tier point schedule
func DefaultPointsTable() PointsTable {
	return PointsTable{
		Novice:           50,
		Beginner:         100,
		Intermediate:     250,
		IntermediatePlus: 400,
		Advanced:         700,
		Expert:           1000,
	}
}

// NewPointsTable builds a table from tier names; every tier must be present and points
// may not decrease as tiers ascend
func NewPointsTable(byName map[string]int) (PointsTable, error) {
	table := PointsTable{}
	for name, points := range byName {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, err
		}
		table[tier] = points
	}

	prev := -1
	for _, tier := range Tiers {
		points, ok := table[tier]
		if !ok {
			return nil, fmt.Errorf("points table missing tier %s", tier)
		}
		if points < 0 || points < prev {
			return nil, fmt.Errorf("points table must be non-negative and non-decreasing; %s has %d", tier, points)
		}
		prev = points
	}

	return table, nil
}

// Points returns the point value of the tier
func (p PointsTable) Points(tier Tier) int {
	return p[tier]
}
