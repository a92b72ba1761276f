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
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is an ordinal skill classification
type Tier int

const (
	Novice Tier = iota
	Beginner
	Intermediate
	IntermediatePlus
	Advanced
	Expert
)

// Tiers lists every tier in ascending order
var Tiers = []Tier{Novice, Beginner, Intermediate, IntermediatePlus, Advanced, Expert}

var tierNames = map[Tier]string{
	Novice:           "Novice",
	Beginner:         "Beginner",
	Intermediate:     "Intermediate",
	IntermediatePlus: "Intermediate+",
	Advanced:         "Advanced",
	Expert:           "Expert",
}

// TierWidth is the numeric score span of one tier
const TierWidth = 15.0

// MaxScore is the upper bound of the numeric skill score
const MaxScore = 100.0

// tierFloors are the numeric score lower bounds; shared with leaderboard scoring through PointsTable
var tierFloors = [...]float64{0, 15, 30, 45, 60, 75}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(name string) (Tier, error) {
	for tier, n := range tierNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return tier, nil
		}
	}
	return Novice, fmt.Errorf("unknown skill tier: %s", name)
}

// TierForScore maps a numeric skill score onto its tier
func TierForScore(score float64) Tier {
	tier := Novice
	for i, floor := range tierFloors {
		if score >= floor {
			tier = Tier(i)
		}
	}
	return tier
}

// Floor returns the lowest numeric score of the tier
func (t Tier) Floor() float64 {
	if !t.Valid() {
		return 0
	}
	return tierFloors[t]
}

// MarshalJSON renders the tier by name
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses the tier by name
func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	tier, err := ParseTier(name)
	if err != nil {
		return err
	}
	*t = tier
	return nil
}
