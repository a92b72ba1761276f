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

package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/stats"
)

// MaxScore is the fraud score ceiling
const MaxScore = 100

// Default thresholds and behavioral window
const (
	DefaultReviewThreshold        = 50
	DefaultRejectThreshold        = 70
	DefaultBehavioralWindow       = time.Hour * 24
	DefaultBehavioralAttemptLimit = 5

	behavioralWeight = 20
)

// Signal categories
const (
	CategoryImplausiblePerformance = "implausible_performance"
	CategoryInternalConsistency    = "internal_consistency"
	CategoryBehavioral             = "behavioral"
	CategoryAccountCredibility     = "account_credibility"
)

// FlagExcessiveAttempts is raised by the behavioral signal
const FlagExcessiveAttempts = "excessive_verification_attempts"

// ErrUntraceableSignal is returned when a signal contributes weight without a flag explaining it
var ErrUntraceableSignal = errors.New("fraud signal carries weight without a flag")

// Decision is the band a fraud score falls into
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReview Decision = "review"
	DecisionReject Decision = "reject"
)

// Signal is one independent, explainable risk contribution
type Signal struct {
	Category string `json:"category"`
	Weight   int    `json:"weight"`
	Flag     string `json:"flag"`
}

// Profile produces the deterministic signals for one game's stats
type Profile interface {
	Signals(raw *stats.RawStats) []Signal
}

// ProfileSource resolves the fraud profile for a game
type ProfileSource interface {
	Profile(game string) (Profile, error)
}

// AttemptHistory counts a user's verification attempts across all games
type AttemptHistory interface {
	CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Config tunes decision bands and the behavioral signal
type Config struct {
	ReviewThreshold        int
	RejectThreshold        int
	BehavioralWindow       time.Duration
	BehavioralAttemptLimit int
}

// DefaultConfig returns the stock fraud configuration
func DefaultConfig() Config {
	return Config{
		ReviewThreshold:        DefaultReviewThreshold,
		RejectThreshold:        DefaultRejectThreshold,
		BehavioralWindow:       DefaultBehavioralWindow,
		BehavioralAttemptLimit: DefaultBehavioralAttemptLimit,
	}
}

// Assessment is the capped score and the flags that produced it
type Assessment struct {
	Score   int      `json:"score"`
	Flags   []string `json:"flags"`
	Signals []Signal `json:"signals"`
}

// Engine scores stats for fraud risk
type Engine struct {
	config   Config
	history  AttemptHistory
	profiles ProfileSource
	now      func() time.Time
}

// NewEngine returns a fraud engine; history may be nil, which disables the behavioral signal
func NewEngine(profiles ProfileSource, history AttemptHistory, config Config) *Engine {
	if config.ReviewThreshold <= 0 {
		config.ReviewThreshold = DefaultReviewThreshold
	}
	if config.RejectThreshold <= 0 {
		config.RejectThreshold = DefaultRejectThreshold
	}
	if config.BehavioralWindow <= 0 {
		config.BehavioralWindow = DefaultBehavioralWindow
	}
	if config.BehavioralAttemptLimit <= 0 {
		config.BehavioralAttemptLimit = DefaultBehavioralAttemptLimit
	}

	return &Engine{
		config:   config,
		history:  history,
		profiles: profiles,
		now:      time.Now,
	}
}

// Score sums the game's signals plus the behavioral signal, capped at MaxScore
func (e *Engine) Score(ctx context.Context, game, account string, raw *stats.RawStats, userID string) (*Assessment, error) {
	if raw == nil {
		return nil, errors.New("no stats to score")
	}

	profile, err := e.profiles.Profile(game)
	if err != nil {
		return nil, err
	}

	signals := profile.Signals(raw)

	if e.history != nil {
		count, err := e.history.CountAttemptsSince(ctx, userID, e.now().Add(-e.config.BehavioralWindow))
		if err != nil {
			return nil, fmt.Errorf("failed to read verification attempt history for user %s; %w", userID, err)
		}
		if count > e.config.BehavioralAttemptLimit {
			signals = append(signals, Signal{
				Category: CategoryBehavioral,
				Weight:   behavioralWeight,
				Flag:     FlagExcessiveAttempts,
			})
		}
	}

	assessment := &Assessment{
		Flags:   make([]string, 0, len(signals)),
		Signals: make([]Signal, 0, len(signals)),
	}

	total := 0
	for _, signal := range signals {
		if signal.Weight == 0 {
			continue
		}
		if signal.Flag == "" {
			return nil, fmt.Errorf("%w; %s signal of weight %d", ErrUntraceableSignal, signal.Category, signal.Weight)
		}
		total += signal.Weight
		assessment.Signals = append(assessment.Signals, signal)
		assessment.Flags = append(assessment.Flags, signal.Flag)
	}

	if total < 0 {
		total = 0
	}
	if total > MaxScore {
		total = MaxScore
	}
	assessment.Score = total

	if len(assessment.Flags) > 0 {
		common.Log.Debugf("fraud score %d for %s account %s; flags: %v", total, game, account, assessment.Flags)
	}

	return assessment, nil
}

// Decide maps a score onto its band
func (e *Engine) Decide(score int) Decision {
	return Decide(score, e.config.ReviewThreshold, e.config.RejectThreshold)
}

// RejectThreshold returns the configured rejection threshold
func (e *Engine) RejectThreshold() int {
	return e.config.RejectThreshold
}

// Decide maps a score onto its band for the given thresholds
func Decide(score, reviewThreshold, rejectThreshold int) Decision {
	switch {
	case score >= rejectThreshold:
		return DecisionReject
	case score >= reviewThreshold:
		return DecisionReview
	default:
		return DecisionAccept
	}
}
