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
	"time"

	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/store"
)

// Outcome is the terminal state of a scored submission
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeUnderReview Outcome = "under_review"
	OutcomeRejected    Outcome = "rejected"
)

// SubmitParams identifies a claim: this user owns this game account and it qualifies for this quest
type SubmitParams struct {
	UserID  string `json:"-"`
	Game    string `json:"game"`
	Account string `json:"account"`
	QuestID string `json:"quest_id"`
}

// Result is returned to the submitter
type Result struct {
	Outcome    Outcome    `json:"outcome"`
	SkillTier  skill.Tier `json:"skill_tier"`
	FraudScore *int       `json:"fraud_score,omitempty"`
	Flags      []string   `json:"flags,omitempty"`
	ProofID    string     `json:"proof_id"`
	AttemptID  string     `json:"attempt_id"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// ReverifyResult reports the outcome of re-checking a verified proof
type ReverifyResult struct {
	ProofID          string   `json:"proof_id"`
	Verified         bool     `json:"verified"`
	Revoked          bool     `json:"revoked"`
	ConsistencyScore float64  `json:"consistency_score"`
	FraudScore       *int     `json:"fraud_score,omitempty"`
	Flags            []string `json:"flags,omitempty"`
	Commitment       string   `json:"commitment"`
}

// ReviewParams is a manual decision on a proof held for review
type ReviewParams struct {
	ProofID    string `json:"-"`
	ReviewerID string `json:"-"`
	Approve    bool   `json:"approve"`
	Note       string `json:"note,omitempty"`
}

// ProofView is the rendered form of a proof
type ProofView struct {
	ID                string     `json:"id"`
	QuestID           string     `json:"quest_id"`
	Game              string     `json:"game"`
	GameAccount       string     `json:"game_account"`
	APISource         string     `json:"api_source"`
	Status            string     `json:"status"`
	Verified          bool       `json:"verified"`
	NeedsManualReview bool       `json:"needs_manual_review"`
	SkillTier         string     `json:"skill_tier"`
	FraudScore        *int       `json:"fraud_score,omitempty"`
	Flags             []string   `json:"flags,omitempty"`
	VerificationHash  string     `json:"verification_hash"`
	Envelope          store.JSON `json:"envelope,omitempty"`
	ConsistencyScore  *float64   `json:"consistency_score,omitempty"`
	SubmittedAt       time.Time  `json:"submitted_at"`
	LastVerified      *time.Time `json:"last_verified,omitempty"`
	BlockchainTx      *string    `json:"blockchain_tx,omitempty"`
	Warnings          []string   `json:"warnings,omitempty"`
}

func (o *Orchestrator) fraudScore(score int) *int {
	if o.config.ConfidentialFraudScores {
		return nil
	}
	return &score
}

func (o *Orchestrator) flags(flags []string) []string {
	if !o.config.ExposeFraudFlags {
		return nil
	}
	return flags
}

func (o *Orchestrator) view(p *store.Proof) *ProofView {
	return &ProofView{
		ID:                p.ID,
		QuestID:           p.QuestID,
		Game:              p.Game,
		GameAccount:       p.GameAccount,
		APISource:         p.APISource,
		Status:            p.Status,
		Verified:          p.Verified,
		NeedsManualReview: p.NeedsManualReview,
		SkillTier:         p.SkillTier,
		FraudScore:        o.fraudScore(p.FraudScore),
		Flags:             o.flags(p.Flags),
		VerificationHash:  p.VerificationHash,
		Envelope:          p.Envelope,
		ConsistencyScore:  p.ConsistencyScore,
		SubmittedAt:       p.SubmittedAt,
		LastVerified:      p.LastVerified,
		BlockchainTx:      p.BlockchainTx,
	}
}
