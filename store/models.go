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

package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// VerificationAttempt outcomes; an outcome leaves pending at most once
const (
	AttemptOutcomePending  = "pending"
	AttemptOutcomeSuccess  = "success"
	AttemptOutcomeRejected = "rejected"
	AttemptOutcomeErrored  = "errored"
)

// Proof statuses
const (
	ProofStatusAccepted    = "accepted"
	ProofStatusUnderReview = "under_review"
	ProofStatusRejected    = "rejected"
	ProofStatusRevoked     = "revoked"
)

// ProgressRecord statuses
const (
	ProgressStatusNotStarted = "not_started"
	ProgressStatusInProgress = "in_progress"
	ProgressStatusCompleted  = "completed"
	ProgressStatusVerified   = "verified"
)

// VerificationAttempt is the audit record of one submission; created before any external fetch
type VerificationAttempt struct {
	ID          string    `gorm:"primary_key" sql:"type:uuid" json:"id"`
	UserID      string    `sql:"not null" json:"user_id"`
	Game        string    `sql:"not null" json:"game"`
	GameAccount string    `sql:"not null" json:"game_account"`
	QuestID     string    `sql:"not null" json:"quest_id"`
	Outcome     string    `sql:"not null;default:'pending'" json:"outcome"`
	FraudScore  *int      `json:"fraud_score,omitempty"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `sql:"not null" json:"created_at"`
}

// Proof is the persisted result of a scored verification
type Proof struct {
	ID                string         `gorm:"primary_key" sql:"type:uuid" json:"id"`
	AttemptID         string         `sql:"type:uuid;not null" json:"attempt_id"`
	UserID            string         `sql:"not null" json:"user_id"`
	QuestID           string         `sql:"not null" json:"quest_id"`
	Game              string         `sql:"not null" json:"game"`
	GameAccount       string         `sql:"not null" json:"game_account"`
	APISource         string         `gorm:"column:api_source" sql:"not null" json:"api_source"`
	RawStats          JSON           `sql:"type:jsonb" json:"raw_stats"`
	FraudScore        int            `sql:"not null" json:"fraud_score"`
	Flags             pq.StringArray `sql:"type:text[]" json:"flags"`
	SkillTier         string         `sql:"not null" json:"skill_tier"`
	VerificationHash  string         `sql:"not null" json:"verification_hash"`
	Envelope          JSON           `sql:"type:jsonb" json:"envelope"`
	Status            string         `sql:"not null" json:"status"`
	Verified          bool           `sql:"not null;default:false" json:"verified"`
	NeedsManualReview bool           `sql:"not null;default:false" json:"needs_manual_review"`
	ConsistencyScore  *float64       `json:"consistency_score,omitempty"`
	ReviewedBy        *string        `json:"reviewed_by,omitempty"`
	ReviewNote        *string        `json:"review_note,omitempty"`
	SubmittedAt       time.Time      `sql:"not null" json:"submitted_at"`
	LastVerified      *time.Time     `json:"last_verified,omitempty"`
	BlockchainTx      *string        `json:"blockchain_tx,omitempty"`
}

// ProgressRecord is a user's standing on a quest
type ProgressRecord struct {
	UserID      string     `gorm:"primary_key" json:"user_id"`
	QuestID     string     `gorm:"primary_key" json:"quest_id"`
	Status      string     `sql:"not null;default:'not_started'" json:"status"`
	Score       int        `sql:"not null;default:0" json:"score"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LeaderboardEntry is a user's running score within a world
type LeaderboardEntry struct {
	UserID      string    `gorm:"primary_key" json:"user_id"`
	WorldID     string    `gorm:"primary_key" json:"world_id"`
	Score       int64     `sql:"not null;default:0" json:"score"`
	LastUpdated time.Time `json:"last_updated"`
}

// JSON is a raw json document persisted as jsonb
type JSON []byte

// Value implements driver.Valuer; jsonb columns expect text, not bytea
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner
func (j *JSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return errors.New("unsupported json column type")
	}
	return nil
}

// MarshalJSON embeds the raw document
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON keeps the raw document
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// MarshalJSONValue encodes v as a JSON column value
func MarshalJSONValue(v interface{}) (JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSON(raw), nil
}

func (a *VerificationAttempt) clone() *VerificationAttempt {
	c := *a
	if a.FraudScore != nil {
		score := *a.FraudScore
		c.FraudScore = &score
	}
	if a.Error != nil {
		msg := *a.Error
		c.Error = &msg
	}
	return &c
}

func (p *Proof) clone() *Proof {
	c := *p
	c.RawStats = append(JSON(nil), p.RawStats...)
	c.Envelope = append(JSON(nil), p.Envelope...)
	c.Flags = append(pq.StringArray(nil), p.Flags...)
	if p.ConsistencyScore != nil {
		v := *p.ConsistencyScore
		c.ConsistencyScore = &v
	}
	if p.ReviewedBy != nil {
		v := *p.ReviewedBy
		c.ReviewedBy = &v
	}
	if p.ReviewNote != nil {
		v := *p.ReviewNote
		c.ReviewNote = &v
	}
	if p.LastVerified != nil {
		v := *p.LastVerified
		c.LastVerified = &v
	}
	if p.BlockchainTx != nil {
		v := *p.BlockchainTx
		c.BlockchainTx = &v
	}
	return &c
}

func (r *ProgressRecord) clone() *ProgressRecord {
	c := *r
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func (e *LeaderboardEntry) clone() *LeaderboardEntry {
	c := *e
	return &c
}
