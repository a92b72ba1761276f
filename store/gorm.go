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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/lib/pq"
	"github.com/provideplatform/questproof/common"
)

const pqUniqueViolation = "23505"

// GormStore persists to postgres through gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a store over the given connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

// Transact runs fn in a database transaction, committing only when fn returns nil
func (s *GormStore) Transact(ctx context.Context, fn func(tx Tx) error) (err error) {
	db := s.db.BeginTx(ctx, nil)
	if db.Error != nil {
		return fmt.Errorf("failed to begin transaction; %s", db.Error.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			db.Rollback()
			panic(r)
		}
		if err != nil {
			if rbErr := db.Rollback().Error; rbErr != nil {
				common.Log.Warningf("failed to rollback transaction; %s", rbErr.Error())
			}
		}
	}()

	if err = fn(&gormTx{db: db}); err != nil {
		return err
	}

	if err = db.Commit().Error; err != nil {
		return translateError(err)
	}
	return nil
}

type gormTx struct {
	db *gorm.DB
}

// translateError maps driver errors onto store sentinels
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrConflict
	}
	return err
}

func (t *gormTx) CreateAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	return translateError(t.db.Create(attempt).Error)
}

func (t *gormTx) Attempt(ctx context.Context, attemptID string) (*VerificationAttempt, error) {
	attempt := &VerificationAttempt{}
	if err := t.db.Where("id = ?", attemptID).First(attempt).Error; err != nil {
		return nil, translateError(err)
	}
	return attempt, nil
}

func (t *gormTx) ResolveAttempt(ctx context.Context, attemptID, outcome string, fraudScore *int, errMsg *string) error {
	if outcome != "" {
		updates := map[string]interface{}{
			"outcome": outcome,
		}
		if fraudScore != nil {
			updates["fraud_score"] = *fraudScore
		}
		if errMsg != nil {
			updates["error"] = *errMsg
		}

		result := t.db.Model(&VerificationAttempt{}).
			Where("id = ? AND outcome = ?", attemptID, AttemptOutcomePending).
			Updates(updates)
		if result.Error != nil {
			return translateError(result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
	}

	attempt, err := t.Attempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if outcome != "" && attempt.Outcome != outcome {
		return ErrOutcomeFinal
	}
	if errMsg == nil || attempt.Error != nil {
		return nil
	}

	return translateError(t.db.Model(&VerificationAttempt{}).
		Where("id = ? AND error IS NULL", attemptID).
		Update("error", *errMsg).Error)
}

func (t *gormTx) CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := t.db.Model(&VerificationAttempt{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, translateError(err)
}

func (t *gormTx) CreateProof(ctx context.Context, proof *Proof) error {
	return translateError(t.db.Create(proof).Error)
}

func (t *gormTx) UpdateProof(ctx context.Context, proof *Proof) error {
	result := t.db.Save(proof)
	return translateError(result.Error)
}

func (t *gormTx) Proof(ctx context.Context, proofID string) (*Proof, error) {
	proof := &Proof{}
	if err := t.db.Where("id = ?", proofID).First(proof).Error; err != nil {
		return nil, translateError(err)
	}
	return proof, nil
}

func (t *gormTx) ProofForUpdate(ctx context.Context, proofID string) (*Proof, error) {
	proof := &Proof{}
	err := t.db.Set("gorm:query_option", "FOR UPDATE").
		Where("id = ?", proofID).
		First(proof).Error
	if err != nil {
		return nil, translateError(err)
	}
	return proof, nil
}

func (t *gormTx) VerifiedProof(ctx context.Context, userID, questID string) (*Proof, error) {
	proof := &Proof{}
	err := t.db.Where("user_id = ? AND quest_id = ? AND verified = true", userID, questID).
		First(proof).Error
	if err != nil {
		return nil, translateError(err)
	}
	return proof, nil
}

func (t *gormTx) Progress(ctx context.Context, userID, questID string) (*ProgressRecord, error) {
	record := &ProgressRecord{}
	err := t.db.Set("gorm:query_option", "FOR UPDATE").
		Where("user_id = ? AND quest_id = ?", userID, questID).
		First(record).Error
	if err != nil {
		return nil, translateError(err)
	}
	return record, nil
}

func (t *gormTx) SaveProgress(ctx context.Context, record *ProgressRecord) error {
	err := t.db.Exec(
		`INSERT INTO progress_records (user_id, quest_id, status, score, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, quest_id) DO UPDATE
		 SET status = EXCLUDED.status, score = EXCLUDED.score, completed_at = EXCLUDED.completed_at, updated_at = EXCLUDED.updated_at`,
		record.UserID, record.QuestID, record.Status, record.Score, record.CompletedAt, record.UpdatedAt,
	).Error
	return translateError(err)
}

func (t *gormTx) IncrementLeaderboard(ctx context.Context, userID, worldID string, delta int64, at time.Time) error {
	err := t.db.Exec(
		`INSERT INTO leaderboard_entries (user_id, world_id, score, last_updated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, world_id) DO UPDATE
		 SET score = leaderboard_entries.score + EXCLUDED.score, last_updated = EXCLUDED.last_updated`,
		userID, worldID, delta, at,
	).Error
	return translateError(err)
}

func (t *gormTx) LeaderboardEntry(ctx context.Context, userID, worldID string) (*LeaderboardEntry, error) {
	entry := &LeaderboardEntry{}
	err := t.db.Where("user_id = ? AND world_id = ?", userID, worldID).First(entry).Error
	if err != nil {
		return nil, translateError(err)
	}
	return entry, nil
}

func (t *gormTx) Leaderboard(ctx context.Context, worldID string, limit int) ([]*LeaderboardEntry, error) {
	entries := make([]*LeaderboardEntry, 0)
	query := t.db.Where("world_id = ?", worldID).Order("score DESC, last_updated ASC, user_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}
