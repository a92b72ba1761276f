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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/store"
)

// ErrInvalidTransition is returned for a progress change the status order does not allow
var ErrInvalidTransition = errors.New("invalid progress transition")

var statusRank = map[string]int{
	store.ProgressStatusNotStarted: 0,
	store.ProgressStatusInProgress: 1,
	store.ProgressStatusCompleted:  2,
	store.ProgressStatusVerified:   3,
}

// Ledger owns quest progress and the per-world leaderboard
type Ledger struct {
	points skill.PointsTable
	store  store.Store
	now    func() time.Time
}

// New returns a ledger scoring tiers with the given points table
func New(s store.Store, points skill.PointsTable) *Ledger {
	if points == nil {
		points = skill.DefaultPointsTable()
	}
	return &Ledger{
		points: points,
		store:  s,
		now:    time.Now,
	}
}

// Points returns the point value of a tier
func (l *Ledger) Points(tier skill.Tier) int {
	return l.points.Points(tier)
}

// ApplyScore marks the quest verified for the user, raising its score to the tier's points,
// and credits any increase to the world leaderboard; returns the leaderboard delta
func (l *Ledger) ApplyScore(ctx context.Context, tx store.Tx, userID, questID, worldID string, tier skill.Tier) (int, error) {
	if !tier.Valid() {
		return 0, fmt.Errorf("invalid skill tier: %d", int(tier))
	}

	now := l.now()
	points := l.points.Points(tier)

	record, err := l.progress(ctx, tx, userID, questID)
	if err != nil {
		return 0, err
	}

	delta := points - record.Score
	if delta < 0 {
		delta = 0
	}
	if points > record.Score {
		record.Score = points
	}

	record.Status = store.ProgressStatusVerified
	if record.CompletedAt == nil {
		record.CompletedAt = &now
	}
	record.UpdatedAt = now

	if err := tx.SaveProgress(ctx, record); err != nil {
		return 0, fmt.Errorf("failed to save progress for user %s on quest %s; %w", userID, questID, err)
	}

	if err := l.Accumulate(ctx, tx, userID, worldID, delta); err != nil {
		return 0, err
	}

	common.Log.Debugf("applied %s score of %d points for user %s on quest %s; leaderboard delta %d", tier, points, userID, questID, delta)
	return delta, nil
}

// Accumulate adds a non-negative delta to the user's score in the world
func (l *Ledger) Accumulate(ctx context.Context, tx store.Tx, userID, worldID string, delta int) error {
	if delta < 0 {
		return fmt.Errorf("leaderboard is append-only; refusing delta %d", delta)
	}
	if delta == 0 {
		return nil
	}
	if err := tx.IncrementLeaderboard(ctx, userID, worldID, int64(delta), l.now()); err != nil {
		return fmt.Errorf("failed to accumulate leaderboard score for user %s in world %s; %w", userID, worldID, err)
	}
	return nil
}

// MarkInProgress moves the quest to in_progress unless it has already advanced further
func (l *Ledger) MarkInProgress(ctx context.Context, tx store.Tx, userID, questID string) error {
	record, err := l.progress(ctx, tx, userID, questID)
	if err != nil {
		return err
	}
	if statusRank[record.Status] >= statusRank[store.ProgressStatusInProgress] {
		return nil
	}
	record.Status = store.ProgressStatusInProgress
	record.UpdatedAt = l.now()
	return tx.SaveProgress(ctx, record)
}

// Revoke demotes a verified quest to completed; scores already credited stay on the leaderboard
func (l *Ledger) Revoke(ctx context.Context, tx store.Tx, userID, questID string) error {
	record, err := l.progress(ctx, tx, userID, questID)
	if err != nil {
		return err
	}
	if record.Status != store.ProgressStatusVerified {
		return nil
	}
	record.Status = store.ProgressStatusCompleted
	record.UpdatedAt = l.now()
	return tx.SaveProgress(ctx, record)
}

// Abandon resets an in_progress or completed quest to not_started. The score already credited to
// the leaderboard is kept as the baseline, so re-verifying the quest only credits an increase
func (l *Ledger) Abandon(ctx context.Context, tx store.Tx, userID, questID string) (*store.ProgressRecord, error) {
	record, err := l.progress(ctx, tx, userID, questID)
	if err != nil {
		return nil, err
	}

	switch record.Status {
	case store.ProgressStatusInProgress, store.ProgressStatusCompleted:
	default:
		return nil, fmt.Errorf("%w; cannot abandon quest %s from status %s", ErrInvalidTransition, questID, record.Status)
	}

	record.Status = store.ProgressStatusNotStarted
	record.CompletedAt = nil
	record.UpdatedAt = l.now()
	if err := tx.SaveProgress(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Progress returns the user's standing on the quest; a quest never touched is not_started
func (l *Ledger) Progress(ctx context.Context, userID, questID string) (*store.ProgressRecord, error) {
	var record *store.ProgressRecord
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		var err error
		record, err = l.progress(ctx, tx, userID, questID)
		return err
	})
	return record, err
}

// Leaderboard returns the world's entries ranked by score
func (l *Ledger) Leaderboard(ctx context.Context, worldID string, limit int) ([]*store.LeaderboardEntry, error) {
	var entries []*store.LeaderboardEntry
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.Leaderboard(ctx, worldID, limit)
		return err
	})
	return entries, err
}

func (l *Ledger) progress(ctx context.Context, tx store.Tx, userID, questID string) (*store.ProgressRecord, error) {
	record, err := tx.Progress(ctx, userID, questID)
	if errors.Is(err, store.ErrNotFound) {
		return &store.ProgressRecord{
			UserID:  userID,
			QuestID: questID,
			Status:  store.ProgressStatusNotStarted,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for user %s on quest %s; %w", userID, questID, err)
	}
	return record, nil
}
