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
	"sort"
	"sync"
	"time"
)

type progressKey struct {
	userID  string
	questID string
}

type leaderboardKey struct {
	userID  string
	worldID string
}

type memoryState struct {
	attempts    map[string]*VerificationAttempt
	proofs      map[string]*Proof
	progress    map[progressKey]*ProgressRecord
	leaderboard map[leaderboardKey]*LeaderboardEntry
}

func newMemoryState() *memoryState {
	return &memoryState{
		attempts:    map[string]*VerificationAttempt{},
		proofs:      map[string]*Proof{},
		progress:    map[progressKey]*ProgressRecord{},
		leaderboard: map[leaderboardKey]*LeaderboardEntry{},
	}
}

// memoryJournal holds the prior value of every key a transaction touches; nil means the key was absent
type memoryJournal struct {
	attempts    map[string]*VerificationAttempt
	proofs      map[string]*Proof
	progress    map[progressKey]*ProgressRecord
	leaderboard map[leaderboardKey]*LeaderboardEntry
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{
		attempts:    map[string]*VerificationAttempt{},
		proofs:      map[string]*Proof{},
		progress:    map[progressKey]*ProgressRecord{},
		leaderboard: map[leaderboardKey]*LeaderboardEntry{},
	}
}

func (j *memoryJournal) rollback(s *memoryState) {
	for k, v := range j.attempts {
		if v == nil {
			delete(s.attempts, k)
		} else {
			s.attempts[k] = v
		}
	}
	for k, v := range j.proofs {
		if v == nil {
			delete(s.proofs, k)
		} else {
			s.proofs[k] = v
		}
	}
	for k, v := range j.progress {
		if v == nil {
			delete(s.progress, k)
		} else {
			s.progress[k] = v
		}
	}
	for k, v := range j.leaderboard {
		if v == nil {
			delete(s.leaderboard, k)
		} else {
			s.leaderboard[k] = v
		}
	}
}

// MemoryStore is a process-local store; transactions are serialized and rolled back by
// restoring the prior values of the keys they wrote
type MemoryStore struct {
	mutex sync.Mutex
	state *memoryState
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newMemoryState(),
	}
}

// Transact runs fn under the store lock; the Tx must not be retained after fn returns
func (s *MemoryStore) Transact(ctx context.Context, fn func(tx Tx) error) (err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	journal := newMemoryJournal()
	defer func() {
		if r := recover(); r != nil {
			journal.rollback(s.state)
			panic(r)
		}
		if err != nil {
			journal.rollback(s.state)
		}
	}()

	return fn(&memoryTx{state: s.state, journal: journal})
}

// PruneAttempts drops resolved attempts created before the cutoff and returns how many were
// dropped; pending attempts are kept whatever their age
func (s *MemoryStore) PruneAttempts(ctx context.Context, before time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pruned := 0
	for id, attempt := range s.state.attempts {
		if attempt.Outcome != AttemptOutcomePending && attempt.CreatedAt.Before(before) {
			delete(s.state.attempts, id)
			pruned++
		}
	}
	return pruned, nil
}

type memoryTx struct {
	state   *memoryState
	journal *memoryJournal
}

func (t *memoryTx) touchAttempt(id string) {
	if _, seen := t.journal.attempts[id]; seen {
		return
	}
	var prior *VerificationAttempt
	if attempt, ok := t.state.attempts[id]; ok {
		prior = attempt.clone()
	}
	t.journal.attempts[id] = prior
}

func (t *memoryTx) touchProof(id string) {
	if _, seen := t.journal.proofs[id]; !seen {
		t.journal.proofs[id] = t.state.proofs[id]
	}
}

func (t *memoryTx) touchProgress(key progressKey) {
	if _, seen := t.journal.progress[key]; !seen {
		t.journal.progress[key] = t.state.progress[key]
	}
}

func (t *memoryTx) touchLeaderboard(key leaderboardKey) {
	if _, seen := t.journal.leaderboard[key]; seen {
		return
	}
	var prior *LeaderboardEntry
	if entry, ok := t.state.leaderboard[key]; ok {
		prior = entry.clone()
	}
	t.journal.leaderboard[key] = prior
}

func (t *memoryTx) CreateAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	if _, exists := t.state.attempts[attempt.ID]; exists {
		return ErrConflict
	}
	t.touchAttempt(attempt.ID)
	t.state.attempts[attempt.ID] = attempt.clone()
	return nil
}

func (t *memoryTx) Attempt(ctx context.Context, attemptID string) (*VerificationAttempt, error) {
	attempt, ok := t.state.attempts[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	return attempt.clone(), nil
}

func (t *memoryTx) ResolveAttempt(ctx context.Context, attemptID, outcome string, fraudScore *int, errMsg *string) error {
	attempt, ok := t.state.attempts[attemptID]
	if !ok {
		return ErrNotFound
	}
	t.touchAttempt(attemptID)

	if outcome == "" || attempt.Outcome != AttemptOutcomePending {
		if outcome != "" && outcome != attempt.Outcome {
			return ErrOutcomeFinal
		}
		if errMsg != nil && attempt.Error == nil {
			msg := *errMsg
			attempt.Error = &msg
		}
		return nil
	}

	attempt.Outcome = outcome
	if fraudScore != nil {
		score := *fraudScore
		attempt.FraudScore = &score
	}
	if errMsg != nil {
		msg := *errMsg
		attempt.Error = &msg
	}
	return nil
}

func (t *memoryTx) CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	count := 0
	for _, attempt := range t.state.attempts {
		if attempt.UserID == userID && !attempt.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) verifiedConflict(proof *Proof) bool {
	if !proof.Verified {
		return false
	}
	for id, existing := range t.state.proofs {
		if id != proof.ID && existing.Verified && existing.UserID == proof.UserID && existing.QuestID == proof.QuestID {
			return true
		}
	}
	return false
}

func (t *memoryTx) CreateProof(ctx context.Context, proof *Proof) error {
	if _, exists := t.state.proofs[proof.ID]; exists {
		return ErrConflict
	}
	if t.verifiedConflict(proof) {
		return ErrConflict
	}
	t.touchProof(proof.ID)
	t.state.proofs[proof.ID] = proof.clone()
	return nil
}

func (t *memoryTx) UpdateProof(ctx context.Context, proof *Proof) error {
	if _, exists := t.state.proofs[proof.ID]; !exists {
		return ErrNotFound
	}
	if t.verifiedConflict(proof) {
		return ErrConflict
	}
	t.touchProof(proof.ID)
	t.state.proofs[proof.ID] = proof.clone()
	return nil
}

func (t *memoryTx) Proof(ctx context.Context, proofID string) (*Proof, error) {
	proof, ok := t.state.proofs[proofID]
	if !ok {
		return nil, ErrNotFound
	}
	return proof.clone(), nil
}

func (t *memoryTx) ProofForUpdate(ctx context.Context, proofID string) (*Proof, error) {
	return t.Proof(ctx, proofID)
}

func (t *memoryTx) VerifiedProof(ctx context.Context, userID, questID string) (*Proof, error) {
	for _, proof := range t.state.proofs {
		if proof.Verified && proof.UserID == userID && proof.QuestID == questID {
			return proof.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) Progress(ctx context.Context, userID, questID string) (*ProgressRecord, error) {
	record, ok := t.state.progress[progressKey{userID, questID}]
	if !ok {
		return nil, ErrNotFound
	}
	return record.clone(), nil
}

func (t *memoryTx) SaveProgress(ctx context.Context, record *ProgressRecord) error {
	key := progressKey{record.UserID, record.QuestID}
	t.touchProgress(key)
	t.state.progress[key] = record.clone()
	return nil
}

func (t *memoryTx) IncrementLeaderboard(ctx context.Context, userID, worldID string, delta int64, at time.Time) error {
	key := leaderboardKey{userID, worldID}
	t.touchLeaderboard(key)
	entry, ok := t.state.leaderboard[key]
	if !ok {
		entry = &LeaderboardEntry{
			UserID:  userID,
			WorldID: worldID,
		}
		t.state.leaderboard[key] = entry
	}
	entry.Score += delta
	entry.LastUpdated = at
	return nil
}

func (t *memoryTx) LeaderboardEntry(ctx context.Context, userID, worldID string) (*LeaderboardEntry, error) {
	entry, ok := t.state.leaderboard[leaderboardKey{userID, worldID}]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.clone(), nil
}

func (t *memoryTx) Leaderboard(ctx context.Context, worldID string, limit int) ([]*LeaderboardEntry, error) {
	entries := make([]*LeaderboardEntry, 0)
	for _, entry := range t.state.leaderboard {
		if entry.WorldID == worldID {
			entries = append(entries, entry.clone())
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].LastUpdated.Equal(entries[j].LastUpdated) {
			return entries[i].LastUpdated.Before(entries[j].LastUpdated)
		}
		return entries[i].UserID < entries[j].UserID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
